package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds a navigation, load included.
const NavigateTimeout = 30 * time.Second

// Tab is one guarded page.
type Tab struct {
	Page    *rod.Page
	PageID  string
	Stealth StealthLevel

	router *rod.HijackRouter
	log    func(msg string, args ...any)
}

// OpenTab creates a tab with stealth patches applied and resource blocking
// installed, then navigates it to pageURL.
func OpenTab(ctx context.Context, mgr *Manager, pageID, pageURL string, level StealthLevel) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if level == 0 {
		level = mgr.cfg.Stealth
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	t := &Tab{Page: page, PageID: pageID, Stealth: level, log: mgr.cfg.Logger.Warn}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}

	if err := t.Navigate(ctx, pageURL); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// Navigate loads url in the tab. A load that does not finish in time is
// logged, not returned: the page is usable before every resource arrives.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	p := t.Page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.log("browser: wait load", "page_id", t.PageID, "url", url, "error", err)
	}
	return nil
}

// URL returns the current document URL.
func (t *Tab) URL(ctx context.Context) string {
	info, err := proto.TargetGetTargetInfo{TargetID: t.Page.TargetID}.Call(t.Page.Context(ctx))
	if err != nil {
		return ""
	}
	return info.TargetInfo.URL
}

// Close stops resource blocking and closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		_ = t.router.Stop()
		t.router = nil
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
