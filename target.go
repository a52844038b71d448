package domguard

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/domguard/internal/browser"
	"github.com/hazyhaar/domguard/internal/cdpdom"
	"github.com/hazyhaar/domguard/internal/dom"
)

// target is one live page a coordinator runs against.
type target interface {
	Document() dom.Document
	// OnNavigate registers the host navigation signal.
	OnNavigate(fn func())
	Navigate(ctx context.Context, url string) error
	Close() error
}

// opener creates a target for a page. ctx bounds the target's lifetime.
type opener func(ctx context.Context, p PageConfig) (target, error)

// tabTarget is a browser tab tracked over CDP.
type tabTarget struct {
	tab *browser.Tab
	doc *cdpdom.Document
}

func (t *tabTarget) Document() dom.Document { return t.doc }
func (t *tabTarget) OnNavigate(fn func())   { t.doc.OnNavigate(fn) }

func (t *tabTarget) Navigate(ctx context.Context, url string) error {
	return t.tab.Navigate(ctx, url)
}

func (t *tabTarget) Close() error {
	t.doc.Close()
	return t.tab.Close()
}

func tabOpener(mgr *browser.Manager, batch BatchConfig, logger *slog.Logger) opener {
	return func(ctx context.Context, p PageConfig) (target, error) {
		level, err := browser.ParseStealth(p.StealthLevel)
		if err != nil {
			return nil, err
		}
		tab, err := browser.OpenTab(ctx, mgr, p.ID, p.URL, level)
		if err != nil {
			return nil, fmt.Errorf("domguard: open tab: %w", err)
		}
		doc, err := cdpdom.New(ctx, tab.Page, cdpdom.Options{
			BatchWindow: batch.Window,
			BatchMax:    batch.MaxBuffer,
			Logger:      logger.With("page_id", p.ID),
		})
		if err != nil {
			tab.Close()
			return nil, fmt.Errorf("domguard: track dom: %w", err)
		}
		return &tabTarget{tab: tab, doc: doc}, nil
	}
}
