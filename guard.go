// Package domguard keeps one kind of element out of live pages. A Guard
// drives a Chrome instance and runs one watcher coordinator per page: a
// poller and a mutation observer that find the target element and remove
// or hide it, restarted on every navigation.
//
// Suppression events go to sinks (stdout, webhook, SQLite, callback). The
// Guard is controlled from configuration, a SQLite page table, HTTP or MCP.
package domguard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/domguard/internal/browser"
	"github.com/hazyhaar/domguard/internal/coordinator"
	"github.com/hazyhaar/domguard/internal/matcher"
	"github.com/hazyhaar/domguard/internal/sink"
	"github.com/hazyhaar/domguard/internal/suppress"
	"github.com/hazyhaar/domguard/signature"
)

// ErrUnknownPage is returned for a page ID that is not guarded.
var ErrUnknownPage = errors.New("domguard: unknown page")

// Stats is a point-in-time view of one page's coordinator.
type Stats = coordinator.Stats

// PageStatus describes one guarded page.
type PageStatus struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Stealth   string    `json:"stealth_level,omitempty"`
	GuardedAt time.Time `json:"guarded_at"`
	Stats     Stats     `json:"stats"`
}

// Guard is the top-level orchestrator. Create one per process.
type Guard struct {
	cfg      *Config
	matcher  *matcher.Matcher
	strategy suppress.Strategy
	sinkR    *sink.Router
	events   eventLog
	mgr      *browser.Manager
	open     opener
	logger   *slog.Logger

	mu        sync.Mutex
	ctx       context.Context
	pages     map[string]*guarded
	suspended []PageConfig
	stopped   bool
}

type guarded struct {
	cfg    PageConfig
	target target
	coord  *coordinator.Coordinator
	cancel context.CancelFunc
	since  time.Time
}

// New creates a Guard from configuration. The target signature and the
// strategy are validated here.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Guard, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()

	sig, err := signature.New(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("domguard: target: %w", err)
	}
	m, err := matcher.New(sig)
	if err != nil {
		return nil, fmt.Errorf("domguard: target: %w", err)
	}
	strategy, err := suppress.ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}

	g := &Guard{
		cfg:      cfg,
		matcher:  m,
		strategy: strategy,
		sinkR:    sink.NewRouter(logger, sinks...),
		logger:   logger,
		pages:    make(map[string]*guarded),
	}
	for _, s := range sinks {
		if l, ok := s.(eventLog); ok {
			g.events = l
			break
		}
	}
	return g, nil
}

// Signature returns the target signature.
func (g *Guard) Signature() signature.Signature { return g.matcher.Signature() }

// Start launches the browser and guards every configured page. A page that
// fails to open is logged and skipped.
func (g *Guard) Start(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	needBrowser := g.open == nil
	g.mu.Unlock()

	if needBrowser {
		stealth, err := browser.ParseStealth(g.cfg.Browser.Stealth)
		if err != nil {
			return err
		}
		g.mgr = browser.NewManager(browser.Config{
			RemoteURL:        g.cfg.Browser.Remote,
			MemoryLimit:      g.cfg.Browser.MemoryLimit,
			RecycleInterval:  g.cfg.Browser.RecycleInterval,
			ResourceBlocking: g.cfg.Browser.ResourceBlocking,
			Stealth:          stealth,
			XvfbDisplay:      g.cfg.Browser.XvfbDisplay,
			Logger:           g.logger,
		})
		if _, err := g.mgr.Start(ctx); err != nil {
			return fmt.Errorf("domguard: start browser: %w", err)
		}
		g.mgr.SetRecycleHooks(browser.RecycleHooks{
			Before: g.suspend,
			After:  func(*rod.Browser) { g.resume() },
		})
		g.mu.Lock()
		g.open = tabOpener(g.mgr, g.cfg.Batch, g.logger)
		g.mu.Unlock()
	}

	for _, p := range g.cfg.Pages {
		if err := g.GuardPage(ctx, p); err != nil {
			g.logger.Error("domguard: guard page failed", "page_id", p.ID, "url", p.URL, "error", err)
		}
	}
	return nil
}

// GuardPage opens a page and activates a coordinator on it. Guarding an
// already guarded page with the same URL is a no-op; a different URL
// replaces it.
func (g *Guard) GuardPage(ctx context.Context, p PageConfig) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("domguard: page needs id and url")
	}
	if p.StealthLevel == "" {
		p.StealthLevel = g.cfg.Browser.Stealth
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped || g.open == nil {
		return fmt.Errorf("domguard: not running")
	}
	if cur, ok := g.pages[p.ID]; ok {
		if cur.cfg.URL == p.URL {
			return nil
		}
		g.releaseLocked(p.ID, cur)
	}
	return g.guardLocked(p)
}

func (g *Guard) guardLocked(p PageConfig) error {
	pctx, cancel := context.WithCancel(g.ctx)
	t, err := g.open(pctx, p)
	if err != nil {
		cancel()
		return err
	}

	log := g.logger.With("page_id", p.ID)
	sup := suppress.New(t.Document(), suppress.Options{
		Strategy: g.strategy,
		PageID:   p.ID,
		PageURL:  p.URL,
		Sink:     g.sinkR,
		Logger:   log,
	})
	coord := coordinator.New(pctx, t.Document(), g.matcher.Clone(), sup, coordinator.Options{
		Period: g.cfg.PollPeriod,
		Logger: log,
	})
	t.OnNavigate(coord.OnNavigationSignal)
	coord.OnActivate()

	g.pages[p.ID] = &guarded{cfg: p, target: t, coord: coord, cancel: cancel, since: time.Now()}
	g.logger.Info("domguard: guarding page", "page_id", p.ID, "url", p.URL, "strategy", string(g.strategy))
	return nil
}

// Navigate loads url in a guarded page. The coordinator restarts on the
// resulting navigation signal.
func (g *Guard) Navigate(ctx context.Context, id, url string) error {
	g.mu.Lock()
	gp, ok := g.pages[id]
	if ok {
		gp.cfg.URL = url
	}
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	return gp.target.Navigate(ctx, url)
}

// Release tears the page's coordinator down and closes the page.
func (g *Guard) Release(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	gp, ok := g.pages[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPage, id)
	}
	g.releaseLocked(id, gp)
	return nil
}

func (g *Guard) releaseLocked(id string, gp *guarded) {
	delete(g.pages, id)
	gp.coord.OnDeactivate()
	gp.cancel()
	if err := gp.target.Close(); err != nil {
		g.logger.Debug("domguard: close page", "page_id", id, "error", err)
	}
	g.logger.Info("domguard: released page", "page_id", id)
}

// SyncPages makes the guarded set equal to pages: missing pages are
// guarded, pages not listed are released, pages whose URL changed are
// reopened.
func (g *Guard) SyncPages(ctx context.Context, pages []PageConfig) error {
	want := make(map[string]bool, len(pages))
	for _, p := range pages {
		want[p.ID] = true
	}

	g.mu.Lock()
	var drop []string
	for id := range g.pages {
		if !want[id] {
			drop = append(drop, id)
		}
	}
	g.mu.Unlock()
	for _, id := range drop {
		if err := g.Release(id); err != nil && !errors.Is(err, ErrUnknownPage) {
			return err
		}
	}

	var errs []error
	for _, p := range pages {
		if err := g.GuardPage(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.ID, err))
		}
	}
	return errors.Join(errs...)
}

// Status lists guarded pages by ID.
func (g *Guard) Status() []PageStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]PageStatus, 0, len(g.pages))
	for id, gp := range g.pages {
		out = append(out, PageStatus{
			ID:        id,
			URL:       gp.cfg.URL,
			Stealth:   gp.cfg.StealthLevel,
			GuardedAt: gp.since,
			Stats:     gp.coord.Stats(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Events returns recent events from the SQLite sink, newest first.
func (g *Guard) Events(ctx context.Context, pageID string, limit int) ([]Event, error) {
	if g.events == nil {
		return nil, fmt.Errorf("domguard: no sqlite sink configured")
	}
	return g.events.Recent(ctx, pageID, limit)
}

// Stop releases every page, closes the sinks and shuts the browser down.
func (g *Guard) Stop() {
	g.mu.Lock()
	g.stopped = true
	for id, gp := range g.pages {
		g.releaseLocked(id, gp)
	}
	g.mu.Unlock()

	g.sinkR.Close()
	if g.mgr != nil {
		g.mgr.Close()
	}
}

// suspend tears every page down before a browser recycle.
func (g *Guard) suspend() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.suspended = g.suspended[:0]
	for id, gp := range g.pages {
		g.suspended = append(g.suspended, gp.cfg)
		g.releaseLocked(id, gp)
	}
}

// resume re-guards the pages suspended by the last recycle.
func (g *Guard) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	for _, p := range g.suspended {
		if err := g.guardLocked(p); err != nil {
			g.logger.Error("domguard: re-guard after recycle failed", "page_id", p.ID, "error", err)
		}
	}
	g.suspended = nil
}
