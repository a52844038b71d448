// Package browser runs the Chrome instance the guarded pages live in:
// launch or connect through rod, recycle on a memory limit or a maximum
// lifetime, and open stealth tabs.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// StealthLevel selects how Chrome runs.
type StealthLevel int

const (
	LevelHeadless StealthLevel = 1 // headless + stealth page patches
	LevelHeadful  StealthLevel = 2 // headful on an Xvfb display
)

func (l StealthLevel) String() string {
	if l == LevelHeadful {
		return "headful"
	}
	return "headless"
}

// ParseStealth accepts "headless", "headful", "1", "2" or "" (headless).
func ParseStealth(s string) (StealthLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "headless", "1":
		return LevelHeadless, nil
	case "headful", "2":
		return LevelHeadful, nil
	}
	return 0, fmt.Errorf("browser: unknown stealth level %q", s)
}

// Config configures the Manager.
type Config struct {
	// RemoteURL is the DevTools WebSocket URL of a running Chrome. Empty
	// launches a local one.
	RemoteURL string
	// MemoryLimit is the JS heap size, summed over all pages, that
	// triggers a recycle. Default: 1GB.
	MemoryLimit int64
	// RecycleInterval is the maximum Chrome lifetime. Default: 4h.
	RecycleInterval time.Duration
	// ResourceBlocking lists resource types never loaded (images, fonts,
	// media, stylesheets).
	ResourceBlocking []string
	Stealth          StealthLevel
	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string
	// MonitorInterval between memory and lifetime checks. Default: 30s.
	MonitorInterval time.Duration
	Logger          *slog.Logger
}

func (c *Config) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Stealth == 0 {
		c.Stealth = LevelHeadless
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// RecycleHooks run around a recycle. Before runs while the old browser is
// still up, After once the new one is connected. Neither runs under the
// Manager lock, so both may open tabs.
type RecycleHooks struct {
	Before func()
	After  func(*rod.Browser)
}

// Manager owns one Chrome process.
type Manager struct {
	cfg Config

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	startAt time.Time
	closed  bool
	hooks   RecycleHooks

	// recycling serialises whole recycles, hooks included.
	recycling sync.Mutex
}

// NewManager creates a Manager. Start launches Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

func (m *Manager) SetRecycleHooks(h RecycleHooks) {
	m.mu.Lock()
	m.hooks = h
	m.mu.Unlock()
}

// Start launches or connects to Chrome and starts the monitor, which runs
// until ctx is done or the Manager is closed.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	b, err := m.launch()
	if err != nil {
		return nil, err
	}
	m.browser = b
	m.startAt = time.Now()
	go m.monitor(ctx)
	return b, nil
}

// Browser returns the current browser, nil before Start or after Close.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Recycle kills Chrome and starts a fresh one, running the hooks around it.
func (m *Manager) Recycle(ctx context.Context) error {
	m.recycling.Lock()
	defer m.recycling.Unlock()

	m.mu.RLock()
	closed, hooks, uptime := m.closed, m.hooks, time.Since(m.startAt)
	m.mu.RUnlock()
	if closed {
		return fmt.Errorf("browser: manager is closed")
	}

	log := m.cfg.Logger
	log.Info("browser: recycling", "uptime", uptime)
	if hooks.Before != nil {
		hooks.Before()
	}

	m.mu.Lock()
	m.cleanup()
	b, err := m.launch()
	if err == nil {
		m.browser = b
		m.startAt = time.Now()
	}
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("browser: relaunch: %w", err)
	}

	if hooks.After != nil {
		hooks.After(b)
	}
	log.Info("browser: recycled")
	return nil
}

// Close shuts Chrome and Xvfb down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch() (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Stealth == LevelHeadful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	wsURL := m.cfg.RemoteURL
	if wsURL != "" {
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(m.cfg.Stealth != LevelHeadful)
		if m.cfg.Stealth == LevelHeadful {
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		l = l.Set("disable-blink-features", "AutomationControlled")

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "stealth", m.cfg.Stealth.String())
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

// cleanup releases Chrome and Xvfb. Caller holds m.mu.
func (m *Manager) cleanup() {
	if m.browser != nil {
		if err := m.browser.Close(); err != nil {
			m.cfg.Logger.Debug("browser: close", "error", err)
		}
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
}

func (m *Manager) monitor(ctx context.Context) {
	log := m.cfg.Logger
	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		m.mu.RLock()
		closed, b, startAt := m.closed, m.browser, m.startAt
		m.mu.RUnlock()
		if closed {
			return
		}
		if b == nil {
			continue
		}

		reason := ""
		if time.Since(startAt) > m.cfg.RecycleInterval {
			reason = "lifetime"
		} else if used, err := heapUsage(ctx, b); err != nil {
			log.Debug("browser: heap check failed", "error", err)
		} else if used > m.cfg.MemoryLimit {
			log.Info("browser: memory limit exceeded", "used", used, "limit", m.cfg.MemoryLimit)
			reason = "memory"
		}
		if reason == "" {
			continue
		}
		if err := m.Recycle(ctx); err != nil {
			log.Error("browser: recycle failed", "reason", reason, "error", err)
		}
	}
}

// heapUsage sums the used JS heap of every open page.
func heapUsage(ctx context.Context, b *rod.Browser) (int64, error) {
	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return 0, err
	}
	if len(pages) == 0 {
		return 0, fmt.Errorf("browser: no pages for heap check")
	}
	var total int64
	for _, p := range pages {
		res, err := proto.RuntimeGetHeapUsage{}.Call(p)
		if err != nil {
			continue
		}
		total += int64(res.UsedSize)
	}
	return total, nil
}
