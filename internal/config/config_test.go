package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/domguard/dbopen"

	_ "modernc.org/sqlite"
)

const sample = `
browser:
  stealth: headful
  resource_blocking: [images, fonts]
target:
  selector: 'div[data-automation-id="shareButton"]'
strategy: hide
pages:
  - id: teams
    url: https://teams.example.com/
  - id: docs
    url: https://docs.example.com/
    stealth_level: "1"
sinks:
  - type: stdout
  - type: sqlite
    path: /tmp/events.db
http:
  addr: 127.0.0.1:8090
`

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domguard.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy != "hide" {
		t.Errorf("Strategy = %q", cfg.Strategy)
	}
	if cfg.Target.Selector != `div[data-automation-id="shareButton"]` {
		t.Errorf("Target = %+v", cfg.Target)
	}
	if cfg.PollPeriod != 250*time.Millisecond {
		t.Errorf("PollPeriod = %v", cfg.PollPeriod)
	}
	if cfg.Batch.Window != 15*time.Millisecond || cfg.Batch.MaxBuffer != 256 {
		t.Errorf("Batch = %+v", cfg.Batch)
	}
	if cfg.Browser.MemoryLimit != 1<<30 || cfg.Browser.XvfbDisplay != ":99" {
		t.Errorf("Browser = %+v", cfg.Browser)
	}
	if len(cfg.Pages) != 2 || cfg.Pages[0].StealthLevel != "headful" || cfg.Pages[1].StealthLevel != "1" {
		t.Errorf("Pages = %+v", cfg.Pages)
	}
	if len(cfg.Sinks) != 2 || cfg.HTTP.Addr != "127.0.0.1:8090" {
		t.Errorf("Sinks = %+v HTTP = %+v", cfg.Sinks, cfg.HTTP)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte("target: {attrs: {data-target: x}}\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Strategy != "remove" || cfg.Browser.Stealth != "headless" {
		t.Errorf("defaults: %+v", cfg)
	}
	if cfg.Target.Attrs["data-target"] != "x" {
		t.Errorf("attrs: %+v", cfg.Target.Attrs)
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"strategy":  "strategy: blur\n",
		"page":      "pages: [{id: a}]\n",
		"duplicate": "pages: [{id: a, url: u}, {id: a, url: v}]\n",
		"webhook":   "sinks: [{type: webhook}]\n",
		"sqlite":    "sinks: [{type: sqlite}]\n",
		"sink":      "sinks: [{type: nats}]\n",
		"yaml":      "pages: [\n",
	}
	for name, in := range cases {
		if _, err := Parse([]byte(in)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestPages_SaveLoadDisable(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	if err := SavePage(ctx, db, PageConfig{ID: "b", URL: "https://b/", StealthLevel: "headful"}); err != nil {
		t.Fatal(err)
	}
	if err := SavePage(ctx, db, PageConfig{ID: "a", URL: "https://a/"}); err != nil {
		t.Fatal(err)
	}
	if err := SavePage(ctx, db, PageConfig{ID: "a", URL: "https://a2/"}); err != nil {
		t.Fatal(err)
	}

	pages, err := LoadPages(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[0].ID != "a" || pages[0].URL != "https://a2/" || pages[0].StealthLevel != "1" {
		t.Errorf("page a = %+v", pages[0])
	}
	if pages[1].StealthLevel != "2" {
		t.Errorf("page b = %+v", pages[1])
	}

	if err := DisablePage(ctx, db, "b"); err != nil {
		t.Fatal(err)
	}
	pages, err = LoadPages(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if len(pages) != 1 || pages[0].ID != "a" {
		t.Errorf("after disable: %+v", pages)
	}
}

func TestWatchPages_FiresOnSave(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fired atomic.Int32
	w := WatchPages(db, nil)
	go w.OnChange(ctx, func(context.Context) error {
		fired.Add(1)
		return nil
	})

	time.Sleep(300 * time.Millisecond)
	if err := SavePage(ctx, db, PageConfig{ID: "a", URL: "https://a/"}); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("watcher did not fire after SavePage")
	}
}
