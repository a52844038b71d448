package browser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

func TestParseStealth(t *testing.T) {
	cases := map[string]StealthLevel{"": LevelHeadless, "headless": LevelHeadless, "1": LevelHeadless, "HEADFUL": LevelHeadful, "2": LevelHeadful}
	for in, want := range cases {
		got, err := ParseStealth(in)
		if err != nil || got != want {
			t.Errorf("ParseStealth(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseStealth("http"); err == nil {
		t.Error("expected error for http level")
	}
}

func TestShouldBlock(t *testing.T) {
	set := blockSet([]string{"images", "Font", " stylesheets ", "script"})
	cases := []struct {
		typ  proto.NetworkResourceType
		want bool
	}{
		{proto.NetworkResourceTypeImage, true},
		{proto.NetworkResourceTypeFont, true},
		{proto.NetworkResourceTypeStylesheet, true},
		{proto.NetworkResourceTypeScript, true},
		{proto.NetworkResourceTypeMedia, false},
		{proto.NetworkResourceTypeDocument, false},
		{proto.NetworkResourceTypeXHR, false},
	}
	for _, c := range cases {
		if got := shouldBlock(set, c.typ); got != c.want {
			t.Errorf("shouldBlock(%s) = %v, want %v", c.typ, got, c.want)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.defaults()
	if c.MemoryLimit != 1<<30 || c.RecycleInterval != 4*time.Hour || c.Stealth != LevelHeadless ||
		c.XvfbDisplay != ":99" || c.MonitorInterval != 30*time.Second || c.Logger == nil {
		t.Fatalf("defaults: %+v", c)
	}
}

func TestManager_NoBrowser(t *testing.T) {
	m := NewManager(Config{})
	if m.Browser() != nil {
		t.Fatal("browser before Start")
	}
	if _, err := OpenTab(t.Context(), m, "p", "about:blank", 0); err == nil {
		t.Fatal("OpenTab without browser should fail")
	}
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(t.Context()); err == nil {
		t.Fatal("Start after Close should fail")
	}
	if err := m.Recycle(t.Context()); err == nil {
		t.Fatal("Recycle after Close should fail")
	}
}

func TestDisplaySocket(t *testing.T) {
	for display, want := range map[string]string{
		":99":  "/tmp/.X11-unix/X99",
		":1.0": "/tmp/.X11-unix/X1",
		"100":  "/tmp/.X11-unix/X100",
	} {
		if got := displaySocket(display); got != want {
			t.Errorf("displaySocket(%q) = %q, want %q", display, got, want)
		}
	}
}

func TestWaitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "X5")
	if err := waitFile(path, 60*time.Millisecond); err == nil {
		t.Fatal("missing file reported ready")
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		os.WriteFile(path, nil, 0o600)
	}()
	if err := waitFile(path, 2*time.Second); err != nil {
		t.Fatal(err)
	}
}
