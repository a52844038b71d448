package browser

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// XvfbReadyTimeout bounds the wait for the display socket.
const XvfbReadyTimeout = 5 * time.Second

// displaySocket is the X11 socket Xvfb creates for display ":N".
func displaySocket(display string) string {
	n, _, _ := strings.Cut(strings.TrimPrefix(display, ":"), ".")
	return "/tmp/.X11-unix/X" + n
}

// waitFile polls until path exists or timeout elapses.
func waitFile(path string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not ready after %s", path, timeout)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// startXvfb starts the virtual display for headful Chrome and waits for
// its socket. Caller holds m.mu.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	cmd := exec.Command("Xvfb", display, "-screen", "0", "1920x1080x24", "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb on %s: %w", display, err)
	}
	if err := waitFile(displaySocket(display), XvfbReadyTimeout); err != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("xvfb on %s: %w", display, err)
	}
	m.xvfb = cmd
	m.cfg.Logger.Info("browser: xvfb ready", "display", display, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb kills the display. Caller holds m.mu.
func (m *Manager) stopXvfb() {
	if m.xvfb == nil {
		return
	}
	_ = m.xvfb.Process.Kill()
	_ = m.xvfb.Wait()
	m.cfg.Logger.Info("browser: xvfb stopped", "display", m.cfg.XvfbDisplay)
	m.xvfb = nil
}
