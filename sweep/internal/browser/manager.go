// CLAUDE:SUMMARY Manages the Chrome lifecycle for a sweep: launch or connect, optional Xvfb display, shutdown.
// Package browser manages the Chrome instance a campaign drives: start
// or connect via Rod, open stealth tabs, and expose the rendered page as a
// dom.Document.
//
// Unlike a long-running observer, a campaign holds element handles across
// many steps, so the browser is never recycled while it is in use.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Mode controls how Chrome is displayed.
type Mode int

const (
	Headless Mode = iota // Rod headless + stealth
	Headful              // Rod headful on an Xvfb display
)

// ParseMode maps "headless" and "headful" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "headless", "":
		return Headless, nil
	case "headful":
		return Headful, nil
	}
	return Headless, fmt.Errorf("browser: unknown mode %q", s)
}

func (m Mode) String() string {
	if m == Headful {
		return "headful"
	}
	return "headless"
}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin is the Chrome binary. Empty lets the launcher find or fetch one.
	Bin string

	Mode Mode

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	// ResourceBlocking lists resource types to block (images, fonts, media, stylesheets).
	ResourceBlocking []string

	// WindowWidth and WindowHeight size the viewport. Default: 1280x900.
	WindowWidth  int
	WindowHeight int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.WindowWidth <= 0 {
		c.WindowWidth = 1280
	}
	if c.WindowHeight <= 0 {
		c.WindowHeight = 900
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns one Chrome process (or remote connection).
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *exec.Cmd
	closed  bool
}

// NewManager creates a browser Manager. Chrome starts lazily on the first
// call to Browser.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Browser returns the Rod browser, launching it on first use.
func (m *Manager) Browser(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}
	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.cleanup()
	return nil
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	if m.cfg.Mode == Headful && m.cfg.RemoteURL == "" {
		if err := m.startXvfb(); err != nil {
			return nil, fmt.Errorf("browser: xvfb: %w", err)
		}
	}

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx)
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}
		if m.cfg.Mode == Headful {
			l = l.Headless(false).Env("DISPLAY=" + m.cfg.XvfbDisplay)
		} else {
			l = l.Headless(true)
		}
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("window-size", fmt.Sprintf("%d,%d", m.cfg.WindowWidth, m.cfg.WindowHeight))

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "mode", m.cfg.Mode)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	return b, nil
}

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
