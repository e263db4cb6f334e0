package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// NavigateTimeout bounds a single page navigation.
const NavigateTimeout = 30 * time.Second

// Tab wraps a Rod page with stealth, viewport and resource blocking applied.
type Tab struct {
	Page    *rod.Page
	manager *Manager
	router  *rod.HijackRouter
}

// OpenTab creates a new stealth tab on a blank page.
func OpenTab(ctx context.Context, mgr *Manager) (*Tab, error) {
	b, err := mgr.Browser(ctx)
	if err != nil {
		return nil, err
	}

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             mgr.cfg.WindowWidth,
		Height:            mgr.cfg.WindowHeight,
		DeviceScaleFactor: 1,
	}).Call(page); err != nil {
		mgr.cfg.Logger.Warn("browser: set viewport failed", "error", err)
	}

	t := &Tab{Page: page, manager: mgr}
	if len(mgr.cfg.ResourceBlocking) > 0 {
		t.router = blockResources(page, mgr.cfg.ResourceBlocking)
	}
	return t, nil
}

// Navigate loads pageURL and waits for the load event. A load timeout is
// logged, not returned: infinite feeds rarely go quiet.
func (t *Tab) Navigate(ctx context.Context, pageURL string) error {
	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()

	if err := t.Page.Context(navCtx).Navigate(pageURL); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := t.Page.Context(navCtx).WaitLoad(); err != nil {
		t.manager.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}
	return nil
}

// URL returns the current location of the tab.
func (t *Tab) URL(ctx context.Context) (string, error) {
	res, err := t.Page.Context(ctx).Eval(`() => location.href`)
	if err != nil {
		return "", fmt.Errorf("browser: location: %w", err)
	}
	return res.Value.Str(), nil
}

// Document exposes the tab as a dom.Document.
func (t *Tab) Document() *Document {
	return NewDocument(t.Page, t.manager.cfg.Logger)
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}

// SetCookies installs cookies in the tab's browser context.
func (t *Tab) SetCookies(ctx context.Context, cookies []*proto.NetworkCookieParam) error {
	if err := t.Page.Context(ctx).SetCookies(cookies); err != nil {
		return fmt.Errorf("browser: set cookies: %w", err)
	}
	return nil
}

// WaitFor reports whether an element matching css appears within timeout.
func (t *Tab) WaitFor(ctx context.Context, css string, timeout time.Duration) (bool, error) {
	_, err := t.Page.Context(ctx).Timeout(timeout).Element(css)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false, nil
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return false, fmt.Errorf("browser: wait for %s: %w", css, err)
}

// Reload reloads the current page.
func (t *Tab) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, NavigateTimeout)
	defer cancel()
	if err := t.Page.Context(navCtx).Reload(); err != nil {
		return fmt.Errorf("browser: reload: %w", err)
	}
	return nil
}

// Click clicks the first element matching css, waiting up to timeout.
func (t *Tab) Click(ctx context.Context, css string, timeout time.Duration) error {
	el, err := t.Page.Context(ctx).Timeout(timeout).Element(css)
	if err != nil {
		return fmt.Errorf("browser: find %s: %w", css, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s: %w", css, err)
	}
	return nil
}

// ClickText clicks the first element matching css whose text matches the
// regular expression re, waiting up to timeout.
func (t *Tab) ClickText(ctx context.Context, css, re string, timeout time.Duration) error {
	el, err := t.Page.Context(ctx).Timeout(timeout).ElementR(css, re)
	if err != nil {
		return fmt.Errorf("browser: find %s /%s/: %w", css, re, err)
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browser: click %s /%s/: %w", css, re, err)
	}
	return nil
}

// TextOf returns the text of the first element matching css, or "" when
// none is rendered.
func (t *Tab) TextOf(ctx context.Context, css string) (string, error) {
	els, err := t.Page.Context(ctx).Elements(css)
	if err != nil {
		return "", fmt.Errorf("browser: query %s: %w", css, err)
	}
	if len(els) == 0 {
		return "", nil
	}
	s, err := els[0].Text()
	if err != nil {
		return "", fmt.Errorf("browser: text of %s: %w", css, err)
	}
	return s, nil
}
