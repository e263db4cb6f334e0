// CLAUDE:SUMMARY Navigation provider: opens the liked-posts list, a profile timeline tab, or a dated search before a campaign starts.
// Package navigate brings a tab to the feed a campaign works on. It is
// called once per campaign (or per profile tab) and never retried by the
// engine.
package navigate

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Kind selects a feed.
type Kind string

const (
	Likes      Kind = "likes"
	ProfileTab Kind = "profile-tab"
	Search     Kind = "search"
)

// Target names the feed to open.
type Target struct {
	Kind Kind
	// Tab is the profile timeline tab label for ProfileTab ("Posts", "Replies").
	Tab string
	// Query is the search text for Search.
	Query string
	// Since bounds Search results. Zero means Config.SinceDays ago.
	Since time.Time
}

func (t Target) String() string {
	switch t.Kind {
	case ProfileTab:
		return "profile-tab:" + t.Tab
	case Search:
		return "search:" + t.Query
	}
	return string(t.Kind)
}

// Page is the part of a browser tab navigation needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	Click(ctx context.Context, css string, timeout time.Duration) error
	ClickText(ctx context.Context, css, re string, timeout time.Duration) error
	WaitFor(ctx context.Context, css string, timeout time.Duration) (bool, error)
	TextOf(ctx context.Context, css string) (string, error)
}

// Selectors used while navigating. Feed content selectors live in the
// resolver table; these only reach the feed.
const (
	profileLinkTestID = `a[data-testid="AppTabBar_Profile_Link"]`
	profileLinkLabel  = `a[aria-label="Profile"]`
	timelinesNav      = `nav[aria-label="Profile timelines"]`
	timelineTab       = timelinesNav + ` a[role="tab"]`
	selectedTab       = timelinesNav + ` a[aria-selected="true"]`
	article           = `article`
)

// Config configures a Provider.
type Config struct {
	BaseURL string
	// SinceDays is the default search window. Default: 10.
	SinceDays int
	// Timeout bounds each wait for a navigation control. Default: 10s.
	Timeout time.Duration
	// ResultsTimeout bounds the wait for the first search result. Default: 20s.
	ResultsTimeout time.Duration
	// Settle follows each click. Zero means none.
	Settle time.Duration
	Now    func() time.Time
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.SinceDays <= 0 {
		c.SinceDays = 10
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.ResultsTimeout <= 0 {
		c.ResultsTimeout = 20 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Provider opens feeds.
type Provider struct {
	cfg Config
}

// New creates a Provider.
func New(cfg Config) *Provider {
	cfg.defaults()
	return &Provider{cfg: cfg}
}

// NavigateToFeed brings page to target.
func (p *Provider) NavigateToFeed(ctx context.Context, page Page, target Target) error {
	p.cfg.Logger.Info("navigate: opening feed", "target", target.String())
	switch target.Kind {
	case Likes:
		return p.profileTab(ctx, page, "Likes")
	case ProfileTab:
		if target.Tab == "" {
			return fmt.Errorf("navigate: profile tab name required")
		}
		return p.profileTab(ctx, page, target.Tab)
	case Search:
		return p.search(ctx, page, target)
	}
	return fmt.Errorf("navigate: unknown target %q", target.Kind)
}

// SearchURL builds the dated search URL.
func (p *Provider) SearchURL(target Target) string {
	since := target.Since
	if since.IsZero() {
		since = p.cfg.Now().AddDate(0, 0, -p.cfg.SinceDays)
	}
	q := url.Values{}
	q.Set("q", fmt.Sprintf("%s since:%s", strings.TrimSpace(target.Query), since.Format("2006-01-02")))
	q.Set("src", "typed_query")
	return p.cfg.BaseURL + "/search?" + q.Encode()
}

func (p *Provider) search(ctx context.Context, page Page, target Target) error {
	if strings.TrimSpace(target.Query) == "" {
		return fmt.Errorf("navigate: search query required")
	}
	if err := page.Navigate(ctx, p.SearchURL(target)); err != nil {
		return fmt.Errorf("navigate: search: %w", err)
	}
	ok, err := page.WaitFor(ctx, article, p.cfg.ResultsTimeout)
	if err != nil {
		return fmt.Errorf("navigate: search results: %w", err)
	}
	if ok {
		return nil
	}
	p.cfg.Logger.Warn("navigate: no search results yet, reloading once")
	if err := page.Reload(ctx); err != nil {
		return fmt.Errorf("navigate: search reload: %w", err)
	}
	ok, err = page.WaitFor(ctx, article, p.cfg.ResultsTimeout)
	if err != nil {
		return fmt.Errorf("navigate: search results: %w", err)
	}
	if !ok {
		return fmt.Errorf("navigate: search returned no results within %s", p.cfg.ResultsTimeout)
	}
	return nil
}

func (p *Provider) openProfile(ctx context.Context, page Page) error {
	if err := page.Navigate(ctx, p.cfg.BaseURL+"/home"); err != nil {
		return fmt.Errorf("navigate: home: %w", err)
	}
	var lastErr error
	for _, css := range []string{profileLinkTestID, profileLinkLabel} {
		if lastErr = page.Click(ctx, css, p.cfg.Timeout); lastErr == nil {
			break
		}
		p.cfg.Logger.Debug("navigate: profile link selector failed", "selector", css, "error", lastErr)
	}
	if lastErr != nil {
		return fmt.Errorf("navigate: profile link: %w", lastErr)
	}
	ok, err := page.WaitFor(ctx, timelinesNav, p.cfg.Timeout)
	if err != nil {
		return fmt.Errorf("navigate: profile: %w", err)
	}
	if !ok {
		return fmt.Errorf("navigate: profile timelines did not render")
	}
	return sleep(ctx, p.cfg.Settle)
}

func (p *Provider) profileTab(ctx context.Context, page Page, tab string) error {
	if err := p.openProfile(ctx, page); err != nil {
		return err
	}
	re := `^\s*` + regexp.QuoteMeta(tab) + `\s*$`
	if err := page.ClickText(ctx, timelineTab, re, p.cfg.Timeout); err != nil {
		return fmt.Errorf("navigate: %s tab: %w", tab, err)
	}

	deadline := time.Now().Add(p.cfg.Timeout)
	for {
		sel, err := page.TextOf(ctx, selectedTab)
		if err != nil {
			return fmt.Errorf("navigate: %s tab: %w", tab, err)
		}
		if strings.TrimSpace(sel) == tab {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("navigate: %s tab never became selected (selected: %q)", tab, sel)
		}
		if err := sleep(ctx, 200*time.Millisecond); err != nil {
			return err
		}
	}
	return sleep(ctx, p.cfg.Settle)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
