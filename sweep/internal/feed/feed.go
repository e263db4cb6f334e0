// CLAUDE:SUMMARY Scroll/load controller: reveals more of the infinite feed and enumerates fresh item handles each call.
// Package feed advances an infinite-scroll document and enumerates the
// items currently rendered. Handles returned by CurrentItems are valid
// until the next scroll or DOM mutation; identity tracking belongs to the
// caller.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
)

// PreviewLen is the number of runes of item text kept for logging.
const PreviewLen = 70

// Item is a transient view over one rendered feed entry.
type Item struct {
	Handle    dom.Element
	Text      string
	Permalink string
	// Pass is the enumeration index and Offset the position within it.
	Pass   int
	Offset int
}

// Config configures a Controller.
type Config struct {
	Doc      dom.Document
	Resolver *resolve.Resolver
	// Settle is the fixed delay after scrolling. Zero means none.
	Settle time.Duration
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Settle < 0 {
		c.Settle = 0
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Controller reveals and enumerates feed content.
type Controller struct {
	cfg Config

	lastCount  int
	lastHeight int
}

// New creates a Controller.
func New(cfg Config) *Controller {
	cfg.defaults()
	return &Controller{cfg: cfg}
}

// LoadMore scrolls to the bottom, waits for content to settle and reports
// whether anything new appeared (document grew or more items rendered).
func (c *Controller) LoadMore(ctx context.Context) (bool, error) {
	before := c.lastHeight
	if before == 0 {
		if h, err := c.cfg.Doc.Height(ctx); err == nil {
			before = h
		}
	}
	if err := c.cfg.Doc.ScrollToBottom(ctx); err != nil {
		return false, fmt.Errorf("feed: scroll: %w", err)
	}
	if err := sleep(ctx, c.cfg.Settle); err != nil {
		return false, err
	}
	return c.grew(ctx, before)
}

// ScrollBy nudges the viewport by dy pixels and waits settle.
func (c *Controller) ScrollBy(ctx context.Context, dy int, settle time.Duration) (bool, error) {
	before := c.lastHeight
	if err := c.cfg.Doc.ScrollBy(ctx, dy); err != nil {
		return false, fmt.Errorf("feed: scroll by %d: %w", dy, err)
	}
	if err := sleep(ctx, settle); err != nil {
		return false, err
	}
	return c.grew(ctx, before)
}

func (c *Controller) grew(ctx context.Context, before int) (bool, error) {
	h, err := c.cfg.Doc.Height(ctx)
	if err != nil {
		return false, fmt.Errorf("feed: height: %w", err)
	}
	c.lastHeight = h
	els, err := c.cfg.Resolver.ResolveAll(ctx, c.cfg.Doc, nil, resolve.FeedItem)
	if err != nil {
		return false, fmt.Errorf("feed: count items: %w", err)
	}
	prev := c.lastCount
	c.lastCount = len(els)
	return h > before || len(els) > prev, nil
}

// CurrentItems enumerates the rendered items in document order. Each call
// returns fresh handles tagged with pass. An item whose handle is already
// stale is kept without a permalink; the workflow reports it as stale.
func (c *Controller) CurrentItems(ctx context.Context, pass int) ([]Item, error) {
	els, err := c.cfg.Resolver.ResolveAll(ctx, c.cfg.Doc, nil, resolve.FeedItem)
	if err != nil {
		return nil, fmt.Errorf("feed: enumerate: %w", err)
	}
	c.lastCount = len(els)

	items := make([]Item, 0, len(els))
	for i, el := range els {
		it := Item{Handle: el, Pass: pass, Offset: i}
		text, err := el.Text(ctx)
		if err != nil && !dom.IsStale(err) {
			return nil, fmt.Errorf("feed: item %d text: %w", i, err)
		}
		it.Text = Preview(text)
		if link, err := c.permalink(ctx, el); err == nil {
			it.Permalink = link
		} else if !dom.IsStale(err) {
			c.cfg.Logger.Debug("feed: permalink unreadable", "offset", i, "error", err)
		}
		items = append(items, it)
	}
	return items, nil
}

func (c *Controller) permalink(ctx context.Context, el dom.Element) (string, error) {
	a, err := c.cfg.Resolver.Resolve(ctx, c.cfg.Doc, el, resolve.Permalink)
	if err != nil || a == nil {
		return "", err
	}
	href, _, err := a.Attribute(ctx, "href")
	return href, err
}

// Preview collapses whitespace and truncates text for log lines.
func Preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= PreviewLen {
		return s
	}
	r := []rune(s)
	return string(r[:PreviewLen]) + "…"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
