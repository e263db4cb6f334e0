// CLAUDE:SUMMARY Session bootstrap: loads exported browser cookies, normalises them for the target domain, injects them and verifies login.
// Package session restores an authenticated session from a cookie file
// exported by a browser extension (Cookie-Editor, EditThisCookie) and checks
// that the remote site accepts it. It never handles credentials.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

var (
	// ErrNoCookies is returned when the cookie file holds no usable cookie.
	ErrNoCookies = errors.New("session: no cookies")
	// ErrNotLoggedIn is returned when the site redirects to its login flow
	// or never renders the home timeline.
	ErrNotLoggedIn = errors.New("session: not logged in")
)

// HomeMarker is present on the home timeline only when logged in.
const HomeMarker = `[data-testid="primaryColumn"]`

// Page is the part of a browser tab the bootstrap needs.
type Page interface {
	Navigate(ctx context.Context, url string) error
	SetCookies(ctx context.Context, cookies []*proto.NetworkCookieParam) error
	URL(ctx context.Context) (string, error)
	WaitFor(ctx context.Context, css string, timeout time.Duration) (bool, error)
}

// Config configures a Bootstrapper.
type Config struct {
	CookieFile string
	// BaseURL is the site root. Default: https://x.com.
	BaseURL string
	// Domain is forced on cookies without one or with a foreign one. Default: .x.com.
	Domain string
	// LoginTimeout bounds the wait for HomeMarker. Default: 7s.
	LoginTimeout time.Duration
	Logger       *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://x.com"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Domain == "" {
		c.Domain = ".x.com"
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = 7 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Bootstrapper restores a session into a page.
type Bootstrapper struct {
	cfg Config
}

// New creates a Bootstrapper.
func New(cfg Config) *Bootstrapper {
	cfg.defaults()
	return &Bootstrapper{cfg: cfg}
}

// Bootstrap loads the cookie file into page and verifies the login.
func (b *Bootstrapper) Bootstrap(ctx context.Context, page Page) error {
	raw, err := os.ReadFile(b.cfg.CookieFile)
	if err != nil {
		return fmt.Errorf("session: read cookies: %w", err)
	}
	cookies, err := Parse(raw, b.cfg.Domain)
	if err != nil {
		return err
	}

	// Cookies can only be set for the origin currently loaded.
	if err := page.Navigate(ctx, b.cfg.BaseURL+"/"); err != nil {
		return fmt.Errorf("session: open site: %w", err)
	}
	if err := page.SetCookies(ctx, cookies); err != nil {
		return fmt.Errorf("session: %w", err)
	}
	b.cfg.Logger.Info("session: cookies loaded", "count", len(cookies), "file", b.cfg.CookieFile)
	return b.Verify(ctx, page)
}

// Verify opens the home timeline and checks the session is accepted.
func (b *Bootstrapper) Verify(ctx context.Context, page Page) error {
	if err := page.Navigate(ctx, b.cfg.BaseURL+"/home"); err != nil {
		return fmt.Errorf("session: open home: %w", err)
	}
	loc, err := page.URL(ctx)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if strings.Contains(loc, "/login") || strings.Contains(loc, "i/flow/login") {
		return fmt.Errorf("%w: redirected to %s", ErrNotLoggedIn, loc)
	}
	ok, err := page.WaitFor(ctx, HomeMarker, b.cfg.LoginTimeout)
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: home timeline did not render within %s", ErrNotLoggedIn, b.cfg.LoginTimeout)
	}
	b.cfg.Logger.Info("session: logged in", "url", loc)
	return nil
}

// exported is the union of the cookie shapes produced by common exporters.
type exported struct {
	Name           string   `json:"name"`
	Value          string   `json:"value"`
	Domain         string   `json:"domain"`
	Path           string   `json:"path"`
	Secure         bool     `json:"secure"`
	HTTPOnly       bool     `json:"httpOnly"`
	Expiry         *float64 `json:"expiry"`
	ExpirationDate *float64 `json:"expirationDate"`
	Session        bool     `json:"session"`
}

// Parse decodes an exported cookie array and normalises it for domain:
// sameSite is dropped, missing or foreign domains are replaced, expiry is
// truncated to whole seconds and session cookies carry none.
func Parse(raw []byte, domain string) ([]*proto.NetworkCookieParam, error) {
	var in []exported
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("session: decode cookies: %w", err)
	}
	site := strings.TrimPrefix(domain, ".")

	out := make([]*proto.NetworkCookieParam, 0, len(in))
	for _, c := range in {
		if c.Name == "" {
			continue
		}
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if host := strings.TrimPrefix(p.Domain, "."); host != site && !strings.HasSuffix(host, "."+site) {
			p.Domain = domain
		}
		if p.Path == "" {
			p.Path = "/"
		}
		exp := c.Expiry
		if exp == nil {
			exp = c.ExpirationDate
		}
		if exp != nil && !c.Session && *exp > 0 {
			p.Expires = proto.TimeSinceEpoch(math.Trunc(*exp))
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, ErrNoCookies
	}
	return out, nil
}
