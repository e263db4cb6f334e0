// CLAUDE:SUMMARY Defines feedsweep config structs, parses YAML files with defaults, and builds the selector table with overrides.
// Package config handles feedsweep configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/feedsweep/sweep/internal/dom"
	"github.com/hazyhaar/feedsweep/sweep/internal/resolve"
)

// Config is the top-level feedsweep configuration.
type Config struct {
	Browser   BrowserConfig               `yaml:"browser"`
	Session   SessionConfig               `yaml:"session"`
	Timing    TimingConfig                `yaml:"timing"`
	Limits    LimitsConfig                `yaml:"limits"`
	Selectors map[string][]SelectorConfig `yaml:"selectors"`
	Sinks     []SinkConfig                `yaml:"sinks"`
	Panel     PanelConfig                 `yaml:"panel"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Bin              string   `yaml:"bin"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	WindowWidth      int      `yaml:"window_width"`
	WindowHeight     int      `yaml:"window_height"`
}

// SessionConfig locates the exported cookies and the remote site.
type SessionConfig struct {
	CookieFile   string        `yaml:"cookie_file"`
	BaseURL      string        `yaml:"base_url"`
	Domain       string        `yaml:"domain"`
	LoginTimeout time.Duration `yaml:"login_timeout"`
}

// TimingConfig holds every wait the engine makes.
type TimingConfig struct {
	EffectTimeout  time.Duration `yaml:"effect_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	// Settle follows each load-more scroll.
	Settle       time.Duration `yaml:"settle"`
	Hover        time.Duration `yaml:"hover"`
	ScrollSettle time.Duration `yaml:"scroll_settle"`
	Dismiss      time.Duration `yaml:"dismiss"`
	PauseMin     time.Duration `yaml:"pause_min"`
	PauseMax     time.Duration `yaml:"pause_max"`
	// ActionsPerMinute caps visible actions. Zero disables the limiter.
	ActionsPerMinute float64 `yaml:"actions_per_minute"`
}

// LimitsConfig bounds campaigns.
type LimitsConfig struct {
	// EmptyPasses overrides the per-campaign convergence threshold.
	EmptyPasses        int `yaml:"empty_passes"`
	PassCap            int `yaml:"pass_cap"`
	AttemptMultiplier  int `yaml:"attempt_multiplier"`
	MaxRestartsPerPass int `yaml:"max_restarts_per_pass"`
	SinceDays          int `yaml:"since_days"`
	SampleScroll       int `yaml:"sample_scroll"`
}

// SelectorConfig is one strategy override for a role.
type SelectorConfig struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`  // css | xpath
	Expr  string `yaml:"expr"`
	Scope string `yaml:"scope"` // item | document
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | journal
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for journal
}

// PanelConfig controls the HTTP control panel.
type PanelConfig struct {
	Addr string `yaml:"addr"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if _, err := cfg.Table(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.WindowWidth <= 0 {
		c.Browser.WindowWidth = 1280
	}
	if c.Browser.WindowHeight <= 0 {
		c.Browser.WindowHeight = 900
	}

	if c.Session.CookieFile == "" {
		c.Session.CookieFile = "twitter_cookies.json"
	}
	if c.Session.BaseURL == "" {
		c.Session.BaseURL = "https://x.com"
	}
	if c.Session.Domain == "" {
		c.Session.Domain = ".x.com"
	}
	if c.Session.LoginTimeout <= 0 {
		c.Session.LoginTimeout = 7 * time.Second
	}

	t := &c.Timing
	if t.EffectTimeout <= 0 {
		t.EffectTimeout = 5 * time.Second
	}
	if t.ConfirmTimeout <= 0 {
		t.ConfirmTimeout = 10 * time.Second
	}
	if t.PollInterval <= 0 {
		t.PollInterval = 100 * time.Millisecond
	}
	if t.Settle <= 0 {
		t.Settle = 3500 * time.Millisecond
	}
	if t.Hover <= 0 {
		t.Hover = time.Second
	}
	if t.ScrollSettle <= 0 {
		t.ScrollSettle = 500 * time.Millisecond
	}
	if t.Dismiss <= 0 {
		t.Dismiss = 500 * time.Millisecond
	}
	if t.PauseMin <= 0 {
		t.PauseMin = 1500 * time.Millisecond
	}
	if t.PauseMax < t.PauseMin {
		t.PauseMax = max(3*time.Second, t.PauseMin)
	}

	l := &c.Limits
	if l.PassCap <= 0 {
		l.PassCap = 70
	}
	if l.AttemptMultiplier <= 0 {
		l.AttemptMultiplier = 15
	}
	if l.MaxRestartsPerPass <= 0 {
		l.MaxRestartsPerPass = 50
	}
	if l.SinceDays <= 0 {
		l.SinceDays = 10
	}
	if l.SampleScroll <= 0 {
		l.SampleScroll = 500
	}

	if c.Panel.Addr == "" {
		c.Panel.Addr = "127.0.0.1:8090"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

// Table returns the default selector table with the configured roles
// replaced. An overridden role keeps none of its default strategies.
func (c *Config) Table() (resolve.Table, error) {
	t := resolve.DefaultTable()
	for role, list := range c.Selectors {
		r := resolve.Role(role)
		if _, known := t[r]; !known {
			return nil, fmt.Errorf("config: selectors: unknown role %q", role)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("config: selectors: role %q has no strategies", role)
		}
		strategies := make([]resolve.Strategy, 0, len(list))
		for i, s := range list {
			kind, err := dom.ParseKind(s.Kind)
			if err != nil {
				return nil, fmt.Errorf("config: selectors: %s[%d]: %w", role, i, err)
			}
			scope, err := resolve.ParseScope(s.Scope)
			if err != nil {
				return nil, fmt.Errorf("config: selectors: %s[%d]: %w", role, i, err)
			}
			if s.Expr == "" {
				return nil, fmt.Errorf("config: selectors: %s[%d]: empty expr", role, i)
			}
			name := s.Name
			if name == "" {
				name = fmt.Sprintf("custom-%d", i)
			}
			strategies = append(strategies, resolve.Strategy{
				Name:  name,
				Query: dom.Query{Kind: kind, Expr: s.Expr},
				Scope: scope,
			})
		}
		t[r] = strategies
	}
	return t, nil
}
