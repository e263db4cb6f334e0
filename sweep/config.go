package sweep

import (
	"github.com/hazyhaar/feedsweep/sweep/internal/config"
)

// Config is the top-level feedsweep configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// SessionConfig locates the exported cookies and the remote site.
type SessionConfig = config.SessionConfig

// TimingConfig holds every wait the engine makes.
type TimingConfig = config.TimingConfig

// LimitsConfig bounds campaigns.
type LimitsConfig = config.LimitsConfig

// SelectorConfig is one strategy override for a role.
type SelectorConfig = config.SelectorConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	return config.Default()
}
