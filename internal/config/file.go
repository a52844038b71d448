// Package config loads domguard configuration from a YAML file and the
// guarded page list from SQLite.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/domguard/signature"
)

// Config is the top-level domguard configuration.
type Config struct {
	Browser    BrowserConfig  `yaml:"browser"`
	Target     signature.Spec `yaml:"target"`
	Strategy   string         `yaml:"strategy"` // remove | hide
	PollPeriod time.Duration  `yaml:"poll_period"`
	Batch      BatchConfig    `yaml:"batch"`
	Pages      []PageConfig   `yaml:"pages"`
	Sinks      []SinkConfig   `yaml:"sinks"`
	HTTP       HTTPConfig     `yaml:"http"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	Stealth          string        `yaml:"stealth"` // headless | headful
	XvfbDisplay      string        `yaml:"xvfb_display"`
}

// PageConfig is one page to guard.
type PageConfig struct {
	ID           string `yaml:"id" json:"id"`
	URL          string `yaml:"url" json:"url"`
	StealthLevel string `yaml:"stealth_level" json:"stealth_level,omitempty"` // 1 | 2 | headless | headful
}

// BatchConfig controls how CDP insertions are grouped into one observer
// delivery.
type BatchConfig struct {
	Window    time.Duration `yaml:"window"`
	MaxBuffer int           `yaml:"max_buffer"`
}

// SinkConfig defines an event backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // sqlite
}

// HTTPConfig enables the control surface when Addr is set.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// TokenHash is the bcrypt hash of the bearer token the API requires.
	// Empty leaves the API open.
	TokenHash string `yaml:"token_hash"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Strategy == "" {
		c.Strategy = "remove"
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = 250 * time.Millisecond
	}
	if c.Batch.Window <= 0 {
		c.Batch.Window = 15 * time.Millisecond
	}
	if c.Batch.MaxBuffer <= 0 {
		c.Batch.MaxBuffer = 256
	}
	for i := range c.Pages {
		if c.Pages[i].StealthLevel == "" {
			c.Pages[i].StealthLevel = c.Browser.Stealth
		}
	}
}

// Validate checks what defaults cannot fix. The target signature itself is
// validated when it is built.
func (c *Config) Validate() error {
	switch c.Strategy {
	case "remove", "hide":
	default:
		return fmt.Errorf("config: unknown strategy %q", c.Strategy)
	}
	seen := make(map[string]bool, len(c.Pages))
	for _, p := range c.Pages {
		if p.ID == "" || p.URL == "" {
			return fmt.Errorf("config: page needs id and url: %+v", p)
		}
		if seen[p.ID] {
			return fmt.Errorf("config: duplicate page id %q", p.ID)
		}
		seen[p.ID] = true
	}
	for _, s := range c.Sinks {
		switch strings.ToLower(s.Type) {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink needs url")
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sqlite sink needs path")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
