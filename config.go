package domguard

import (
	"github.com/hazyhaar/domguard/internal/config"
)

// Config is the top-level domguard configuration.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig is one page to guard.
type PageConfig = config.PageConfig

// BatchConfig controls CDP insertion batching.
type BatchConfig = config.BatchConfig

// SinkConfig defines an event backend.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// ParseConfig decodes YAML configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}

// PageSchema creates the guard_pages table used by LoadPages.
const PageSchema = config.Schema

var (
	LoadPages   = config.LoadPages
	SavePage    = config.SavePage
	DisablePage = config.DisablePage
	WatchPages  = config.WatchPages
)
