package config

import (
	"fmt"
	"net/url"
	"time"
)

// Session modes.
const (
	SessionHTTP    = "http"
	SessionBrowser = "browser"
)

// Budget tolerance policies.
const (
	PolicyCeiling = "ceiling"
	PolicyBand    = "band"
)

// Config holds catalog engine configuration.
type Config struct {
	SnapshotFile string
	SourcesFile  string

	CacheDir  string
	CacheTTL  time.Duration
	CacheSize int

	ProxyListURL     string
	ProxyRefreshSpec string
	UserAgents       []string
	SessionMode      string
	Headless         bool

	PageTimeout   time.Duration
	MaxAttempts   int
	RetryDelayMin time.Duration
	RetryDelayMax time.Duration

	UpdateInterval time.Duration
	ThrottleMin    time.Duration
	ThrottleMax    time.Duration
	Parallel       bool

	Policy         string
	BandLowerRatio float64

	MetricsAddr  string
	ExportFile   string
	ExportFormat string // csv, json, or dual
	Verbose      bool
}

// DefaultConfig returns the defaults used by the bot and admin layers.
func DefaultConfig() *Config {
	return &Config{
		SnapshotFile:     "data/catalog.json",
		CacheTTL:         time.Hour,
		CacheSize:        512,
		ProxyRefreshSpec: "@every 30m",
		UserAgents: []string{
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 13_5) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:118.0) Gecko/20100101 Firefox/118.0",
		},
		SessionMode:    SessionHTTP,
		Headless:       true,
		PageTimeout:    20 * time.Second,
		MaxAttempts:    3,
		RetryDelayMin:  2 * time.Second,
		RetryDelayMax:  5 * time.Second,
		UpdateInterval: time.Hour,
		ThrottleMin:    2 * time.Second,
		ThrottleMax:    4 * time.Second,
		Parallel:       false,
		Policy:         PolicyCeiling,
		BandLowerRatio: 0.65,
		ExportFormat:   "json",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.SnapshotFile == "" {
		return fmt.Errorf("snapshot file cannot be empty")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if c.ProxyListURL != "" {
		parsed, err := url.Parse(c.ProxyListURL)
		if err != nil {
			return fmt.Errorf("invalid proxy list URL: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("proxy list URL must include a host")
		}
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user agents cannot be empty")
	}
	for _, ua := range c.UserAgents {
		if ua == "" {
			return fmt.Errorf("user agent cannot be empty")
		}
	}
	if c.SessionMode != SessionHTTP && c.SessionMode != SessionBrowser {
		return fmt.Errorf("session mode must be %s or %s", SessionHTTP, SessionBrowser)
	}
	if c.PageTimeout <= 0 {
		return fmt.Errorf("page timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryDelayMin < 0 {
		return fmt.Errorf("retry delay min cannot be negative")
	}
	if c.RetryDelayMax < c.RetryDelayMin {
		return fmt.Errorf("retry delay max (%s) cannot be below retry delay min (%s)", c.RetryDelayMax, c.RetryDelayMin)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive")
	}
	if c.ThrottleMin < 0 {
		return fmt.Errorf("throttle min cannot be negative")
	}
	if c.ThrottleMax < c.ThrottleMin {
		return fmt.Errorf("throttle max (%s) cannot be below throttle min (%s)", c.ThrottleMax, c.ThrottleMin)
	}
	if c.Policy != PolicyCeiling && c.Policy != PolicyBand {
		return fmt.Errorf("policy must be %s or %s", PolicyCeiling, PolicyBand)
	}
	if c.Policy == PolicyBand && (c.BandLowerRatio <= 0 || c.BandLowerRatio > 1) {
		return fmt.Errorf("band lower ratio must be in (0, 1]")
	}
	if c.ExportFormat != "csv" && c.ExportFormat != "json" && c.ExportFormat != "dual" {
		return fmt.Errorf("export format must be csv, json, or dual")
	}
	return nil
}
