package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Quiesce   QuiesceConfig   `yaml:"quiesce"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int `yaml:"max_pages"` // default: 10

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string `yaml:"default_proxy"`

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`
}

// ScraperConfig controls page loading.
type ScraperConfig struct {
	// NavigationTimeout is the budget for page.Navigate, on top of the
	// quiescence timeout.
	NavigationTimeout time.Duration `yaml:"navigation_timeout"` // default: 15s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// GoTransport fulfils non-blocked requests through the Go HTTP client
	// (Chrome TLS fingerprint, counted as page activity) instead of letting
	// the browser load them.
	GoTransport bool `yaml:"go_transport"` // default: false
}

// QuiesceConfig holds the quiescence defaults and limits.
type QuiesceConfig struct {
	// Idle is the default quiet window.
	Idle time.Duration `yaml:"idle"` // default: 800ms

	// Timeout is the default ceiling on the wait.
	Timeout time.Duration `yaml:"timeout"` // default: 25s

	// MaxTimeout is the largest timeout a client may request.
	MaxTimeout time.Duration `yaml:"max_timeout"` // default: 120s

	// SettleDelay is the default pause after scrolling to the bottom.
	SettleDelay time.Duration `yaml:"settle_delay"` // default: 500ms
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 10
}

// CacheConfig controls the settle response cache.
type CacheConfig struct {
	// MaxEntries is the maximum number of responses in the in-memory cache.
	MaxEntries int `yaml:"max_entries"` // default: 1000

	// RedisURL switches the cache to Redis, e.g. "redis://localhost:6379/0".
	RedisURL string `yaml:"redis_url"`

	// TTL bounds how long an entry is kept at all.
	TTL time.Duration `yaml:"ttl"` // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"` // default: true
	Path    string `yaml:"path"`    // default: "/metrics"
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Mode: "release",
		},
		Browser: BrowserConfig{
			Headless: true,
			MaxPages: 10,
		},
		Scraper: ScraperConfig{
			NavigationTimeout:    15 * time.Second,
			BlockedResourceTypes: []string{"Image", "Font", "Media"},
		},
		Quiesce: QuiesceConfig{
			Idle:        800 * time.Millisecond,
			Timeout:     25 * time.Second,
			MaxTimeout:  120 * time.Second,
			SettleDelay: 500 * time.Millisecond,
		},
		Auth: AuthConfig{
			Enabled: true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5.0,
			Burst:             10,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load builds the configuration in three layers: built-in defaults, the
// YAML file at path (skipped when path is empty), then QUIETPAGE_*
// environment variables.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOr("QUIETPAGE_HOST", cfg.Server.Host)
	cfg.Server.Port = envIntOr("QUIETPAGE_PORT", cfg.Server.Port)
	cfg.Server.Mode = envOr("QUIETPAGE_MODE", cfg.Server.Mode)

	cfg.Browser.Headless = envBoolOr("QUIETPAGE_HEADLESS", cfg.Browser.Headless)
	cfg.Browser.MaxPages = envIntOr("QUIETPAGE_MAX_PAGES", cfg.Browser.MaxPages)
	cfg.Browser.DefaultProxy = envOr("QUIETPAGE_PROXY", cfg.Browser.DefaultProxy)
	cfg.Browser.NoSandbox = envBoolOr("QUIETPAGE_NO_SANDBOX", cfg.Browser.NoSandbox)
	cfg.Browser.BrowserBin = envOr("QUIETPAGE_BROWSER_BIN", cfg.Browser.BrowserBin)

	cfg.Scraper.NavigationTimeout = envDurationOr("QUIETPAGE_NAV_TIMEOUT", cfg.Scraper.NavigationTimeout)
	cfg.Scraper.BlockedResourceTypes = envSliceOr("QUIETPAGE_BLOCKED_RESOURCES", cfg.Scraper.BlockedResourceTypes)
	cfg.Scraper.GoTransport = envBoolOr("QUIETPAGE_GO_TRANSPORT", cfg.Scraper.GoTransport)

	cfg.Quiesce.Idle = envDurationOr("QUIETPAGE_IDLE", cfg.Quiesce.Idle)
	cfg.Quiesce.Timeout = envDurationOr("QUIETPAGE_TIMEOUT", cfg.Quiesce.Timeout)
	cfg.Quiesce.MaxTimeout = envDurationOr("QUIETPAGE_MAX_TIMEOUT", cfg.Quiesce.MaxTimeout)
	cfg.Quiesce.SettleDelay = envDurationOr("QUIETPAGE_SETTLE_DELAY", cfg.Quiesce.SettleDelay)

	cfg.Auth.Enabled = envBoolOr("QUIETPAGE_AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.APIKeys = envSliceOr("QUIETPAGE_API_KEYS", cfg.Auth.APIKeys)

	cfg.RateLimit.RequestsPerSecond = envFloatOr("QUIETPAGE_RATE_RPS", cfg.RateLimit.RequestsPerSecond)
	cfg.RateLimit.Burst = envIntOr("QUIETPAGE_RATE_BURST", cfg.RateLimit.Burst)

	cfg.Cache.MaxEntries = envIntOr("QUIETPAGE_CACHE_MAX_ENTRIES", cfg.Cache.MaxEntries)
	cfg.Cache.RedisURL = envOr("QUIETPAGE_REDIS_URL", cfg.Cache.RedisURL)
	cfg.Cache.TTL = envDurationOr("QUIETPAGE_CACHE_TTL", cfg.Cache.TTL)

	cfg.Log.Level = envOr("QUIETPAGE_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("QUIETPAGE_LOG_FORMAT", cfg.Log.Format)

	cfg.Metrics.Enabled = envBoolOr("QUIETPAGE_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Path = envOr("QUIETPAGE_METRICS_PATH", cfg.Metrics.Path)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
