package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// MeetupSource is one events page backed by one or more iCal feeds.
type MeetupSource struct {
	// ID names the route: /api/meetup-{id}.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name" json:"name"`
	// URLs are the iCal endpoints merged into the page.
	URLs []string `yaml:"urls" json:"urls"`
}

// PodcastSource is one podcast page backed by an RSS feed.
type PodcastSource struct {
	// ID names the route: /api/pod{id}.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	URL  string `yaml:"url" json:"url"`
}

// EnrichConfig controls detail-page scraping for events without a venue.
type EnrichConfig struct {
	// Concurrency caps simultaneous detail-page fetches.
	Concurrency int `yaml:"concurrency" json:"concurrency"`
	// RatePerSecond limits detail-page fetches across the pool. 0 disables the limit.
	RatePerSecond float64 `yaml:"rate_per_second" json:"rate_per_second"`
	// RenderJS fetches detail pages through headless Chromium instead of plain HTTP.
	RenderJS bool `yaml:"render_js" json:"render_js"`
	// RenderTimeoutSeconds bounds a single Chromium page render.
	RenderTimeoutSeconds int `yaml:"render_timeout_seconds" json:"render_timeout_seconds"`
}

// MeetupConfig groups the event pipeline settings.
type MeetupConfig struct {
	// WindowDays is the number of days ahead that are served.
	WindowDays int `yaml:"window_days" json:"window_days"`
	// Timezone resolves floating iCal times, e.g. "Europe/Paris".
	Timezone string         `yaml:"timezone" json:"timezone"`
	Enrich   EnrichConfig   `yaml:"enrich" json:"enrich"`
	Sources  []MeetupSource `yaml:"sources" json:"sources"`
}

// PodcastConfig groups the podcast pipeline settings.
type PodcastConfig struct {
	// CacheTTLHours is the age after which a cached episode list is regenerated.
	CacheTTLHours int `yaml:"cache_ttl_hours" json:"cache_ttl_hours"`
	// Store selects the cache backend: "file" or "sqlite".
	Store string `yaml:"store" json:"store"`
	// DBPath is the SQLite database used when Store is "sqlite".
	DBPath string `yaml:"db_path" json:"db_path"`
	// ProxyPath is the local audio proxy route that episode URLs are rewritten to.
	ProxyPath string `yaml:"proxy_path" json:"proxy_path"`
	// RefreshCron, if set, regenerates every podcast cache on this schedule.
	RefreshCron string          `yaml:"refresh" json:"refresh"`
	Sources     []PodcastSource `yaml:"sources" json:"sources"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// DataDir holds the file-backed podcast caches.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// UserAgent is sent on every outbound request. Empty keeps Go's default.
	UserAgent string `yaml:"user_agent" json:"user_agent"`

	// HTTPTimeoutSeconds bounds each outbound request.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds" json:"http_timeout_seconds"`

	Meetup  MeetupConfig  `yaml:"meetup" json:"meetup"`
	Podcast PodcastConfig `yaml:"podcast" json:"podcast"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health and /metrics.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

const (
	defaultListen        = "127.0.0.1:8080"
	defaultDataDir       = "./data"
	defaultUserAgent     = "Mozilla/5.0 (compatible; ftsfeeds/1.0)"
	defaultHTTPTimeout   = 15
	defaultWindowDays    = 31
	defaultTimezone      = "Europe/Paris"
	defaultConcurrency   = 5
	defaultRatePerSecond = 4
	defaultRenderTimeout = 30
	defaultCacheTTLHours = 6
	defaultProxyPath     = "/api/proxy-audio"
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:             defaultListen,
		LogLevel:           "info",
		DataDir:            defaultDataDir,
		UserAgent:          defaultUserAgent,
		HTTPTimeoutSeconds: defaultHTTPTimeout,
		Meetup: MeetupConfig{
			WindowDays: defaultWindowDays,
			Timezone:   defaultTimezone,
			Enrich: EnrichConfig{
				Concurrency:          defaultConcurrency,
				RatePerSecond:        defaultRatePerSecond,
				RenderTimeoutSeconds: defaultRenderTimeout,
			},
			Sources: []MeetupSource{},
		},
		Podcast: PodcastConfig{
			CacheTTLHours: defaultCacheTTLHours,
			Store:         "file",
			ProxyPath:     defaultProxyPath,
			Sources:       []PodcastSource{},
		},
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DataDir == "" {
		c.DataDir = defaultDataDir
	}
	if c.HTTPTimeoutSeconds <= 0 {
		c.HTTPTimeoutSeconds = defaultHTTPTimeout
	}

	if c.Meetup.WindowDays <= 0 {
		c.Meetup.WindowDays = defaultWindowDays
	}
	if c.Meetup.Timezone == "" {
		c.Meetup.Timezone = defaultTimezone
	}
	if c.Meetup.Enrich.Concurrency <= 0 {
		c.Meetup.Enrich.Concurrency = defaultConcurrency
	}
	if c.Meetup.Enrich.RatePerSecond < 0 {
		c.Meetup.Enrich.RatePerSecond = 0
	}
	if c.Meetup.Enrich.RenderTimeoutSeconds <= 0 {
		c.Meetup.Enrich.RenderTimeoutSeconds = defaultRenderTimeout
	}
	if c.Meetup.Sources == nil {
		c.Meetup.Sources = []MeetupSource{}
	}

	if c.Podcast.CacheTTLHours <= 0 {
		c.Podcast.CacheTTLHours = defaultCacheTTLHours
	}
	switch c.Podcast.Store {
	case "file", "sqlite":
		// ok
	default:
		c.Podcast.Store = "file"
	}
	if c.Podcast.Store == "sqlite" && c.Podcast.DBPath == "" {
		c.Podcast.DBPath = filepath.Join(c.DataDir, "podcasts.db")
	}
	if c.Podcast.ProxyPath == "" {
		c.Podcast.ProxyPath = defaultProxyPath
	}
	if c.Podcast.Sources == nil {
		c.Podcast.Sources = []PodcastSource{}
	}
}

// Load loads configuration from the given YAML path, then applies FTS_*
// environment overrides.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		cfg := DefaultConfig()
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		if err := applyEnv(cfg); err != nil {
			return nil, err
		}
		cfg.Normalize()
		return cfg, nil
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the configuration atomically (temp file + rename) with 0600
// permissions, creating the parent directory if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, 0o600)
}

// WriteFileAtomic writes data to a temp file in the same directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
