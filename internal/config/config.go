package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen       = "127.0.0.1:8080"
	defaultTimezone     = "UTC"
	defaultRefreshCron  = "*/2 * * * *"
	defaultCacheTTL     = 2 * time.Minute
	defaultFetchTimeout = 10 * time.Second
	defaultMaxOccur     = 5000
	defaultLogLevel     = "info"
)

// Environment variables that override the file.
const (
	EnvCalendarURL = "STRATUS_CALENDAR_URL"
	EnvListen      = "STRATUS_LISTEN"
	EnvLogLevel    = "STRATUS_LOG_LEVEL"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone that defines "today" and the day window
	// (e.g. "Europe/Vilnius").
	Timezone string `yaml:"timezone" json:"timezone"`

	// CalendarURL is the user's iCal feed. Empty means no calendar.
	CalendarURL string `yaml:"calendar_url" json:"calendar_url"`

	// CacheTTL is how long a resolved feed is reused.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// FetchTimeout bounds a single feed download.
	FetchTimeout time.Duration `yaml:"fetch_timeout" json:"fetch_timeout"`

	// RefreshCron is a cron-style schedule string (e.g. "*/2 * * * *")
	// used to re-warm the calendar cache in the background. "off" disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxOccurrencesPerEvent caps the expansion of one recurring series.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// MetricsEnabled exposes /metrics.
	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`

	// LogLevel is one of debug, info, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 defaultListen,
		Timezone:               defaultTimezone,
		CacheTTL:               defaultCacheTTL,
		FetchTimeout:           defaultFetchTimeout,
		RefreshCron:            defaultRefreshCron,
		MaxOccurrencesPerEvent: defaultMaxOccur,
		LogLevel:               defaultLogLevel,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	c.CalendarURL = strings.TrimSpace(c.CalendarURL)
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = defaultMaxOccur
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "error":
		c.LogLevel = strings.ToLower(c.LogLevel)
	default:
		c.LogLevel = defaultLogLevel
	}
	// Blank credentials disable auth rather than locking everyone out.
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		c.BasicAuth = nil
	}
}

// Location resolves Timezone, falling back to time.Local for unknown names.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// RefreshEnabled reports whether the background refresh job should run.
func (c *Config) RefreshEnabled() bool {
	return !strings.EqualFold(strings.TrimSpace(c.RefreshCron), "off")
}

// ApplyEnv overrides fields from the environment.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv(EnvCalendarURL); ok {
		c.CalendarURL = strings.TrimSpace(v)
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".stratusdash-config-*.tmp")
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

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// Clone returns a deep copy, safe to mutate independently.
func (c *Config) Clone() *Config {
	cp := *c
	if c.BasicAuth != nil {
		ba := *c.BasicAuth
		cp.BasicAuth = &ba
	}
	return &cp
}
