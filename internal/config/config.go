package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Submit policies for a second submission while a job is still in flight.
const (
	PolicySupersede = "supersede"
	PolicyReject    = "reject"
)

// Config holds all configuration for the sourcefinder server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Search    SearchConfig
	Poll      PollConfig
	Tracker   TrackerConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// SearchConfig describes the remote search service.
type SearchConfig struct {
	BaseURL string
	// AssetBaseURL resolves the relative references returned in results.
	// Defaults to BaseURL.
	AssetBaseURL  string
	SubmitTimeout time.Duration
	PollTimeout   time.Duration
	// PollRPS caps status/result requests per second; 0 disables the limit.
	PollRPS float64
}

type PollConfig struct {
	Interval time.Duration
	// MaxStatusFailures fails the job after this many consecutive failed
	// status polls. 0 means keep polling forever.
	MaxStatusFailures int
}

type TrackerConfig struct {
	SubmitPolicy string
	SnapshotTTL  time.Duration
}

type RateLimitConfig struct {
	RequestsPerMinute int
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var validPolicies = map[string]bool{
	PolicySupersede: true,
	PolicyReject:    true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := fromEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadSearch reads only what a standalone search client needs: the search
// service, polling, tracker and logging settings. Database and Redis settings
// are read but not required.
func LoadSearch() (*Config, error) {
	cfg := fromEnv()

	if err := cfg.validateSearch(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDatabase reads only what the administrative commands need: the
// database and logging settings.
func LoadDatabase() (*Config, error) {
	cfg := fromEnv()

	if cfg.Database.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if !validLogLevels[cfg.Log.Level] {
		return nil, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", cfg.Log.Level)
	}

	return cfg, nil
}

func fromEnv() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SOURCEFINDER_PORT", 8080),
			Env:  envString("SOURCEFINDER_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Search: SearchConfig{
			BaseURL:       strings.TrimRight(os.Getenv("SEARCH_BASE_URL"), "/"),
			AssetBaseURL:  strings.TrimRight(os.Getenv("SEARCH_ASSET_BASE_URL"), "/"),
			SubmitTimeout: envDuration("SEARCH_SUBMIT_TIMEOUT", 10*time.Minute),
			PollTimeout:   envDuration("SEARCH_POLL_TIMEOUT", 10*time.Second),
			PollRPS:       envFloat("SEARCH_POLL_RPS", 5),
		},
		Poll: PollConfig{
			Interval:          envDuration("POLL_INTERVAL", time.Second),
			MaxStatusFailures: envInt("POLL_MAX_STATUS_FAILURES", 0),
		},
		Tracker: TrackerConfig{
			SubmitPolicy: strings.ToLower(envString("SUBMIT_POLICY", PolicySupersede)),
			SnapshotTTL:  envDuration("SNAPSHOT_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 60),
		},
		Log: LogConfig{
			Level:      strings.ToLower(envString("LOG_LEVEL", "info")),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  envInt("LOG_MAX_SIZE_MB", 100),
			MaxBackups: envInt("LOG_MAX_BACKUPS", 3),
			MaxAgeDays: envInt("LOG_MAX_AGE_DAYS", 28),
		},
	}

	if cfg.Search.AssetBaseURL == "" {
		cfg.Search.AssetBaseURL = cfg.Search.BaseURL
	}

	return cfg
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}

	return c.validateSearch()
}

func (c *Config) validateSearch() error {
	if c.Search.BaseURL == "" {
		return fmt.Errorf("SEARCH_BASE_URL is required")
	}
	if err := validateHTTPURL(c.Search.BaseURL); err != nil {
		return fmt.Errorf("SEARCH_BASE_URL %w", err)
	}
	if err := validateHTTPURL(c.Search.AssetBaseURL); err != nil {
		return fmt.Errorf("SEARCH_ASSET_BASE_URL %w", err)
	}

	if c.Search.SubmitTimeout <= 0 {
		return fmt.Errorf("SEARCH_SUBMIT_TIMEOUT must be positive")
	}
	if c.Search.PollTimeout <= 0 {
		return fmt.Errorf("SEARCH_POLL_TIMEOUT must be positive")
	}
	if c.Search.PollRPS < 0 {
		return fmt.Errorf("SEARCH_POLL_RPS must not be negative")
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.Poll.MaxStatusFailures < 0 {
		return fmt.Errorf("POLL_MAX_STATUS_FAILURES must not be negative")
	}

	if !validPolicies[c.Tracker.SubmitPolicy] {
		return fmt.Errorf("SUBMIT_POLICY must be one of supersede, reject; got %q", c.Tracker.SubmitPolicy)
	}

	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Log.Level)
	}

	return nil
}

func validateHTTPURL(raw string) error {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return fmt.Errorf("must start with http:// or https://, got %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return fmt.Errorf("must be a valid URL, got %q", raw)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
