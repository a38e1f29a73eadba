package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration options for favmirror
type Config struct {
	// Remote gallery site
	Gallery GalleryConfig `yaml:"gallery" json:"gallery"`

	// Local mirror server
	Store StoreConfig `yaml:"store" json:"store"`

	// Shared backoff schedule and retry budget
	Backoff BackoffConfig `yaml:"backoff" json:"backoff"`

	// Optional request ceiling on top of the backoff schedule
	RateLimit RateLimitConfig `yaml:"rate_limit" json:"rate_limit"`

	// Page walk parameters
	Sync SyncConfig `yaml:"sync" json:"sync"`

	// Run journal
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Prometheus exposition
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// GalleryConfig holds remote site configuration
type GalleryConfig struct {
	BaseURL   string        `yaml:"base_url" json:"base_url"`
	UserAgent string        `yaml:"user_agent" json:"user_agent"`
	Cookie    string        `yaml:"cookie" json:"cookie"`
	Timeout   time.Duration `yaml:"timeout" json:"timeout"`
}

// StoreConfig holds local server configuration
type StoreConfig struct {
	URL     string        `yaml:"url" json:"url"`
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// BackoffConfig holds the adaptive delay parameters
type BackoffConfig struct {
	BaseDelay     time.Duration `yaml:"base_delay" json:"base_delay"`
	Jitter        time.Duration `yaml:"jitter" json:"jitter"`
	GrowthFactor  float64       `yaml:"growth_factor" json:"growth_factor"`
	DecayFactor   float64       `yaml:"decay_factor" json:"decay_factor"`
	SuccessStreak int           `yaml:"success_streak" json:"success_streak"`
	MaxDelay      time.Duration `yaml:"max_delay" json:"max_delay"`
	MaxRetries    int           `yaml:"max_retries" json:"max_retries"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" json:"requests_per_minute"`
	BurstSize         int `yaml:"burst_size" json:"burst_size"`
}

// SyncConfig holds page walk configuration
type SyncConfig struct {
	PageSize     int `yaml:"page_size" json:"page_size"`
	SafetyMargin int `yaml:"safety_margin" json:"safety_margin"`
}

// JournalConfig holds the sync journal location
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// MetricsConfig holds metrics exposition configuration
type MetricsConfig struct {
	Address string `yaml:"address" json:"address"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `yaml:"level" json:"level"`
	File  string `yaml:"file" json:"file"`
}

// DefaultConfig returns a Config instance with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Gallery: GalleryConfig{
			UserAgent: "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
			Timeout:   60 * time.Second,
		},
		Store: StoreConfig{
			URL:     "http://localhost:34343",
			Timeout: 60 * time.Second,
		},
		Backoff: BackoffConfig{
			BaseDelay:     100 * time.Millisecond,
			Jitter:        30 * time.Millisecond,
			GrowthFactor:  2.0,
			DecayFactor:   0.9,
			SuccessStreak: 5,
			MaxDelay:      5 * time.Minute,
			MaxRetries:    5,
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 0, // 0 disables the ceiling
			BurstSize:         1,
		},
		Sync: SyncConfig{
			PageSize:     50,
			SafetyMargin: 500,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(defaultDataDir(), "journal.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadFromEnv loads configuration from environment variables
func (c *Config) LoadFromEnv() error {
	if baseURL := os.Getenv("FAVMIRROR_GALLERY_URL"); baseURL != "" {
		c.Gallery.BaseURL = baseURL
	}
	if cookie := os.Getenv("FAVMIRROR_GALLERY_COOKIE"); cookie != "" {
		c.Gallery.Cookie = cookie
	}
	if userAgent := os.Getenv("FAVMIRROR_USER_AGENT"); userAgent != "" {
		c.Gallery.UserAgent = userAgent
	}
	if storeURL := os.Getenv("FAVMIRROR_STORE_URL"); storeURL != "" {
		c.Store.URL = storeURL
	}

	if retries := os.Getenv("FAVMIRROR_MAX_RETRIES"); retries != "" {
		val, err := strconv.Atoi(retries)
		if err != nil {
			return fmt.Errorf("FAVMIRROR_MAX_RETRIES: %w", err)
		}
		c.Backoff.MaxRetries = val
	}
	if base := os.Getenv("FAVMIRROR_BASE_DELAY"); base != "" {
		val, err := time.ParseDuration(base)
		if err != nil {
			return fmt.Errorf("FAVMIRROR_BASE_DELAY: %w", err)
		}
		c.Backoff.BaseDelay = val
	}
	if rpm := os.Getenv("FAVMIRROR_REQUESTS_PER_MINUTE"); rpm != "" {
		val, err := strconv.Atoi(rpm)
		if err != nil {
			return fmt.Errorf("FAVMIRROR_REQUESTS_PER_MINUTE: %w", err)
		}
		c.RateLimit.RequestsPerMinute = val
	}

	if journal := os.Getenv("FAVMIRROR_JOURNAL_PATH"); journal != "" {
		c.Journal.Path = journal
	}
	if enabled := os.Getenv("FAVMIRROR_JOURNAL_ENABLED"); enabled != "" {
		c.Journal.Enabled = strings.ToLower(enabled) == "true"
	}
	if addr := os.Getenv("FAVMIRROR_METRICS_ADDR"); addr != "" {
		c.Metrics.Address = addr
	}

	if logLevel := os.Getenv("FAVMIRROR_LOG_LEVEL"); logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFile := os.Getenv("FAVMIRROR_LOG_FILE"); logFile != "" {
		c.Logging.File = logFile
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(path string) error {
	if path == "" {
		path = c.findConfigFile()
		if path == "" {
			return nil // No config file found, not an error
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// findConfigFile searches for config file in standard locations
func (c *Config) findConfigFile() string {
	home := os.Getenv("HOME")
	locations := []string{
		".favmirror.yaml",
		".favmirror.yml",
		filepath.Join(home, ".config", "favmirror", "config.yaml"),
		filepath.Join(home, ".config", "favmirror", "config.yml"),
		filepath.Join(home, ".favmirror.yaml"),
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc
		}
	}

	return ""
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Gallery.BaseURL == "" {
		errs = append(errs, errors.New("gallery base URL is required"))
	} else if u, err := url.Parse(c.Gallery.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("gallery base URL %q is not an absolute URL", c.Gallery.BaseURL))
	}
	if c.Store.URL == "" {
		errs = append(errs, errors.New("store URL is required"))
	}
	if c.Gallery.Timeout <= 0 || c.Store.Timeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	if c.Backoff.BaseDelay <= 0 {
		errs = append(errs, errors.New("backoff base delay must be positive"))
	}
	if c.Backoff.Jitter < 0 {
		errs = append(errs, errors.New("backoff jitter cannot be negative"))
	}
	if c.Backoff.GrowthFactor < 1 {
		errs = append(errs, errors.New("backoff growth factor must be at least 1"))
	}
	if c.Backoff.DecayFactor <= 0 || c.Backoff.DecayFactor > 1 {
		errs = append(errs, errors.New("backoff decay factor must be in (0, 1]"))
	}
	if c.Backoff.SuccessStreak <= 0 {
		errs = append(errs, errors.New("backoff success streak must be positive"))
	}
	if c.Backoff.MaxRetries <= 0 {
		errs = append(errs, errors.New("max retries must be positive"))
	}

	if c.RateLimit.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("requests per minute cannot be negative"))
	}
	if c.RateLimit.RequestsPerMinute > 0 && c.RateLimit.BurstSize <= 0 {
		errs = append(errs, errors.New("burst size must be positive"))
	}

	if c.Sync.PageSize <= 0 {
		errs = append(errs, errors.New("page size must be positive"))
	}
	if c.Sync.SafetyMargin < 0 {
		errs = append(errs, errors.New("safety margin cannot be negative"))
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, errors.New("journal path is required when the journal is enabled"))
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "disabled": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, errors.New("invalid log level"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// MergeCommandLineFlags merges command line flags into the configuration
func (c *Config) MergeCommandLineFlags(flags map[string]interface{}) {
	if baseURL, ok := flags["gallery-url"].(string); ok && baseURL != "" {
		c.Gallery.BaseURL = baseURL
	}
	if storeURL, ok := flags["store-url"].(string); ok && storeURL != "" {
		c.Store.URL = storeURL
	}
	if retries, ok := flags["max-retries"].(int); ok && retries > 0 {
		c.Backoff.MaxRetries = retries
	}
	if rpm, ok := flags["requests-per-minute"].(int); ok && rpm >= 0 {
		c.RateLimit.RequestsPerMinute = rpm
	}
	if journal, ok := flags["journal"].(bool); ok {
		c.Journal.Enabled = journal
	}
	if addr, ok := flags["metrics-addr"].(string); ok && addr != "" {
		c.Metrics.Address = addr
	}
	if logLevel, ok := flags["log-level"].(string); ok && logLevel != "" {
		c.Logging.Level = logLevel
	}
}

// Load loads configuration from all sources with proper precedence and
// validates the result.
// Precedence order: Command line flags > Environment variables > .env file > Config file > Defaults
func Load(configPath string, flags map[string]interface{}) (*Config, error) {
	config, err := Resolve(configPath, flags)
	if err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Resolve merges every configuration source like Load but skips
// validation, so incomplete configurations can still be inspected.
func Resolve(configPath string, flags map[string]interface{}) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join(os.Getenv("HOME"), ".favmirror.env"))

	config := DefaultConfig()

	if err := config.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	if err := config.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	config.MergeCommandLineFlags(flags)

	return config, nil
}

// defaultDataDir follows XDG_DATA_HOME, falling back to ~/.local/share
func defaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "favmirror")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".favmirror"
	}
	return filepath.Join(home, ".local", "share", "favmirror")
}
