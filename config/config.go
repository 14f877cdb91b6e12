package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the upstream ADX report endpoint.
	DefaultBaseURL = "https://api.adoptima.net/get_app_data/get_adx"
	// DefaultTimeout bounds the single upstream request of a run.
	DefaultTimeout = 30 * time.Second
	// DefaultDataDirectory is where the env-driven job publishes files.
	DefaultDataDirectory = "public/data"
	DefaultLogDirectory  = "logs"
	DefaultRetentionDays = 30
	DefaultServerAddress = "0.0.0.0:8080"
)

// ErrMissingCredentials is returned when no upstream username/password pair
// can be resolved.
var ErrMissingCredentials = errors.New("missing API credentials")

type Config struct {
	App     AppConfig     `yaml:"app"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type AppConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type APIConfig struct {
	BaseURL  string              `yaml:"base_url"`
	Username string              `yaml:"username"`
	Password string              `yaml:"password"`
	Timeout  time.Duration       `yaml:"timeout"`
	Fallback FallbackCredentials `yaml:"fallback"`
}

// FallbackCredentials are only used when explicitly enabled and the primary
// credentials are absent.
type FallbackCredentials struct {
	Enabled  bool   `yaml:"enabled"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type StorageConfig struct {
	DataDirectory string   `yaml:"data_directory"`
	LogDirectory  string   `yaml:"log_directory"`
	S3            S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Prefix          string `yaml:"prefix"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSizeMB     int    `yaml:"max_size_mb"`
}

type ServerConfig struct {
	Address   string          `yaml:"address"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type MetricsConfig struct {
	CloudWatch CloudWatchConfig `yaml:"cloudwatch"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
}

// Credentials is the upstream username/password pair. It is passed through
// to the API as-is and must never be logged.
type Credentials struct {
	Username string
	Password string
}

// Valid reports whether both halves are present.
func (c Credentials) Valid() bool {
	return c.Username != "" && c.Password != ""
}

// String hides the password so credentials can't leak through %v.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username:%q, Password:<redacted>}", c.Username)
}

// Defaults returns a Config with every optional field populated.
func Defaults() Config {
	return Config{
		App: AppConfig{Name: "adxsync", Version: "dev"},
		API: APIConfig{
			BaseURL: DefaultBaseURL,
			Timeout: DefaultTimeout,
		},
		Storage: StorageConfig{
			DataDirectory: DefaultDataDirectory,
			LogDirectory:  DefaultLogDirectory,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "text",
			RetentionDays: DefaultRetentionDays,
		},
		Server: ServerConfig{Address: DefaultServerAddress},
	}
}

// LoadConfig reads a JSON or YAML configuration file and validates it.
// Credentials, the base URL and directories come from the file only; the
// environment may still adjust logging, the listen address and S3.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Defaults()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyRuntimeOverrides(&config)
	normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// FromEnv builds a configuration purely from defaults and environment
// variables. It is used by the env-driven job and the API server.
func FromEnv() (*Config, error) {
	config := Defaults()
	applyEnvOverrides(&config)
	normalize(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

func normalize(cfg *Config) {
	cfg.API.BaseURL = strings.TrimSpace(cfg.API.BaseURL)
	cfg.Storage.S3.Bucket = strings.TrimSpace(cfg.Storage.S3.Bucket)
	cfg.Storage.S3.Prefix = strings.Trim(strings.TrimSpace(cfg.Storage.S3.Prefix), "/")

	if cfg.API.Timeout <= 0 {
		cfg.API.Timeout = DefaultTimeout
	}
	if cfg.Logging.RetentionDays <= 0 {
		cfg.Logging.RetentionDays = DefaultRetentionDays
	}
	if cfg.Storage.LogDirectory == "" {
		cfg.Storage.LogDirectory = DefaultLogDirectory
	}
}

func validateConfig(cfg *Config) error {
	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url '%s' must be an http(s) URL", cfg.API.BaseURL)
	}

	if cfg.Storage.DataDirectory == "" {
		return fmt.Errorf("storage.data_directory is required")
	}

	if cfg.Server.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must not be negative")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

// Credentials resolves the upstream credentials. The primary pair always
// wins. The fallback pair is used only when enabled and never in a
// production-like environment; usedFallback reports when that happened so
// callers can warn about it.
func (c *Config) Credentials() (creds Credentials, usedFallback bool, err error) {
	primary := Credentials{Username: c.API.Username, Password: c.API.Password}
	if primary.Valid() {
		return primary, false, nil
	}

	fb := c.API.Fallback
	if !fb.Enabled {
		return Credentials{}, false, ErrMissingCredentials
	}
	if IsProductionLike(AppEnvironment()) {
		return Credentials{}, false, fmt.Errorf("%w: fallback credentials are disabled in %s", ErrMissingCredentials, AppEnvironment())
	}

	fallback := Credentials{Username: fb.Username, Password: fb.Password}
	if !fallback.Valid() {
		return Credentials{}, false, fmt.Errorf("%w: fallback enabled but incomplete", ErrMissingCredentials)
	}
	return fallback, true, nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
