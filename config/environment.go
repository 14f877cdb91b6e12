package config

import (
	"os"
	"strconv"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

const (
	// EnvironmentDevelopment exposes the canonical development environment
	// identifier.
	EnvironmentDevelopment = environmentDevelopment
	// EnvironmentProduction exposes the canonical production environment
	// identifier.
	EnvironmentProduction = environmentProduction
	// EnvironmentStaging exposes the canonical staging environment
	// identifier.
	EnvironmentStaging = environmentStaging
)

var environmentAliases = map[string]string{
	"prod":        environmentProduction,
	"producation": environmentProduction,
	"stag":        environmentStaging,
	"stagging":    environmentStaging,
}

// getAppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func getAppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// AppEnvironment exposes the current application environment as configured
// through the APP_ENV environment variable, normalised through the alias
// table.
func AppEnvironment() string {
	return getAppEnvironment()
}

// IsProductionLike reports whether the provided environment should behave like
// a production deployment. Production-like environments refuse fallback
// credentials.
func IsProductionLike(env string) bool {
	switch env {
	case environmentProduction, environmentStaging:
		return true
	default:
		return false
	}
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	applySourceOverrides(cfg)
	applyRuntimeOverrides(cfg)
}

// applySourceOverrides covers the upstream endpoint, credentials and
// directories. A config file is authoritative for these, so LoadConfig
// skips them.
func applySourceOverrides(cfg *Config) {
	if v := os.Getenv("API_BASE_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("API_USERNAME"); v != "" {
		cfg.API.Username = v
	}
	if v := os.Getenv("API_PASSWORD"); v != "" {
		cfg.API.Password = v
	}

	if v, err := strconv.ParseBool(os.Getenv("API_ALLOW_FALLBACK_CREDENTIALS")); err == nil {
		cfg.API.Fallback.Enabled = v
	}
	if v := os.Getenv("API_FALLBACK_USERNAME"); v != "" {
		cfg.API.Fallback.Username = v
	}
	if v := os.Getenv("API_FALLBACK_PASSWORD"); v != "" {
		cfg.API.Fallback.Password = v
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDirectory = v
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		cfg.Storage.LogDirectory = v
	}
}

// applyRuntimeOverrides covers logging, the listen address and S3. S3_ENABLED
// switches the mirror on; the AWS variables apply only while it is enabled.
func applyRuntimeOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ADDR"); v != "" {
		cfg.Server.Address = v
	}

	if v, err := strconv.ParseBool(os.Getenv("S3_ENABLED")); err == nil {
		cfg.Storage.S3.Enabled = v
	}

	// S3 settings follow the standard AWS variable names.
	if cfg.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}
}
