// Package config loads and validates the YAML runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ibam-learn/enrollgw/internal/catalog"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// Load reads, interpolates and validates configuration from a file.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	// Apply environment variable interpolation before parsing so secrets
	// never live in the file itself.
	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DiscoverConfig finds the config file by checking standard locations.
// Priority order: $ENROLLGW_CONFIG, ~/.config/enrollgw/config.yaml,
// /etc/enrollgw/config.yaml, ./config.yaml.
func DiscoverConfig() (string, error) {
	if path := os.Getenv("ENROLLGW_CONFIG"); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".config", "enrollgw", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath, nil
		}
	}

	systemPath := "/etc/enrollgw/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath, nil
	}

	legacyPath := "./config.yaml"
	if _, err := os.Stat(legacyPath); err == nil {
		return legacyPath, nil
	}

	return "", fmt.Errorf("no config found (checked: $ENROLLGW_CONFIG, ~/.config/enrollgw, /etc/enrollgw, ./config.yaml)")
}

// Catalog builds the tag-resolution catalog from the config's override
// tables, falling back to the compiled-in production tables.
func (c *Config) Catalog() (*catalog.Catalog, error) {
	tiers := c.Memberships
	if len(tiers) == 0 {
		tiers = catalog.DefaultTiers()
	}
	courses := c.Courses
	if len(courses) == 0 {
		courses = catalog.DefaultCourses()
	}
	return catalog.New(tiers, courses)
}

// applyDefaults merges default values into config where not explicitly set.
func applyDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.LogLevel == "" {
		cfg.LogLevel = defaults.LogLevel
	}
	if cfg.Listen == "" {
		cfg.Listen = defaults.Listen
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = defaults.Database.Path
	}
	if cfg.Webhook.MaxBodySize == 0 {
		cfg.Webhook.MaxBodySize = defaults.Webhook.MaxBodySize
	}
	if cfg.Webhook.RateLimit.WindowSeconds == 0 {
		cfg.Webhook.RateLimit.WindowSeconds = defaults.Webhook.RateLimit.WindowSeconds
	}
	if cfg.Webhook.RateLimit.MaxRequests == 0 {
		cfg.Webhook.RateLimit.MaxRequests = defaults.Webhook.RateLimit.MaxRequests
	}
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return fmt.Errorf("log_level must be one of: debug, info, warn, error (got %q)", cfg.LogLevel)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if cfg.Webhook.Secret == "" {
		return fmt.Errorf("webhook.secret is required")
	}
	if unresolved(cfg.Webhook.Secret) {
		return fmt.Errorf("webhook.secret: environment variable %s is not set", cfg.Webhook.Secret)
	}

	if cfg.Webhook.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("webhook.rate_limit.window_seconds must be positive")
	}
	if cfg.Webhook.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("webhook.rate_limit.max_requests must be positive")
	}

	if !cfg.Email.Mock {
		if cfg.Email.APIKey == "" {
			return fmt.Errorf("email.api_key is required unless email.mock is set")
		}
		if unresolved(cfg.Email.APIKey) {
			return fmt.Errorf("email.api_key: environment variable %s is not set", cfg.Email.APIKey)
		}
		if cfg.Email.From == "" {
			return fmt.Errorf("email.from is required unless email.mock is set")
		}
		if cfg.BaseURL == "" {
			return fmt.Errorf("base_url is required unless email.mock is set")
		}
	}

	// Override tables are validated by building the catalog, so config
	// check surfaces duplicate tags before the server starts.
	if _, err := cfg.Catalog(); err != nil {
		return fmt.Errorf("catalog: %w", err)
	}

	return nil
}

// unresolved reports whether a value is still a ${VAR} placeholder, meaning
// the referenced environment variable was not set at load time.
func unresolved(value string) bool {
	return envVarPattern.MatchString(value)
}
