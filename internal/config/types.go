package config

import "github.com/ibam-learn/enrollgw/internal/catalog"

// Config is the top-level runtime configuration.
type Config struct {
	LogLevel string `yaml:"log_level"`
	Listen   string `yaml:"listen"`

	// BaseURL is the public platform origin used to build magic-login links.
	BaseURL string `yaml:"base_url"`

	Staging bool `yaml:"staging"`

	Database DatabaseConfig `yaml:"database"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Email    EmailConfig    `yaml:"email"`

	// Memberships and Courses override the compiled-in catalog tables when
	// non-empty. Leaving them out keeps the production defaults.
	Memberships []catalog.MembershipTier   `yaml:"memberships"`
	Courses     []catalog.CourseDefinition `yaml:"courses"`
}

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WebhookConfig configures inbound webhook verification and throttling.
type WebhookConfig struct {
	Secret      string          `yaml:"secret"`
	MaxBodySize int64           `yaml:"max_body_size"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig is the fixed-window limiter configuration.
type RateLimitConfig struct {
	WindowSeconds int `yaml:"window_seconds"`
	MaxRequests   int `yaml:"max_requests"`
}

// EmailConfig configures welcome-email delivery. Mock mode logs emails
// instead of sending them, for local development and staging.
type EmailConfig struct {
	Mock   bool   `yaml:"mock"`
	APIKey string `yaml:"api_key"`
	From   string `yaml:"from"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		LogLevel: "info",
		Listen:   "127.0.0.1:8080",
		Database: DatabaseConfig{
			Path: "./data/enrollgw.db",
		},
		Webhook: WebhookConfig{
			MaxBodySize: 1048576,
			RateLimit: RateLimitConfig{
				WindowSeconds: 60,
				MaxRequests:   10,
			},
		},
		Email: EmailConfig{
			Mock: true,
		},
	}
}
