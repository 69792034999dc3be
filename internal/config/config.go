// Package config provides layered configuration loading for the mail gateway:
// built-in defaults, an optional YAML file, an optional .env file and finally
// process environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in MAIL_PROVIDER.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderStdout = "stdout"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

var (
	// ErrInvalidConfig wraps every configuration validation failure.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrMissingSender is returned when EMAIL_HOST_USER is empty.
	ErrMissingSender = errors.New("EMAIL_HOST_USER não está configurado")
	// ErrMissingSecret is returned when EMAIL_HOST_PASSWORD is empty.
	ErrMissingSecret = errors.New("EMAIL_HOST_PASSWORD não está configurado")
)

// Config holds the complete application configuration.
type Config struct {
	Service  ServiceConfig `yaml:"service"`
	Provider string        `yaml:"provider" env:"MAIL_PROVIDER"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	SES      SESConfig     `yaml:"ses"`
	Limits   LimitsConfig  `yaml:"limits"`
	Logging  LoggingConfig `yaml:"logging"`
}

// ServiceConfig holds the HTTP surface configuration.
type ServiceConfig struct {
	Port        int      `yaml:"port" env:"SERVICE_PORT"`
	Environment string   `yaml:"environment" env:"APP_ENV"`
	APIPrefix   string   `yaml:"api_prefix" env:"API_PREFIX"`
	APIKey      string   `yaml:"api_key" env:"API_KEY"`
	CORSOrigins []string `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are believed. Empty means the peer address is the client.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES" envSeparator:","`
}

// SMTPConfig holds the upstream mail-submission server settings.
type SMTPConfig struct {
	Server         string        `yaml:"server" env:"SMTP_SERVER"`
	Port           int           `yaml:"port" env:"SMTP_PORT"`
	Sender         string        `yaml:"sender" env:"EMAIL_HOST_USER"`
	Secret         string        `yaml:"secret" env:"EMAIL_HOST_PASSWORD"`
	UseTLS         bool          `yaml:"use_tls" env:"EMAIL_USE_TLS"`
	HeloName       string        `yaml:"helo_name" env:"SMTP_HELO_NAME"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"SMTP_CONNECT_TIMEOUT"`
	SessionTimeout time.Duration `yaml:"session_timeout" env:"SMTP_SESSION_TIMEOUT"`
	TLSSkipVerify  bool          `yaml:"tls_skip_verify" env:"SMTP_TLS_SKIP_VERIFY"`
	TLSCAFile      string        `yaml:"tls_ca_file" env:"SMTP_TLS_CA_FILE"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region" env:"SES_REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"SES_ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secret_access_key" env:"SES_SECRET_ACCESS_KEY"`
	Sender          string `yaml:"sender" env:"SES_SENDER"`
}

// LimitsConfig holds request ceilings and rate limiting.
type LimitsConfig struct {
	MaxRequestBytes   int64         `yaml:"max_request_bytes" env:"MAX_REQUEST_BYTES"`
	MaxPayloadBytes   int64         `yaml:"max_payload_bytes" env:"MAX_PAYLOAD_BYTES"`
	RateLimitRequests int           `yaml:"rate_limit_requests" env:"RATE_LIMIT_REQUESTS"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window" env:"RATE_LIMIT_WINDOW"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `yaml:"level" env:"LOG_LEVEL"`
	File      string `yaml:"file" env:"LOG_FILE"`
	SentryDSN string `yaml:"sentry_dsn" env:"SENTRY_DSN"`
}

// Load reads an optional .env file from the working directory and then the
// process environment.
func Load() (*Config, error) {
	return LoadFromFile("")
}

// LoadFromFile loads defaults, then the YAML file at path (skipped when path is
// empty), then a .env file if one exists, then the process environment.
func LoadFromFile(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env file: %w", err)
	}
	return LoadEnviron(path, env.ToMap(os.Environ()))
}

// LoadEnviron is LoadFromFile with an explicit environment instead of the
// process one. Keys absent from environ leave the lower layers untouched.
func LoadEnviron(path string, environ map[string]string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: nonEmpty(environ)}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Service.Environment = strings.ToLower(cfg.Service.Environment)
	return cfg, nil
}

// Validate checks that the settings required by the selected provider and the
// HTTP surface are present.
func (c *Config) Validate() error {
	if c.Service.Port <= 0 || c.Service.Port > 65535 {
		return fmt.Errorf("%w: SERVICE_PORT must be between 1 and 65535", ErrInvalidConfig)
	}
	if c.Limits.MaxRequestBytes <= 0 || c.Limits.MaxPayloadBytes <= 0 {
		return fmt.Errorf("%w: request ceilings must be positive", ErrInvalidConfig)
	}
	if c.Limits.RateLimitRequests <= 0 || c.Limits.RateLimitWindow <= 0 {
		return fmt.Errorf("%w: rate limit must be positive", ErrInvalidConfig)
	}

	switch c.Provider {
	case ProviderSMTP:
		return c.ValidateSMTP()
	case ProviderSES:
		if !c.SESConfigured() {
			return fmt.Errorf("%w: SES_REGION and SES_SENDER are required", ErrInvalidConfig)
		}
		return nil
	case ProviderStdout:
		return nil
	default:
		return fmt.Errorf("%w: unknown MAIL_PROVIDER %q", ErrInvalidConfig, c.Provider)
	}
}

// ValidateSMTP checks the upstream SMTP settings. A missing sender and a
// missing secret are reported with different errors.
func (c *Config) ValidateSMTP() error {
	if c.SMTP.Sender == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingSender)
	}
	if c.SMTP.Secret == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingSecret)
	}
	if c.SMTP.Server == "" {
		return fmt.Errorf("%w: SMTP_SERVER is required", ErrInvalidConfig)
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		return fmt.Errorf("%w: SMTP_PORT must be between 1 and 65535", ErrInvalidConfig)
	}
	return nil
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// EmailConfigured reports whether the selected provider has a sender identity.
func (c *Config) EmailConfigured() bool {
	switch c.Provider {
	case ProviderSES:
		return c.SES.Sender != ""
	case ProviderStdout:
		return true
	default:
		return c.SMTP.Sender != "" && c.SMTP.Secret != ""
	}
}

// Development reports whether the service runs in development mode.
func (c *Config) Development() bool {
	return c.Service.Environment == EnvDevelopment
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Service.Port = 5000
	c.Service.Environment = EnvProduction
	c.Service.APIPrefix = "/api"
	c.Provider = ProviderSMTP

	c.SMTP.Server = "smtp.gmail.com"
	c.SMTP.Port = 587
	c.SMTP.UseTLS = true
	c.SMTP.HeloName = "localhost"
	c.SMTP.ConnectTimeout = 10 * time.Second
	c.SMTP.SessionTimeout = 60 * time.Second

	c.Limits.MaxRequestBytes = 1 << 20
	c.Limits.MaxPayloadBytes = 100 * 1024
	c.Limits.RateLimitRequests = 10
	c.Limits.RateLimitWindow = time.Minute

	c.Logging.Level = "info"
	c.Logging.File = "logs/api.log"
}

// nonEmpty drops empty values so an exported-but-empty variable does not
// clobber a YAML or default value.
func nonEmpty(environ map[string]string) map[string]string {
	out := make(map[string]string, len(environ))
	for k, v := range environ {
		if v != "" {
			out[k] = v
		}
	}
	return out
}
