package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET,required" validate:"required"`
	BaseURL             string `env:"BASE_URL" validate:"omitempty,url"`

	CacheProvider             string        `env:"CACHE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	DebugSessionStoreProvider string        `env:"DEBUG_SESSION_STORE_PROVIDER" envDefault:"memory" validate:"omitempty,oneof=memory redis"`
	DebugSessionTTL           time.Duration `env:"DEBUG_SESSION_TTL" envDefault:"1h" validate:"min=1m"`
	RedisConnectionString     string        `env:"REDIS_CONNECTION_STRING" envDefault:"redis://localhost:6379/0" validate:"required_if=CacheProvider redis,required_if=DebugSessionStoreProvider redis"`

	OrderWriteMaxRetries int           `env:"ORDER_WRITE_MAX_RETRIES" envDefault:"3" validate:"min=1,max=10"`
	OrderWriteBaseDelay  time.Duration `env:"ORDER_WRITE_BASE_DELAY" envDefault:"200ms" validate:"min=0"`

	DiagnosticReachTimeout time.Duration `env:"DIAGNOSTIC_REACH_TIMEOUT" envDefault:"5s" validate:"min=100ms,max=30s"`
	WebhookMaxPayloadBytes int           `env:"WEBHOOK_MAX_PAYLOAD_BYTES" envDefault:"262144" validate:"min=1024"`

	EncryptionKey string `env:"ENCRYPTION_KEY,required" validate:"required,len=32"`
	AdminAPIToken string `env:"ADMIN_API_TOKEN,required" validate:"required,min=16"`

	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM" validate:"omitempty,email"`

	SentryDSN         string `env:"SENTRY_DSN"`
	SentryEnvironment string `env:"SENTRY_ENVIRONMENT" envDefault:"development"`

	LogLevel  slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat string     `env:"LOG_FORMAT" envDefault:"text" validate:"omitempty,oneof=text json"`
	Port      string     `env:"PORT" envDefault:"8080"`
}

var configValidator = validator.New()

func Load() (*Config, error) {
	var cfg Config

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// PaymentLinksEnabled reports whether Stripe checkout links can be created.
func (c *Config) PaymentLinksEnabled() bool {
	return c != nil && strings.TrimSpace(c.StripeSecretKey) != "" && strings.TrimSpace(c.BaseURL) != ""
}

// EmailEnabled reports whether confirmation e-mails can be sent.
func (c *Config) EmailEnabled() bool {
	return c != nil && strings.TrimSpace(c.ResendAPIKey) != "" && strings.TrimSpace(c.EmailFrom) != ""
}

func (c *Config) validate() error {
	if err := configValidator.Struct(c); err != nil {
		return err
	}

	hasResendKey := strings.TrimSpace(c.ResendAPIKey) != ""
	hasEmailFrom := strings.TrimSpace(c.EmailFrom) != ""
	if hasResendKey != hasEmailFrom {
		return fmt.Errorf("RESEND_API_KEY and EMAIL_FROM must be set together")
	}

	baseURL := strings.TrimSpace(c.BaseURL)
	if strings.TrimSpace(c.StripeSecretKey) != "" && baseURL == "" {
		return fmt.Errorf("BASE_URL is required when STRIPE_SECRET_KEY is set")
	}

	if baseURL != "" {
		parsed, err := url.Parse(baseURL)
		if err != nil || parsed.Hostname() == "" {
			return fmt.Errorf("BASE_URL must be a valid absolute URL")
		}
		if !isLocalHost(parsed.Hostname()) && !strings.EqualFold(parsed.Scheme, "https") {
			return fmt.Errorf("BASE_URL must use https outside local development")
		}
	}

	return nil
}

func isLocalHost(host string) bool {
	switch strings.ToLower(strings.TrimSpace(host)) {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
