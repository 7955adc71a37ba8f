package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
)

var ErrInvalidSettings = errors.New("invalid webhook settings")

const settingsCacheTTL = time.Minute

var settingsCacheKey = cache.SettingsKey("zapier_webhook")

type webhookSettingsStore interface {
	GetWebhookSettings(ctx context.Context) (models.WebhookSettings, error)
	PutWebhookSettings(ctx context.Context, settings models.WebhookSettings) error
}

// SettingsUpdate replaces every field; a nil Secret keeps the stored one.
type SettingsUpdate struct {
	Settings models.WebhookSettings
	Secret   *string
}

type SettingsService struct {
	store     webhookSettingsStore
	cache     cache.Provider
	encryptor crypto.Encryptor
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewSettingsService(store webhookSettingsStore, cacheProvider cache.Provider, encryptor crypto.Encryptor, logger *slog.Logger) *SettingsService {
	return &SettingsService{
		store:     store,
		cache:     cacheProvider,
		encryptor: encryptor,
		validate:  validator.New(),
		logger:    logger,
	}
}

func (s *SettingsService) Get(ctx context.Context) (models.WebhookSettings, error) {
	if settings, ok := s.cached(ctx); ok {
		return settings, nil
	}

	settings, err := s.store.GetWebhookSettings(ctx)
	if err != nil {
		return settings, fmt.Errorf("failed to load webhook settings: %w", err)
	}
	s.remember(ctx, settings)
	return settings, nil
}

func (s *SettingsService) Update(ctx context.Context, update SettingsUpdate) (models.WebhookSettings, error) {
	settings := update.Settings
	settings.URL = strings.TrimSpace(settings.URL)

	if update.Secret == nil {
		current, err := s.store.GetWebhookSettings(ctx)
		if err != nil {
			return settings, fmt.Errorf("failed to load webhook settings: %w", err)
		}
		settings.Secret = current.Secret
	} else {
		settings.Secret = strings.TrimSpace(*update.Secret)
	}

	if err := s.Validate(settings); err != nil {
		return settings, err
	}

	if err := s.store.PutWebhookSettings(ctx, settings); err != nil {
		return settings, fmt.Errorf("failed to save webhook settings: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Delete(ctx, settingsCacheKey); err != nil {
			logging.FromContext(ctx, s.logger).Warn("failed to invalidate webhook settings cache", "error", err)
		}
	}
	return settings, nil
}

// Validate checks field bounds and that an enabled webhook has an http(s) URL.
func (s *SettingsService) Validate(settings models.WebhookSettings) error {
	if err := s.validate.Struct(settings); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	if settings.Enabled && settings.URL == "" {
		return fmt.Errorf("%w: url is required when the webhook is enabled", ErrInvalidSettings)
	}
	if settings.URL != "" {
		parsed, err := url.Parse(settings.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
			return fmt.Errorf("%w: url must be an absolute http(s) URL", ErrInvalidSettings)
		}
	}
	return nil
}

// Cached entries keep the secret sealed so Redis never holds it in clear text.
func (s *SettingsService) cached(ctx context.Context) (models.WebhookSettings, bool) {
	var settings models.WebhookSettings
	if s.cache == nil || s.encryptor == nil {
		return settings, false
	}
	raw, err := s.cache.Get(ctx, settingsCacheKey)
	if err != nil {
		return settings, false
	}
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return settings, false
	}
	secret, err := s.encryptor.Decrypt(settings.Secret)
	if err != nil {
		return settings, false
	}
	settings.Secret = secret
	return settings, true
}

func (s *SettingsService) remember(ctx context.Context, settings models.WebhookSettings) {
	if s.cache == nil || s.encryptor == nil {
		return
	}
	logger := logging.FromContext(ctx, s.logger)

	sealed, err := s.encryptor.Encrypt(settings.Secret)
	if err != nil {
		logger.Warn("failed to seal webhook secret for cache", "error", err)
		return
	}
	settings.Secret = sealed
	raw, err := json.Marshal(settings)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, settingsCacheKey, string(raw), settingsCacheTTL); err != nil {
		logger.Warn("failed to cache webhook settings", "error", err)
	}
}
