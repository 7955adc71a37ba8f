package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/models"
)

const WebhookSettingsKey = "zapier_webhook"

// SettingsStore is the generic key-value settings table.
type SettingsStore struct {
	pool   *pgxpool.Pool
	crypto crypto.Encryptor
}

func NewSettingsStore(pool *pgxpool.Pool, encryptor crypto.Encryptor) (*SettingsStore, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	return &SettingsStore{pool: pool, crypto: encryptor}, nil
}

func (s *SettingsStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return value, nil
}

func (s *SettingsStore) Put(ctx context.Context, key string, value []byte) error {
	query := `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	_, err := s.pool.Exec(ctx, query, key, value)
	return err
}

// GetWebhookSettings returns defaults when nothing has been saved yet.
func (s *SettingsStore) GetWebhookSettings(ctx context.Context) (models.WebhookSettings, error) {
	settings := models.DefaultWebhookSettings()

	raw, err := s.Get(ctx, WebhookSettingsKey)
	if errors.Is(err, ErrNotFound) {
		return settings, nil
	}
	if err != nil {
		return settings, err
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return settings, fmt.Errorf("failed to decode webhook settings: %w", err)
	}

	secret, err := s.crypto.Decrypt(settings.Secret)
	if err != nil {
		return settings, fmt.Errorf("failed to decrypt webhook secret: %w", err)
	}
	settings.Secret = secret
	return settings, nil
}

func (s *SettingsStore) PutWebhookSettings(ctx context.Context, settings models.WebhookSettings) error {
	sealed, err := s.crypto.Encrypt(settings.Secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt webhook secret: %w", err)
	}
	settings.Secret = sealed

	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to encode webhook settings: %w", err)
	}
	return s.Put(ctx, WebhookSettingsKey, raw)
}
