package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/models"
)

type fakeSettingsStore struct {
	settings models.WebhookSettings
	gets     int
	puts     int
}

func (f *fakeSettingsStore) GetWebhookSettings(context.Context) (models.WebhookSettings, error) {
	f.gets++
	return f.settings, nil
}

func (f *fakeSettingsStore) PutWebhookSettings(_ context.Context, settings models.WebhookSettings) error {
	f.puts++
	f.settings = settings
	return nil
}

func newSettingsFixture(t *testing.T) (*SettingsService, *fakeSettingsStore, *cache.MemoryProvider) {
	t.Helper()

	provider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	encryptor, err := crypto.NewEncryptor("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}
	store := &fakeSettingsStore{settings: enabledSettings("https://hooks.zapier.com/hooks/catch/1/abc")}
	return NewSettingsService(store, provider, encryptor, nil), store, provider
}

func TestSettingsService_GetCachesWithSealedSecret(t *testing.T) {
	t.Parallel()

	service, store, provider := newSettingsFixture(t)
	ctx := context.Background()

	first, err := service.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := service.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.gets != 1 {
		t.Fatalf("expected a single store read, got %d", store.gets)
	}
	if first.Secret != "whsec_outbound" || second.Secret != "whsec_outbound" {
		t.Fatalf("secret not restored from cache: %q / %q", first.Secret, second.Secret)
	}

	raw, err := provider.Get(ctx, settingsCacheKey)
	if err != nil {
		t.Fatalf("expected cached settings: %v", err)
	}
	if strings.Contains(raw, "whsec_outbound") {
		t.Fatal("cached settings must not hold the plaintext secret")
	}
}

func TestSettingsService_UpdateInvalidatesAndKeepsSecret(t *testing.T) {
	t.Parallel()

	service, store, _ := newSettingsFixture(t)
	ctx := context.Background()
	if _, err := service.Get(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	next := enabledSettings("https://hooks.zapier.com/hooks/catch/2/def")
	next.Secret = ""
	saved, err := service.Update(ctx, SettingsUpdate{Settings: next})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Secret != "whsec_outbound" {
		t.Fatalf("nil secret must keep the stored one, got %q", saved.Secret)
	}

	got, err := service.Get(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.URL != "https://hooks.zapier.com/hooks/catch/2/def" {
		t.Fatalf("expected fresh settings after update, got %q", got.URL)
	}

	cleared := ""
	saved, err = service.Update(ctx, SettingsUpdate{Settings: next, Secret: &cleared})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if saved.Secret != "" || store.settings.Secret != "" {
		t.Fatal("an explicit empty secret must clear it")
	}
}

func TestSettingsService_Validate(t *testing.T) {
	t.Parallel()

	service, _, _ := newSettingsFixture(t)

	tests := []struct {
		name    string
		mutate  func(*models.WebhookSettings)
		wantErr bool
	}{
		{name: "valid", mutate: func(*models.WebhookSettings) {}},
		{name: "disabled without url", mutate: func(s *models.WebhookSettings) { s.Enabled = false; s.URL = "" }},
		{name: "enabled without url", mutate: func(s *models.WebhookSettings) { s.URL = "" }, wantErr: true},
		{name: "non http scheme", mutate: func(s *models.WebhookSettings) { s.URL = "ftp://hooks.zapier.com/x" }, wantErr: true},
		{name: "not a url", mutate: func(s *models.WebhookSettings) { s.URL = "hooks" }, wantErr: true},
		{name: "timeout too large", mutate: func(s *models.WebhookSettings) { s.TimeoutSeconds = 120 }, wantErr: true},
		{name: "zero timeout", mutate: func(s *models.WebhookSettings) { s.TimeoutSeconds = 0 }, wantErr: true},
		{name: "too many retries", mutate: func(s *models.WebhookSettings) { s.RetryAttempts = 11 }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			settings := enabledSettings("https://hooks.zapier.com/hooks/catch/1/abc")
			tt.mutate(&settings)
			err := service.Validate(settings)
			if tt.wantErr && !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected ErrInvalidSettings, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSettingsService_UpdateRejectsInvalid(t *testing.T) {
	t.Parallel()

	service, store, _ := newSettingsFixture(t)
	bad := enabledSettings("")
	if _, err := service.Update(context.Background(), SettingsUpdate{Settings: bad}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected ErrInvalidSettings, got %v", err)
	}
	if store.puts != 0 {
		t.Fatal("invalid settings must not be saved")
	}
}
