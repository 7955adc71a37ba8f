package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/config"
	"github.com/bumperworks/preorders/internal/crypto"
	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/debugsession"
	"github.com/bumperworks/preorders/internal/email"
	"github.com/bumperworks/preorders/internal/handlers"
	"github.com/bumperworks/preorders/internal/observability"
	"github.com/bumperworks/preorders/internal/services"
	"github.com/bumperworks/preorders/internal/stripe"
	"github.com/bumperworks/preorders/internal/zapier"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	DB            *pgxpool.Pool
	CacheProvider cache.Provider
	DebugSessions debugsession.Store
	Handlers      *handlers.Handlers
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	if err := initSentry(cfg); err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	database, err := db.Connect(startupCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	cacheProvider, err := cache.NewProvider(cache.Config{
		Provider:              cfg.CacheProvider,
		RedisConnectionString: cfg.RedisConnectionString,
	})
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to initialize cache provider: %w", err)
	}

	debugSessions, err := debugsession.NewStore(startupCtx, debugsession.Config{
		Provider:              cfg.DebugSessionStoreProvider,
		RedisConnectionString: cfg.RedisConnectionString,
		TTL:                   cfg.DebugSessionTTL,
	})
	if err != nil {
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize debug session store: %w", err)
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKey)
	if err != nil {
		closeDebugSessions(logger, debugSessions)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	settingsStore, err := db.NewSettingsStore(database, encryptor)
	if err != nil {
		closeDebugSessions(logger, debugSessions)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize settings store: %w", err)
	}
	orderStore := db.NewOrderStore(database)
	timelineStore := db.NewTimelineStore(database)
	customerStore := db.NewCustomerStore(database)
	queueStore := db.NewWebhookQueueStore(database)
	deliveryLogStore := db.NewDeliveryLogStore(database)
	debugLogStore := db.NewDebugLogStore(database)

	zapierClient := zapier.NewClient(observability.NewHTTPClient(0))

	settingsService := services.NewSettingsService(settingsStore, cacheProvider, encryptor, logger.With("component", "settings_service"))
	dispatcher := services.NewDispatcher(
		settingsService,
		queueStore,
		deliveryLogStore,
		zapierClient,
		cfg.WebhookMaxPayloadBytes,
		logger.With("component", "webhook_dispatcher"),
	)
	retrier := services.NewWriteRetrier(services.RetryPolicy{
		MaxRetries: cfg.OrderWriteMaxRetries,
		BaseDelay:  cfg.OrderWriteBaseDelay,
	}, logger.With("component", "write_retrier"))

	var mailer email.Provider
	if cfg.EmailEnabled() {
		mailer, err = email.NewProvider(email.Config{APIKey: cfg.ResendAPIKey, From: cfg.EmailFrom})
		if err != nil {
			closeDebugSessions(logger, debugSessions)
			closeCacheProvider(logger, cacheProvider)
			database.Close()
			return nil, fmt.Errorf("failed to initialize email provider: %w", err)
		}
	}

	stripeEvents, err := services.NewStripeEventService(services.StripeEventDependencies{
		Orders:    orderStore,
		Retrier:   retrier,
		Timeline:  timelineStore,
		Customers: customerStore,
		Notifier:  dispatcher,
		Mailer:    mailer,
		Logger:    logger.With("component", "stripe_events"),
	})
	if err != nil {
		closeDebugSessions(logger, debugSessions)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize stripe event service: %w", err)
	}
	stripeRouter := handlers.NewStripeEventRouter(stripeEvents, logger.With("component", "stripe_router"))

	checkoutLogger := logger.With("component", "checkout_service")
	checkoutService := services.NewCheckoutService(orderStore, nil, timelineStore, dispatcher, cfg.BaseURL, checkoutLogger)
	if cfg.PaymentLinksEnabled() {
		checkoutService = services.NewCheckoutService(orderStore, stripe.NewClient(cfg.StripeSecretKey), timelineStore, dispatcher, cfg.BaseURL, checkoutLogger)
	}

	diagnosticService, err := services.NewDiagnosticService(services.DiagnosticDependencies{
		Orders:          orderStore,
		Settings:        settingsService,
		Client:          zapierClient,
		DeliveryLogs:    deliveryLogStore,
		Sessions:        debugSessions,
		DebugLogs:       debugLogStore,
		MaxPayloadBytes: cfg.WebhookMaxPayloadBytes,
		ReachTimeout:    cfg.DiagnosticReachTimeout,
		Logger:          logger.With("component", "diagnostics"),
	})
	if err != nil {
		closeDebugSessions(logger, debugSessions)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize diagnostic service: %w", err)
	}

	h, err := handlers.New(handlers.Dependencies{
		Config:        cfg,
		DB:            database,
		CacheProvider: cacheProvider,
		StripeRouter:  stripeRouter,
		Orders:        orderStore,
		DeliveryLogs:  deliveryLogStore,
		Settings:      settingsService,
		Dispatcher:    dispatcher,
		Diagnostics:   diagnosticService,
		Checkout:      checkoutService,
		Logger:        logger,
	})
	if err != nil {
		closeDebugSessions(logger, debugSessions)
		closeCacheProvider(logger, cacheProvider)
		database.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		DB:            database,
		CacheProvider: cacheProvider,
		DebugSessions: debugSessions,
		Handlers:      h,
	}, nil
}

func (a *App) Close() {
	if a == nil {
		return
	}
	if a.DebugSessions != nil {
		closeDebugSessions(a.Logger, a.DebugSessions)
	}
	if a.CacheProvider != nil {
		closeCacheProvider(a.Logger, a.CacheProvider)
	}
	if a.DB != nil {
		a.DB.Close()
	}
	sentry.Flush(2 * time.Second)
}

func initSentry(cfg *config.Config) error {
	if strings.TrimSpace(cfg.SentryDSN) == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.SentryDSN,
		Environment:      cfg.SentryEnvironment,
		EnableTracing:    true,
		TracesSampleRate: 1.0,
	})
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	format := strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	case "text", "":
		return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
			Level: cfg.LogLevel,
		}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: cfg.LogLevel}))
}

func closeDebugSessions(logger *slog.Logger, store debugsession.Store) {
	if store == nil {
		return
	}
	if err := store.Close(); err != nil && logger != nil {
		logger.Warn("failed to close debug session store", "error", err)
	}
}

func closeCacheProvider(logger *slog.Logger, provider cache.Provider) {
	if provider == nil {
		return
	}
	if err := provider.Close(); err != nil && logger != nil {
		logger.Warn("failed to close cache provider", "error", err)
	}
}
