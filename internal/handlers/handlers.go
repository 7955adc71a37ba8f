package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/config"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/services"
)

const maxWebhookBodyBytes = 1 << 20 // 1 MB

const maxAdminBodyBytes = 64 << 10

type pinger interface {
	Ping(ctx context.Context) error
}

type stripeEventRouter interface {
	Handle(ctx context.Context, event *stripeapi.Event) (services.EventOutcome, error)
}

type orderStore interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	UpdateItems(ctx context.Context, orderID uuid.UUID, items []models.LineItem, subtotalCents, shippingCents int) error
}

type deliveryLogReader interface {
	ListByOrder(ctx context.Context, orderID uuid.UUID, limit int) ([]*models.WebhookDeliveryLog, error)
}

type settingsService interface {
	Get(ctx context.Context) (models.WebhookSettings, error)
	Update(ctx context.Context, update services.SettingsUpdate) (models.WebhookSettings, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, order *models.Order, event models.WebhookEvent) (*services.DispatchResult, error)
	ProcessQueue(ctx context.Context, limit int) (services.QueueReport, error)
}

type diagnostics interface {
	Run(ctx context.Context, orderNumber string) (*services.DiagnosticReport, error)
	Session(ctx context.Context, id uuid.UUID) (*models.DebugSession, bool)
	DiscardSession(ctx context.Context, id uuid.UUID) bool
	History(ctx context.Context, limit int) (*services.DiagnosticHistory, error)
}

type paymentLinks interface {
	CreatePaymentLink(ctx context.Context, orderNumber string) (*services.PaymentLink, error)
}

// Handlers serves the Stripe webhook and the admin API.
type Handlers struct {
	config        *config.Config
	db            pinger
	cacheProvider cache.Provider
	stripeRouter  stripeEventRouter
	orders        orderStore
	deliveryLogs  deliveryLogReader
	settings      settingsService
	dispatcher    dispatcher
	diagnostics   diagnostics
	checkout      paymentLinks
	logger        *slog.Logger
}

type Dependencies struct {
	Config        *config.Config
	DB            pinger
	CacheProvider cache.Provider
	StripeRouter  stripeEventRouter
	Orders        orderStore
	DeliveryLogs  deliveryLogReader
	Settings      settingsService
	Dispatcher    dispatcher
	Diagnostics   diagnostics
	Checkout      paymentLinks
	Logger        *slog.Logger
}

func New(deps Dependencies) (*Handlers, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if deps.Config == nil {
		return nil, fmt.Errorf("handlers dependencies: config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("handlers dependencies: db is required")
	}
	if deps.CacheProvider == nil {
		return nil, fmt.Errorf("handlers dependencies: cacheProvider is required")
	}
	if deps.StripeRouter == nil {
		return nil, fmt.Errorf("handlers dependencies: stripeRouter is required")
	}
	if deps.Orders == nil {
		return nil, fmt.Errorf("handlers dependencies: orders is required")
	}
	if deps.DeliveryLogs == nil {
		return nil, fmt.Errorf("handlers dependencies: deliveryLogs is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("handlers dependencies: settings is required")
	}
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("handlers dependencies: dispatcher is required")
	}
	if deps.Diagnostics == nil {
		return nil, fmt.Errorf("handlers dependencies: diagnostics is required")
	}
	if deps.Checkout == nil {
		return nil, fmt.Errorf("handlers dependencies: checkout is required")
	}

	return &Handlers{
		config:        deps.Config,
		db:            deps.DB,
		cacheProvider: deps.CacheProvider,
		stripeRouter:  deps.StripeRouter,
		orders:        deps.Orders,
		deliveryLogs:  deps.DeliveryLogs,
		settings:      deps.Settings,
		dispatcher:    deps.Dispatcher,
		diagnostics:   deps.Diagnostics,
		checkout:      deps.Checkout,
		logger:        logger.With("component", "handlers"),
	}, nil
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.db.Ping(pingCtx); err != nil {
		logger.Error("database health check failed", "error", err)
		h.writeError(w, r, http.StatusServiceUnavailable, "database unhealthy")
		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "not found")
}

func (h *Handlers) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, h.logger)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.loggerFromContext(r.Context()).Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	h.writeJSON(w, r, status, errorResponse{Error: message})
}

// queryLimit parses ?limit=, falling back to def for missing or invalid values.
func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
