package handlers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/config"
	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/services"
)

const (
	testWebhookSecret = "whsec_test_secret"
	testAdminToken    = "admin-token-0123456789"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

// fakeEventService records which handler a routed event reached.
type fakeEventService struct {
	mu      sync.Mutex
	calls   []string
	outcome services.EventOutcome
	err     error
}

func (f *fakeEventService) record(name string) (services.EventOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	return f.outcome, f.err
}

func (f *fakeEventService) HandleCheckoutSessionCompleted(context.Context, []byte) (services.EventOutcome, error) {
	return f.record("checkout.session.completed")
}

func (f *fakeEventService) HandleCheckoutSessionExpired(context.Context, []byte) (services.EventOutcome, error) {
	return f.record("checkout.session.expired")
}

func (f *fakeEventService) HandleInvoicePaymentSucceeded(context.Context, []byte) (services.EventOutcome, error) {
	return f.record("invoice.payment_succeeded")
}

func (f *fakeEventService) HandleInvoicePaymentFailed(context.Context, []byte) (services.EventOutcome, error) {
	return f.record("invoice.payment_failed")
}

func (f *fakeEventService) HandleInvoiceFinalized(context.Context, []byte) (services.EventOutcome, error) {
	return f.record("invoice.finalized")
}

func (f *fakeEventService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeOrders struct {
	orders     map[string]*models.Order
	updateErr  error
	updatedIDs []uuid.UUID
}

func (f *fakeOrders) GetByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	order, ok := f.orders[orderNumber]
	if !ok {
		return nil, db.ErrNotFound
	}
	copied := *order
	return &copied, nil
}

func (f *fakeOrders) UpdateItems(_ context.Context, orderID uuid.UUID, _ []models.LineItem, _, _ int) error {
	f.updatedIDs = append(f.updatedIDs, orderID)
	return f.updateErr
}

type fakeDeliveryLogReader struct {
	logs []*models.WebhookDeliveryLog
}

func (f *fakeDeliveryLogReader) ListByOrder(_ context.Context, orderID uuid.UUID, _ int) ([]*models.WebhookDeliveryLog, error) {
	var out []*models.WebhookDeliveryLog
	for _, entry := range f.logs {
		if entry.OrderID == orderID {
			out = append(out, entry)
		}
	}
	return out, nil
}

type fakeSettingsService struct {
	settings models.WebhookSettings
	updates  []services.SettingsUpdate
	err      error
}

func (f *fakeSettingsService) Get(context.Context) (models.WebhookSettings, error) {
	return f.settings, nil
}

func (f *fakeSettingsService) Update(_ context.Context, update services.SettingsUpdate) (models.WebhookSettings, error) {
	f.updates = append(f.updates, update)
	if f.err != nil {
		return update.Settings, f.err
	}
	saved := update.Settings
	if update.Secret != nil {
		saved.Secret = *update.Secret
	}
	f.settings = saved
	return saved, nil
}

type fakeDispatcher struct {
	result *services.DispatchResult
	err    error
	events []models.WebhookEvent
	report services.QueueReport
	limits []int
}

func (f *fakeDispatcher) Dispatch(_ context.Context, _ *models.Order, event models.WebhookEvent) (*services.DispatchResult, error) {
	f.events = append(f.events, event)
	return f.result, f.err
}

func (f *fakeDispatcher) ProcessQueue(_ context.Context, limit int) (services.QueueReport, error) {
	f.limits = append(f.limits, limit)
	return f.report, nil
}

type fakeDiagnostics struct {
	report   *services.DiagnosticReport
	sessions map[uuid.UUID]*models.DebugSession
	history  *services.DiagnosticHistory
	limits   []int
}

func (f *fakeDiagnostics) Run(_ context.Context, orderNumber string) (*services.DiagnosticReport, error) {
	report := *f.report
	report.OrderNumber = orderNumber
	return &report, nil
}

func (f *fakeDiagnostics) Session(_ context.Context, id uuid.UUID) (*models.DebugSession, bool) {
	session, ok := f.sessions[id]
	return session, ok
}

func (f *fakeDiagnostics) DiscardSession(_ context.Context, id uuid.UUID) bool {
	if _, ok := f.sessions[id]; !ok {
		return false
	}
	delete(f.sessions, id)
	return true
}

func (f *fakeDiagnostics) History(_ context.Context, limit int) (*services.DiagnosticHistory, error) {
	f.limits = append(f.limits, limit)
	return f.history, nil
}

type fakeCheckout struct {
	link *services.PaymentLink
	err  error
}

func (f *fakeCheckout) CreatePaymentLink(context.Context, string) (*services.PaymentLink, error) {
	return f.link, f.err
}

type testHandlers struct {
	handlers    *Handlers
	events      *fakeEventService
	orders      *fakeOrders
	logs        *fakeDeliveryLogReader
	settings    *fakeSettingsService
	dispatcher  *fakeDispatcher
	diagnostics *fakeDiagnostics
	checkout    *fakeCheckout
}

func newTestHandlers(t *testing.T) *testHandlers {
	t.Helper()

	provider, err := cache.NewMemoryProvider()
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   "BP-1001",
		CustomerEmail: "lifter@example.com",
		Items:         []models.LineItem{{WeightLbs: 45, Quantity: 2, UnitPriceCents: 12900}},
		PaymentStatus: models.PaymentPending,
	}

	th := &testHandlers{
		events:      &fakeEventService{},
		orders:      &fakeOrders{orders: map[string]*models.Order{order.OrderNumber: order}},
		logs:        &fakeDeliveryLogReader{},
		settings:    &fakeSettingsService{settings: models.DefaultWebhookSettings()},
		dispatcher:  &fakeDispatcher{},
		diagnostics: &fakeDiagnostics{report: &services.DiagnosticReport{SessionID: uuid.New(), Success: true, TotalSteps: 5, CompletedSteps: 5}},
		checkout:    &fakeCheckout{},
	}

	h, err := New(Dependencies{
		Config:        &config.Config{StripeWebhookSecret: testWebhookSecret, AdminAPIToken: testAdminToken},
		DB:            fakePinger{},
		CacheProvider: provider,
		StripeRouter:  NewStripeEventRouter(th.events, discardLogger()),
		Orders:        th.orders,
		DeliveryLogs:  th.logs,
		Settings:      th.settings,
		Dispatcher:    th.dispatcher,
		Diagnostics:   th.diagnostics,
		Checkout:      th.checkout,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatalf("failed to build handlers: %v", err)
	}
	th.handlers = h
	return th
}
