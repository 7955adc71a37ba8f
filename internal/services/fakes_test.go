package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/email"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/stripe"
	"github.com/bumperworks/preorders/internal/zapier"
)

// fakeOrderStore behaves like the orders table for a handful of rows.
type fakeOrderStore struct {
	mu     sync.Mutex
	orders map[uuid.UUID]*models.Order

	markPaidErrs  []error
	markPaidCalls int
	lookupErr     error
	lookups       []string

	markFailedCalls    int
	markCancelledCalls int
	lockCalls          int

	// beforeMarkPaid lets a test change the stored row between read and write.
	beforeMarkPaid func(order *models.Order)
}

func newFakeOrderStore(orders ...*models.Order) *fakeOrderStore {
	store := &fakeOrderStore{orders: make(map[uuid.UUID]*models.Order)}
	for _, order := range orders {
		store.orders[order.ID] = order
	}
	return store
}

func (s *fakeOrderStore) find(match func(*models.Order) bool) (*models.Order, error) {
	var found *models.Order
	for _, order := range s.orders {
		if match(order) && (found == nil || order.CreatedAt.After(found.CreatedAt)) {
			found = order
		}
	}
	if found == nil {
		return nil, db.ErrNotFound
	}
	copied := *found
	copied.Items = append([]models.LineItem(nil), found.Items...)
	return &copied, nil
}

func (s *fakeOrderStore) GetByOrderNumber(_ context.Context, orderNumber string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, "order_number:"+orderNumber)
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.find(func(o *models.Order) bool { return o.OrderNumber == orderNumber })
}

func (s *fakeOrderStore) FindLatestPendingByEmail(_ context.Context, emailAddr string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, "email:"+emailAddr)
	return s.find(func(o *models.Order) bool {
		return strings.EqualFold(o.CustomerEmail, emailAddr) && o.PaymentStatus == models.PaymentPending
	})
}

func (s *fakeOrderStore) GetByStripeSessionID(_ context.Context, sessionID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, "session:"+sessionID)
	return s.find(func(o *models.Order) bool { return o.StripeSessionID == sessionID })
}

func (s *fakeOrderStore) GetByStripeInvoiceID(_ context.Context, invoiceID string) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, "invoice:"+invoiceID)
	return s.find(func(o *models.Order) bool { return o.StripeInvoiceID == invoiceID })
}

func (s *fakeOrderStore) MarkPaid(_ context.Context, orderID uuid.UUID, update db.PaidUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markPaidCalls++
	if len(s.markPaidErrs) > 0 {
		err := s.markPaidErrs[0]
		s.markPaidErrs = s.markPaidErrs[1:]
		if err != nil {
			return err
		}
	}
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrInvalidStatusTransition
	}
	if s.beforeMarkPaid != nil {
		s.beforeMarkPaid(order)
	}
	if order.PaymentStatus != models.PaymentPending && order.PaymentStatus != models.PaymentFailed {
		return db.ErrInvalidStatusTransition
	}
	applyPaid(order, update, time.Now())
	return nil
}

func (s *fakeOrderStore) MarkFailed(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markFailedCalls++
	order, ok := s.orders[orderID]
	if !ok || (order.PaymentStatus != models.PaymentPending && order.PaymentStatus != models.PaymentFailed) {
		return db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentFailed
	return nil
}

func (s *fakeOrderStore) MarkCancelled(_ context.Context, orderID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCancelledCalls++
	order, ok := s.orders[orderID]
	if !ok || order.PaymentStatus != models.PaymentPending {
		return db.ErrInvalidStatusTransition
	}
	order.PaymentStatus = models.PaymentCancelled
	order.Locked = false
	return nil
}

func (s *fakeOrderStore) SetInvoiceID(_ context.Context, orderID uuid.UUID, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrNotFound
	}
	order.StripeInvoiceID = invoiceID
	return nil
}

func (s *fakeOrderStore) LockWithPaymentLink(_ context.Context, orderID uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lockCalls++
	order, ok := s.orders[orderID]
	if !ok {
		return db.ErrInvalidStatusTransition
	}
	relinkable := order.PaymentStatus == models.PaymentFailed ||
		(order.PaymentStatus == models.PaymentPending && !order.Locked)
	if !relinkable {
		return db.ErrInvalidStatusTransition
	}
	order.Locked = true
	order.StripeSessionID = sessionID
	return nil
}

func (s *fakeOrderStore) get(id uuid.UUID) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.orders[id]
}

type fakeTimeline struct {
	mu     sync.Mutex
	err    error
	events []*models.TimelineEvent
}

func (f *fakeTimeline) Insert(_ context.Context, event *models.TimelineEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return f.err
}

type fakeCustomers struct {
	err     error
	touched []string
}

func (f *fakeCustomers) Touch(_ context.Context, emailAddr, _ string) error {
	f.touched = append(f.touched, emailAddr)
	return f.err
}

type fakeNotifier struct {
	mu     sync.Mutex
	err    error
	result *DispatchResult
	events []models.WebhookEvent
}

func (f *fakeNotifier) Dispatch(_ context.Context, _ *models.Order, event models.WebhookEvent) (*DispatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &DispatchResult{Event: event, Success: true, HTTPStatus: 200}, nil
}

type fakeMailer struct {
	err  error
	sent []*email.Email
}

func (f *fakeMailer) SendEmail(_ context.Context, msg *email.Email) error {
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeSettings struct {
	settings models.WebhookSettings
	err      error
}

func (f *fakeSettings) Get(context.Context) (models.WebhookSettings, error) {
	return f.settings, f.err
}

// fakeQueue rejects writes on a cancelled context, as the database driver does.
type fakeQueue struct {
	mu          sync.Mutex
	enqueued    []*models.WebhookQueueItem
	due         []*models.WebhookQueueItem
	completed   []uuid.UUID
	rescheduled map[uuid.UUID]rescheduleCall
	failed      map[uuid.UUID]int
}

type rescheduleCall struct {
	attempts    int
	nextRetryAt time.Time
	lastError   string
}

func newFakeQueue(due ...*models.WebhookQueueItem) *fakeQueue {
	return &fakeQueue{
		due:         due,
		rescheduled: make(map[uuid.UUID]rescheduleCall),
		failed:      make(map[uuid.UUID]int),
	}
}

func (q *fakeQueue) Enqueue(_ context.Context, item *models.WebhookQueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	q.enqueued = append(q.enqueued, item)
	return nil
}

func (q *fakeQueue) ClaimDue(_ context.Context, _ time.Time, limit int) ([]*models.WebhookQueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.due) > limit {
		claimed := q.due[:limit]
		q.due = q.due[limit:]
		return claimed, nil
	}
	claimed := q.due
	q.due = nil
	return claimed, nil
}

func (q *fakeQueue) Complete(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, id)
	return nil
}

func (q *fakeQueue) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.rescheduled[id] = rescheduleCall{attempts: attempts, nextRetryAt: nextRetryAt, lastError: lastError}
	return nil
}

func (q *fakeQueue) Fail(ctx context.Context, id uuid.UUID, attempts int, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[id] = attempts
	return nil
}

type fakeDeliveryLogs struct {
	mu      sync.Mutex
	entries []*models.WebhookDeliveryLog
}

func (f *fakeDeliveryLogs) Insert(_ context.Context, entry *models.WebhookDeliveryLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return nil
}

// fakeWebhookClient scripts deliveries and reachability checks without a network.
type fakeWebhookClient struct {
	mu         sync.Mutex
	deliverFn  func(req zapier.DeliveryRequest) zapier.DeliveryResult
	reach      zapier.ReachResult
	deliveries []zapier.DeliveryRequest
	reaches    []string
}

func (c *fakeWebhookClient) Deliver(_ context.Context, req zapier.DeliveryRequest) zapier.DeliveryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deliveries = append(c.deliveries, req)
	if c.deliverFn != nil {
		return c.deliverFn(req)
	}
	return zapier.DeliveryResult{StatusCode: 200, Success: true, ResponseBody: `{"status":"success"}`}
}

func (c *fakeWebhookClient) CheckReach(_ context.Context, rawURL string, _ time.Duration) zapier.ReachResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reaches = append(c.reaches, rawURL)
	return c.reach
}

func (c *fakeWebhookClient) deliveryCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deliveries)
}

type fakeDebugLogs struct {
	mu        sync.Mutex
	inserted  []*models.DebugLogEntry
	insertErr error
	viewErr   error
	view      []models.DebugSessionSummary
	rawErr    error
	raw       []models.DebugLogEntry
}

func (f *fakeDebugLogs) Insert(_ context.Context, entry *models.DebugLogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, entry)
	return nil
}

func (f *fakeDebugLogs) SummariesFromView(context.Context, int) ([]models.DebugSessionSummary, error) {
	return f.view, f.viewErr
}

func (f *fakeDebugLogs) RecentEntries(context.Context, int) ([]models.DebugLogEntry, error) {
	return f.raw, f.rawErr
}

type fakeLinkCreator struct {
	err    error
	params []stripe.PaymentLinkParams
}

func (f *fakeLinkCreator) CreatePaymentLink(_ context.Context, params stripe.PaymentLinkParams) (*stripeapi.CheckoutSession, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &stripeapi.CheckoutSession{ID: "cs_link_1", URL: "https://checkout.stripe.com/c/pay/cs_link_1"}, nil
}

func pendingOrder(orderNumber, emailAddr string) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		OrderNumber:   orderNumber,
		CustomerEmail: emailAddr,
		CustomerName:  "Sam Lifter",
		Items: []models.LineItem{
			{WeightLbs: 45, Quantity: 2, UnitPriceCents: 12900},
		},
		SubtotalCents: 25800,
		ShippingCents: 4500,
		TotalCents:    30300,
		PaymentStatus: models.PaymentPending,
		CreatedAt:     time.Now().Add(-time.Hour),
	}
}

func enabledSettings(url string) models.WebhookSettings {
	settings := models.DefaultWebhookSettings()
	settings.Enabled = true
	settings.URL = url
	settings.Secret = "whsec_outbound"
	return settings
}

// newTestRetrier never sleeps and records the delays it would have used.
func newTestRetrier(maxRetries int, delays *[]time.Duration) *WriteRetrier {
	retrier := NewWriteRetrier(RetryPolicy{MaxRetries: maxRetries, BaseDelay: 10 * time.Millisecond}, nil)
	retrier.sleep = func(_ context.Context, d time.Duration) error {
		if delays != nil {
			*delays = append(*delays, d)
		}
		return nil
	}
	return retrier
}
