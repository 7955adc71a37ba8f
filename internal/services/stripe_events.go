package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/email"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/stripe"
)

const (
	TimelinePaymentReceived    = "payment_received"
	TimelinePaymentFailed      = "payment_failed"
	TimelineInvoiceFinalized   = "invoice_finalized"
	TimelineCheckoutExpired    = "checkout_expired"
	TimelinePaymentLinkCreated = "payment_link_created"
	TimelinePaymentOnCancelled = "payment_on_cancelled_order"
)

type paymentOrderStore interface {
	OrderFinder
	GetByStripeInvoiceID(ctx context.Context, invoiceID string) (*models.Order, error)
	MarkPaid(ctx context.Context, orderID uuid.UUID, update db.PaidUpdate) error
	MarkFailed(ctx context.Context, orderID uuid.UUID) error
	MarkCancelled(ctx context.Context, orderID uuid.UUID) error
	SetInvoiceID(ctx context.Context, orderID uuid.UUID, invoiceID string) error
}

type timelineWriter interface {
	Insert(ctx context.Context, event *models.TimelineEvent) error
}

type customerToucher interface {
	Touch(ctx context.Context, email, name string) error
}

type orderNotifier interface {
	Dispatch(ctx context.Context, order *models.Order, event models.WebhookEvent) (*DispatchResult, error)
}

// EventOutcome tells the HTTP layer how an acknowledged event was handled.
type EventOutcome struct {
	OrderNumber string         `json:"order_number,omitempty"`
	Strategy    LookupStrategy `json:"lookup_strategy,omitempty"`
	NotFound    bool           `json:"-"`
	Duplicate   bool           `json:"duplicate,omitempty"`
	Ignored     bool           `json:"ignored,omitempty"`
	// NeedsReview marks a payment Stripe captured for an order that can no longer accept it.
	NeedsReview bool `json:"needs_review,omitempty"`
}

type StripeEventService struct {
	orders    paymentOrderStore
	resolver  *OrderResolver
	retrier   *WriteRetrier
	timeline  timelineWriter
	customers customerToucher
	notifier  orderNotifier
	mailer    email.Provider
	now       func() time.Time
	logger    *slog.Logger
}

type StripeEventDependencies struct {
	Orders    paymentOrderStore
	Retrier   *WriteRetrier
	Timeline  timelineWriter
	Customers customerToucher
	Notifier  orderNotifier
	// Mailer is optional.
	Mailer email.Provider
	Logger *slog.Logger
}

func NewStripeEventService(deps StripeEventDependencies) (*StripeEventService, error) {
	if deps.Orders == nil {
		return nil, fmt.Errorf("stripe event service: orders store is required")
	}
	if deps.Retrier == nil {
		return nil, fmt.Errorf("stripe event service: write retrier is required")
	}
	return &StripeEventService{
		orders:    deps.Orders,
		resolver:  NewOrderResolver(deps.Orders),
		retrier:   deps.Retrier,
		timeline:  deps.Timeline,
		customers: deps.Customers,
		notifier:  deps.Notifier,
		mailer:    deps.Mailer,
		now:       time.Now,
		logger:    deps.Logger,
	}, nil
}

func (s *StripeEventService) loggerFromContext(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, s.logger)
}

func (s *StripeEventService) HandleCheckoutSessionCompleted(ctx context.Context, payload []byte) (EventOutcome, error) {
	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return EventOutcome{}, fmt.Errorf("invalid event object: %w", err)
	}
	if session.ID == "" {
		return EventOutcome{}, fmt.Errorf("missing session ID")
	}
	ctx, logger := logging.With(ctx, s.logger, "session_id", session.ID)

	customerEmail, customerName := checkoutCustomer(&session)
	lookup := CheckoutLookup{
		OrderNumber: session.Metadata[stripe.MetadataOrderNumber],
		Email:       customerEmail,
		SessionID:   session.ID,
	}

	order, strategy, err := s.resolver.Resolve(ctx, lookup)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Error("no order found for completed checkout session",
			"metadata_order_number", lookup.OrderNumber, "customer_email", lookup.Email)
		return EventOutcome{NotFound: true}, nil
	}
	if err != nil {
		return EventOutcome{}, err
	}

	outcome := EventOutcome{OrderNumber: order.OrderNumber, Strategy: strategy}
	logger = logger.With("order_number", order.OrderNumber, "lookup_strategy", string(strategy))

	if order.IsPaid() {
		if order.StripeSessionID == session.ID {
			logger.Info("checkout session already applied")
			outcome.Duplicate = true
			return outcome, nil
		}
		logger.Warn("order already paid by another checkout session", "paid_session_id", order.StripeSessionID)
		outcome.Ignored = true
		return outcome, nil
	}
	paymentRef := map[string]any{"session_id": session.ID, "amount_total": session.AmountTotal}
	if order.PaymentStatus == models.PaymentCancelled {
		return s.paymentOnCancelledOrder(ctx, order, outcome, paymentRef), nil
	}

	update := db.PaidUpdate{
		SessionID:     session.ID,
		CustomerEmail: customerEmail,
		CustomerName:  customerName,
	}
	if session.PaymentIntent != nil {
		update.PaymentIntentID = session.PaymentIntent.ID
	}
	if session.Invoice != nil {
		update.InvoiceID = session.Invoice.ID
	}

	err = s.retrier.RetryWrite(ctx, "mark_paid", func(ctx context.Context) error {
		return s.orders.MarkPaid(ctx, order.ID, update)
	})
	if errors.Is(err, db.ErrInvalidStatusTransition) {
		return s.reconcileRejectedPayment(ctx, order, outcome, paymentRef, func(current *models.Order) bool {
			return current.StripeSessionID == session.ID
		}), nil
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to mark order %s as paid: %w", order.OrderNumber, err)
	}

	applyPaid(order, update, s.now())
	logger.Info("order marked paid")

	s.recordTimeline(ctx, order, TimelinePaymentReceived, "Payment received via Stripe Checkout", map[string]any{
		"session_id":      session.ID,
		"lookup_strategy": string(strategy),
		"amount_total":    session.AmountTotal,
	})
	s.touchCustomer(ctx, order)
	s.notify(ctx, order, models.EventOrderCompleted)
	s.sendConfirmation(ctx, order)

	return outcome, nil
}

func (s *StripeEventService) HandleCheckoutSessionExpired(ctx context.Context, payload []byte) (EventOutcome, error) {
	var session stripeapi.CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return EventOutcome{}, fmt.Errorf("invalid event object: %w", err)
	}
	if session.ID == "" {
		return EventOutcome{}, fmt.Errorf("missing session ID")
	}
	ctx, logger := logging.With(ctx, s.logger, "session_id", session.ID)

	order, err := s.findByExternalID(ctx, s.orders.GetByStripeSessionID, session.ID, session.Metadata)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Warn("no order found for expired checkout session")
		return EventOutcome{NotFound: true}, nil
	}
	if err != nil {
		return EventOutcome{}, err
	}

	outcome := EventOutcome{OrderNumber: order.OrderNumber}
	if order.StripeSessionID != "" && order.StripeSessionID != session.ID {
		logger.Info("expired checkout session was superseded; order left unchanged",
			"order_number", order.OrderNumber, "current_session_id", order.StripeSessionID)
		outcome.Ignored = true
		return outcome, nil
	}

	err = s.retrier.RetryWrite(ctx, "mark_cancelled", func(ctx context.Context) error {
		return s.orders.MarkCancelled(ctx, order.ID)
	})
	if errors.Is(err, db.ErrInvalidStatusTransition) {
		logger.Info("ignoring checkout.session.expired due to state transition", "order_number", order.OrderNumber, "payment_status", order.PaymentStatus)
		outcome.Ignored = true
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to cancel order %s: %w", order.OrderNumber, err)
	}

	order.PaymentStatus = models.PaymentCancelled
	order.Locked = false
	s.recordTimeline(ctx, order, TimelineCheckoutExpired, "Checkout session expired; order cancelled", map[string]any{
		"session_id": session.ID,
	})
	logger.Info("checkout session expired handled", "order_number", order.OrderNumber)
	return outcome, nil
}

func (s *StripeEventService) HandleInvoicePaymentSucceeded(ctx context.Context, payload []byte) (EventOutcome, error) {
	ctx, invoice, logger, err := s.decodeInvoice(ctx, payload)
	if err != nil {
		return EventOutcome{}, err
	}

	order, err := s.findByExternalID(ctx, s.orders.GetByStripeInvoiceID, invoice.ID, invoice.Metadata)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Error("no order found for paid invoice")
		return EventOutcome{NotFound: true}, nil
	}
	if err != nil {
		return EventOutcome{}, err
	}

	outcome := EventOutcome{OrderNumber: order.OrderNumber}
	if order.IsPaid() {
		outcome.Duplicate = true
		return outcome, nil
	}
	paymentRef := map[string]any{"invoice_id": invoice.ID, "amount_paid": invoice.AmountPaid}
	if order.PaymentStatus == models.PaymentCancelled {
		return s.paymentOnCancelledOrder(ctx, order, outcome, paymentRef), nil
	}

	update := db.PaidUpdate{
		InvoiceID:     invoice.ID,
		CustomerEmail: invoice.CustomerEmail,
		CustomerName:  invoice.CustomerName,
	}
	err = s.retrier.RetryWrite(ctx, "mark_paid", func(ctx context.Context) error {
		return s.orders.MarkPaid(ctx, order.ID, update)
	})
	if errors.Is(err, db.ErrInvalidStatusTransition) {
		return s.reconcileRejectedPayment(ctx, order, outcome, paymentRef, func(current *models.Order) bool {
			return current.StripeInvoiceID == invoice.ID
		}), nil
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to mark order %s as paid: %w", order.OrderNumber, err)
	}

	applyPaid(order, update, s.now())
	s.recordTimeline(ctx, order, TimelinePaymentReceived, "Invoice paid", map[string]any{
		"invoice_id":  invoice.ID,
		"amount_paid": invoice.AmountPaid,
	})
	s.touchCustomer(ctx, order)
	s.notify(ctx, order, models.EventOrderCompleted)
	s.sendConfirmation(ctx, order)
	return outcome, nil
}

func (s *StripeEventService) HandleInvoicePaymentFailed(ctx context.Context, payload []byte) (EventOutcome, error) {
	ctx, invoice, logger, err := s.decodeInvoice(ctx, payload)
	if err != nil {
		return EventOutcome{}, err
	}

	order, err := s.findByExternalID(ctx, s.orders.GetByStripeInvoiceID, invoice.ID, invoice.Metadata)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Error("no order found for failed invoice")
		return EventOutcome{NotFound: true}, nil
	}
	if err != nil {
		return EventOutcome{}, err
	}

	outcome := EventOutcome{OrderNumber: order.OrderNumber}
	err = s.retrier.RetryWrite(ctx, "mark_failed", func(ctx context.Context) error {
		return s.orders.MarkFailed(ctx, order.ID)
	})
	if errors.Is(err, db.ErrInvalidStatusTransition) {
		logger.Info("ignoring invoice.payment_failed due to state transition", "order_number", order.OrderNumber, "payment_status", order.PaymentStatus)
		outcome.Ignored = true
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to mark order %s as failed: %w", order.OrderNumber, err)
	}

	order.PaymentStatus = models.PaymentFailed
	s.recordTimeline(ctx, order, TimelinePaymentFailed, "Invoice payment failed", map[string]any{
		"invoice_id":    invoice.ID,
		"attempt_count": invoice.AttemptCount,
	})
	return outcome, nil
}

// HandleInvoiceFinalized links the invoice to its order so later invoice events resolve by id.
func (s *StripeEventService) HandleInvoiceFinalized(ctx context.Context, payload []byte) (EventOutcome, error) {
	ctx, invoice, logger, err := s.decodeInvoice(ctx, payload)
	if err != nil {
		return EventOutcome{}, err
	}

	order, err := s.findByExternalID(ctx, s.orders.GetByStripeInvoiceID, invoice.ID, invoice.Metadata)
	if errors.Is(err, ErrOrderNotFound) {
		logger.Warn("no order found for finalized invoice")
		return EventOutcome{NotFound: true}, nil
	}
	if err != nil {
		return EventOutcome{}, err
	}

	outcome := EventOutcome{OrderNumber: order.OrderNumber}
	if order.StripeInvoiceID == invoice.ID {
		outcome.Duplicate = true
		return outcome, nil
	}

	err = s.retrier.RetryWrite(ctx, "set_invoice_id", func(ctx context.Context) error {
		return s.orders.SetInvoiceID(ctx, order.ID, invoice.ID)
	})
	if err != nil {
		return outcome, fmt.Errorf("failed to link invoice to order %s: %w", order.OrderNumber, err)
	}

	order.StripeInvoiceID = invoice.ID
	s.recordTimeline(ctx, order, TimelineInvoiceFinalized, "Invoice finalized", map[string]any{
		"invoice_id":         invoice.ID,
		"hosted_invoice_url": invoice.HostedInvoiceURL,
		"amount_due":         invoice.AmountDue,
	})
	return outcome, nil
}

// reconcileRejectedPayment re-reads an order whose paid write matched no row
// and reports what the concurrent writer left behind.
func (s *StripeEventService) reconcileRejectedPayment(ctx context.Context, order *models.Order, outcome EventOutcome, paymentRef map[string]any, samePayment func(*models.Order) bool) EventOutcome {
	logger := s.loggerFromContext(ctx).With("order_number", order.OrderNumber)

	current, err := s.orders.GetByOrderNumber(ctx, order.OrderNumber)
	if err != nil {
		logger.Error("paid write rejected and order could not be re-read", "error", err)
		outcome.Ignored = true
		return outcome
	}

	switch {
	case current.IsPaid() && samePayment(current):
		logger.Info("payment already applied by a concurrent delivery")
		outcome.Duplicate = true
	case current.IsPaid():
		logger.Warn("order already paid by another payment", "paid_session_id", current.StripeSessionID, "paid_invoice_id", current.StripeInvoiceID)
		outcome.Ignored = true
	case current.PaymentStatus == models.PaymentCancelled:
		return s.paymentOnCancelledOrder(ctx, current, outcome, paymentRef)
	default:
		logger.Warn("paid write rejected", "payment_status", current.PaymentStatus)
		outcome.Ignored = true
	}
	return outcome
}

// paymentOnCancelledOrder records a captured payment that the order can no
// longer accept. The order is left cancelled for an operator to refund or restore.
func (s *StripeEventService) paymentOnCancelledOrder(ctx context.Context, order *models.Order, outcome EventOutcome, paymentRef map[string]any) EventOutcome {
	s.loggerFromContext(ctx).Error("payment received for cancelled order",
		"order_number", order.OrderNumber, "payment", paymentRef)
	s.recordTimeline(ctx, order, TimelinePaymentOnCancelled, "Payment received after the order was cancelled; needs review", paymentRef)
	outcome.NeedsReview = true
	return outcome
}

func (s *StripeEventService) decodeInvoice(ctx context.Context, payload []byte) (context.Context, *stripeapi.Invoice, *slog.Logger, error) {
	var invoice stripeapi.Invoice
	if err := json.Unmarshal(payload, &invoice); err != nil {
		return ctx, nil, nil, fmt.Errorf("invalid event object: %w", err)
	}
	if invoice.ID == "" {
		return ctx, nil, nil, fmt.Errorf("missing invoice ID")
	}
	ctx, logger := logging.With(ctx, s.logger, "invoice_id", invoice.ID)
	return ctx, &invoice, logger, nil
}

// findByExternalID looks up by the Stripe id first and by metadata order number second.
func (s *StripeEventService) findByExternalID(ctx context.Context, byID func(context.Context, string) (*models.Order, error), externalID string, metadata map[string]string) (*models.Order, error) {
	order, err := byID(ctx, externalID)
	if err == nil && order != nil {
		return order, nil
	}
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}

	orderNumber := strings.TrimSpace(metadata[stripe.MetadataOrderNumber])
	if orderNumber == "" {
		return nil, ErrOrderNotFound
	}
	order, err = s.orders.GetByOrderNumber(ctx, orderNumber)
	if errors.Is(err, db.ErrNotFound) || (err == nil && order == nil) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("order lookup failed: %w", err)
	}
	return order, nil
}

func (s *StripeEventService) recordTimeline(ctx context.Context, order *models.Order, eventType, description string, metadata map[string]any) {
	if s.timeline == nil {
		return
	}
	event := &models.TimelineEvent{
		OrderID:     order.ID,
		EventType:   eventType,
		Description: description,
		Metadata:    metadata,
	}
	if err := s.timeline.Insert(ctx, event); err != nil {
		s.loggerFromContext(ctx).Error("failed to record timeline event", "error", err, "order_number", order.OrderNumber, "event_type", eventType)
	}
}

func (s *StripeEventService) touchCustomer(ctx context.Context, order *models.Order) {
	if s.customers == nil || strings.TrimSpace(order.CustomerEmail) == "" {
		return
	}
	if err := s.customers.Touch(ctx, order.CustomerEmail, order.CustomerName); err != nil {
		s.loggerFromContext(ctx).Warn("failed to update customer record", "error", err, "order_number", order.OrderNumber)
	}
}

func (s *StripeEventService) notify(ctx context.Context, order *models.Order, event models.WebhookEvent) {
	if s.notifier == nil {
		return
	}
	logger := s.loggerFromContext(ctx)
	result, err := s.notifier.Dispatch(ctx, order, event)
	switch {
	case errors.Is(err, ErrDispatchDisabled):
		logger.Debug("outbound webhook disabled; skipping notification", "order_number", order.OrderNumber)
	case err != nil:
		logger.Error("failed to dispatch order notification", "error", err, "order_number", order.OrderNumber, "webhook_event", string(event))
	case result != nil && !result.Success:
		logger.Warn("order notification not delivered", "order_number", order.OrderNumber, "queued", result.Queued, "error", result.Error)
	}
}

func (s *StripeEventService) sendConfirmation(ctx context.Context, order *models.Order) {
	if s.mailer == nil || order.CustomerEmail == "" {
		return
	}
	logger := s.loggerFromContext(ctx)
	msg, err := email.OrderConfirmation(order)
	if err != nil {
		logger.Warn("failed to render order confirmation", "error", err, "order_number", order.OrderNumber)
		return
	}
	if err := s.mailer.SendEmail(ctx, msg); err != nil {
		logger.Error("failed to send order confirmation email", "error", err, "order_number", order.OrderNumber)
	}
}

func checkoutCustomer(session *stripeapi.CheckoutSession) (string, string) {
	var emailAddr, name string
	if session.CustomerDetails != nil {
		emailAddr = session.CustomerDetails.Email
		name = session.CustomerDetails.Name
	}
	if emailAddr == "" {
		emailAddr = session.CustomerEmail
	}
	return strings.TrimSpace(emailAddr), strings.TrimSpace(name)
}

func applyPaid(order *models.Order, update db.PaidUpdate, now time.Time) {
	order.PaymentStatus = models.PaymentPaid
	if update.SessionID != "" {
		order.StripeSessionID = update.SessionID
	}
	if update.PaymentIntentID != "" {
		order.StripePaymentIntentID = update.PaymentIntentID
	}
	if update.InvoiceID != "" {
		order.StripeInvoiceID = update.InvoiceID
	}
	if update.CustomerEmail != "" {
		order.CustomerEmail = update.CustomerEmail
	}
	if update.CustomerName != "" {
		order.CustomerName = update.CustomerName
	}
	if order.PaidAt.IsZero() {
		order.PaidAt = now
	}
}
