package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/stripe"
)

var (
	ErrPaymentLinksUnavailable = errors.New("payment links are not configured")
	ErrOrderNotPayable         = errors.New("order cannot take a payment link")
)

type paymentLinkCreator interface {
	CreatePaymentLink(ctx context.Context, params stripe.PaymentLinkParams) (*stripeapi.CheckoutSession, error)
}

type lockableOrderStore interface {
	GetByOrderNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	LockWithPaymentLink(ctx context.Context, orderID uuid.UUID, sessionID string) error
}

type PaymentLink struct {
	OrderNumber  string          `json:"order_number"`
	SessionID    string          `json:"session_id"`
	URL          string          `json:"url"`
	Notification *DispatchResult `json:"notification,omitempty"`
}

type CheckoutService struct {
	orders   lockableOrderStore
	links    paymentLinkCreator
	timeline timelineWriter
	notifier orderNotifier
	baseURL  string
	logger   *slog.Logger
}

// NewCheckoutService accepts a nil links creator when Stripe is not configured.
func NewCheckoutService(orders lockableOrderStore, links paymentLinkCreator, timeline timelineWriter, notifier orderNotifier, baseURL string, logger *slog.Logger) *CheckoutService {
	return &CheckoutService{
		orders:   orders,
		links:    links,
		timeline: timeline,
		notifier: notifier,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		logger:   logger,
	}
}

// CreatePaymentLink opens a checkout session and locks the order against edits.
// A pending order that is already locked keeps its open link; a failed order may be re-linked.
func (s *CheckoutService) CreatePaymentLink(ctx context.Context, orderNumber string) (*PaymentLink, error) {
	if s == nil || s.links == nil || s.baseURL == "" {
		return nil, ErrPaymentLinksUnavailable
	}
	ctx, logger := logging.With(ctx, s.logger, "order_number", orderNumber)

	order, err := s.orders.GetByOrderNumber(ctx, orderNumber)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order.PaymentStatus != models.PaymentPending && order.PaymentStatus != models.PaymentFailed {
		return nil, fmt.Errorf("%w: payment status is %s", ErrOrderNotPayable, order.PaymentStatus)
	}
	if order.Locked && order.PaymentStatus == models.PaymentPending {
		return nil, fmt.Errorf("%w: payment link %s is still open", ErrOrderNotPayable, order.StripeSessionID)
	}

	orderPath := s.baseURL + "/orders/" + url.PathEscape(order.OrderNumber)
	session, err := s.links.CreatePaymentLink(ctx, stripe.PaymentLinkParams{
		Order:      order,
		SuccessURL: orderPath + "/thanks?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  orderPath,
	})
	if err != nil {
		return nil, err
	}

	if err := s.orders.LockWithPaymentLink(ctx, order.ID, session.ID); err != nil {
		if errors.Is(err, db.ErrInvalidStatusTransition) {
			return nil, fmt.Errorf("%w: %w", ErrOrderNotPayable, err)
		}
		return nil, fmt.Errorf("failed to lock order: %w", err)
	}
	order.Locked = true
	order.StripeSessionID = session.ID
	logger.Info("payment link created", "session_id", session.ID)

	link := &PaymentLink{OrderNumber: order.OrderNumber, SessionID: session.ID, URL: session.URL}

	if s.timeline != nil {
		event := &models.TimelineEvent{
			OrderID:     order.ID,
			EventType:   TimelinePaymentLinkCreated,
			Description: "Payment link created; order locked",
			Metadata:    map[string]any{"session_id": session.ID},
		}
		if err := s.timeline.Insert(ctx, event); err != nil {
			logger.Error("failed to record timeline event", "error", err, "event_type", TimelinePaymentLinkCreated)
		}
	}

	if s.notifier != nil {
		result, err := s.notifier.Dispatch(ctx, order, models.EventPaymentLinkCreated)
		switch {
		case errors.Is(err, ErrDispatchDisabled):
		case err != nil:
			logger.Error("failed to dispatch payment link notification", "error", err)
		default:
			link.Notification = result
		}
	}

	return link, nil
}
