package handlers

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	stripeapi "github.com/stripe/stripe-go/v84"

	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/observability"
	"github.com/bumperworks/preorders/internal/services"
)

type stripeEventService interface {
	HandleCheckoutSessionCompleted(ctx context.Context, payload []byte) (services.EventOutcome, error)
	HandleCheckoutSessionExpired(ctx context.Context, payload []byte) (services.EventOutcome, error)
	HandleInvoicePaymentSucceeded(ctx context.Context, payload []byte) (services.EventOutcome, error)
	HandleInvoicePaymentFailed(ctx context.Context, payload []byte) (services.EventOutcome, error)
	HandleInvoiceFinalized(ctx context.Context, payload []byte) (services.EventOutcome, error)
}

type StripeEventRouter struct {
	service stripeEventService
	logger  *slog.Logger
}

func NewStripeEventRouter(service stripeEventService, logger *slog.Logger) *StripeEventRouter {
	return &StripeEventRouter{
		service: service,
		logger:  logger,
	}
}

func (r *StripeEventRouter) handlerFor(eventType stripeapi.EventType) func(context.Context, []byte) (services.EventOutcome, error) {
	switch eventType {
	case "checkout.session.completed":
		return r.service.HandleCheckoutSessionCompleted
	case "checkout.session.expired":
		return r.service.HandleCheckoutSessionExpired
	case "invoice.payment_succeeded":
		return r.service.HandleInvoicePaymentSucceeded
	case "invoice.payment_failed":
		return r.service.HandleInvoicePaymentFailed
	case "invoice.finalized":
		return r.service.HandleInvoiceFinalized
	default:
		return nil
	}
}

// Handle dispatches a verified event. Unhandled types are acknowledged.
func (r *StripeEventRouter) Handle(ctx context.Context, event *stripeapi.Event) (services.EventOutcome, error) {
	span := sentry.StartSpan(
		ctx,
		"handler.stripe_router.handle",
		sentry.WithOpName("handler.stripe_router"),
		sentry.WithDescription("StripeEventRouter.Handle"),
		sentry.WithSpanOrigin(sentry.SpanOriginManual),
	)
	defer span.Finish()
	ctx = span.Context()

	meter := observability.MeterFromContext(ctx)
	meter.SetAttributes(attribute.String("webhook.provider", "stripe"))
	meter.Count("webhook.router.received", 1)
	recordFailed := func(reason string) {
		meter.Count("webhook.router.failed", 1, sentry.WithAttributes(attribute.String("reason", reason)))
	}

	if event == nil {
		recordFailed("missing_event")
		return services.EventOutcome{}, fmt.Errorf("missing stripe event")
	}
	if event.Data == nil {
		recordFailed("missing_event_data")
		return services.EventOutcome{}, fmt.Errorf("missing stripe event data")
	}
	meter.SetAttributes(attribute.String("webhook.event_type", string(event.Type)))

	logger := logging.FromContext(ctx, r.logger)
	handle := r.handlerFor(event.Type)
	if handle == nil {
		logger.Info("unhandled Stripe event type", "type", event.Type)
		meter.Count("webhook.router.unhandled", 1)
		span.Status = sentry.SpanStatusOK
		return services.EventOutcome{Ignored: true}, nil
	}

	outcome, err := handle(ctx, event.Data.Raw)
	if err != nil {
		recordFailed(string(event.Type))
		span.Status = sentry.SpanStatusInternalError
		return outcome, err
	}

	switch {
	case outcome.NotFound:
		meter.Count("webhook.router.order_not_found", 1)
	case outcome.Duplicate:
		meter.Count("webhook.router.duplicate", 1)
	case outcome.NeedsReview:
		meter.Count("webhook.router.needs_review", 1)
	default:
		meter.Count("webhook.router.processed", 1)
	}
	span.Status = sentry.SpanStatusOK
	return outcome, nil
}
