package handlers

import (
	"net/http"
	"time"

	"github.com/bumperworks/preorders/internal/cache"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/services"
	stripewebhook "github.com/bumperworks/preorders/internal/stripe"
)

// stripeWebhookIdempotencyTTL is how long webhook event IDs are kept for deduplication
const stripeWebhookIdempotencyTTL = 24 * time.Hour

type stripeWebhookResponse struct {
	Received bool   `json:"received"`
	EventID  string `json:"event_id,omitempty"`
	services.EventOutcome
	Error string `json:"error,omitempty"`
}

func (h *Handlers) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := h.loggerFromContext(ctx)
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)

	event, err := stripewebhook.ReadWebhookEvent(r, h.config.StripeWebhookSecret)
	if err != nil {
		logger.Warn("rejected Stripe webhook", "error", err)
		h.writeError(w, r, http.StatusBadRequest, "invalid webhook signature")
		return
	}
	if event == nil || event.ID == "" {
		logger.Error("missing Stripe event ID")
		h.writeError(w, r, http.StatusBadRequest, "missing event id")
		return
	}
	ctx, logger = logging.With(ctx, h.logger, "event_id", event.ID, "event_type", string(event.Type))

	cacheKey := cache.WebhookKey("stripe", event.ID)
	if _, err := h.cacheProvider.Get(ctx, cacheKey); err == nil {
		logger.Info("webhook already processed")
		resp := stripeWebhookResponse{Received: true, EventID: event.ID}
		resp.Duplicate = true
		h.writeJSON(w, r, http.StatusOK, resp)
		return
	}

	outcome, err := h.stripeRouter.Handle(ctx, event)
	if err != nil {
		logger.Error("failed to process Stripe webhook", "error", err)
		h.writeError(w, r, http.StatusInternalServerError, "processing failed")
		return
	}

	if err := h.cacheProvider.Set(ctx, cacheKey, "processed", stripeWebhookIdempotencyTTL); err != nil {
		logger.Error("failed to mark webhook as processed in cache", "error", err)
	}

	resp := stripeWebhookResponse{Received: true, EventID: event.ID, EventOutcome: outcome}
	if outcome.NotFound {
		resp.Error = "order not found"
	}
	h.writeJSON(w, r, http.StatusOK, resp)
}
