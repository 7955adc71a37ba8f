package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/services"
	"github.com/bumperworks/preorders/internal/zapier"
)

const defaultDeliveryLogLimit = 50

func orderNumberFromRequest(r *http.Request) string {
	return strings.TrimSpace(mux.Vars(r)["orderNumber"])
}

// loadOrder writes the error response itself and returns nil when the order is unavailable.
func (h *Handlers) loadOrder(w http.ResponseWriter, r *http.Request) *models.Order {
	orderNumber := orderNumberFromRequest(r)
	order, err := h.orders.GetByOrderNumber(r.Context(), orderNumber)
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, r, http.StatusNotFound, "order not found")
		return nil
	}
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to load order", "error", err, "order_number", orderNumber)
		h.writeError(w, r, http.StatusInternalServerError, "failed to load order")
		return nil
	}
	return order
}

func (h *Handlers) CreatePaymentLink(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderNumber := orderNumberFromRequest(r)

	link, err := h.checkout.CreatePaymentLink(ctx, orderNumber)
	switch {
	case errors.Is(err, services.ErrPaymentLinksUnavailable):
		h.writeError(w, r, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		h.writeError(w, r, http.StatusNotFound, "order not found")
	case errors.Is(err, services.ErrOrderNotPayable):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case err != nil:
		h.loggerFromContext(ctx).Error("failed to create payment link", "error", err, "order_number", orderNumber)
		h.writeError(w, r, http.StatusBadGateway, "failed to create payment link")
	default:
		h.writeJSON(w, r, http.StatusCreated, link)
	}
}

// NotifyOrder redelivers an outbound notification for an order on demand.
func (h *Handlers) NotifyOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	event := models.WebhookEvent(strings.TrimSpace(r.URL.Query().Get("event")))
	if event == "" {
		event = models.EventOrderCompleted
	}
	if !event.Valid() {
		h.writeError(w, r, http.StatusBadRequest, "unknown webhook event")
		return
	}

	order := h.loadOrder(w, r)
	if order == nil {
		return
	}

	result, err := h.dispatcher.Dispatch(ctx, order, event)
	switch {
	case errors.Is(err, services.ErrDispatchDisabled):
		h.writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, zapier.ErrPayloadTooLarge), errors.Is(err, zapier.ErrMissingOrderFields):
		h.writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case err != nil && result == nil:
		h.loggerFromContext(ctx).Error("failed to dispatch notification", "error", err, "order_number", order.OrderNumber)
		h.writeError(w, r, http.StatusInternalServerError, "failed to dispatch notification")
	default:
		if err != nil {
			h.loggerFromContext(ctx).Error("notification delivered with errors", "error", err, "order_number", order.OrderNumber)
		}
		h.writeJSON(w, r, http.StatusOK, result)
	}
}

func (h *Handlers) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	order := h.loadOrder(w, r)
	if order == nil {
		return
	}

	logs, err := h.deliveryLogs.ListByOrder(r.Context(), order.ID, queryLimit(r, defaultDeliveryLogLimit))
	if err != nil {
		h.loggerFromContext(r.Context()).Error("failed to list delivery logs", "error", err, "order_number", order.OrderNumber)
		h.writeError(w, r, http.StatusInternalServerError, "failed to list delivery logs")
		return
	}
	if logs == nil {
		logs = []*models.WebhookDeliveryLog{}
	}
	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"order_number": order.OrderNumber,
		"deliveries":   logs,
	})
}

type updateItemsRequest struct {
	Items         []models.LineItem `json:"items"`
	ShippingCents int               `json:"shipping_cents"`
}

// UpdateOrderItems edits an unpaid, unlocked order.
func (h *Handlers) UpdateOrderItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req updateItemsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAdminBodyBytes)).Decode(&req); err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Items) == 0 || req.ShippingCents < 0 {
		h.writeError(w, r, http.StatusBadRequest, "items are required and shipping must not be negative")
		return
	}
	subtotal := 0
	for _, item := range req.Items {
		if item.WeightLbs <= 0 || item.Quantity <= 0 || item.UnitPriceCents <= 0 {
			h.writeError(w, r, http.StatusBadRequest, "every item needs a positive weight, quantity and price")
			return
		}
		subtotal += item.TotalCents()
	}

	order := h.loadOrder(w, r)
	if order == nil {
		return
	}
	if !order.CanModify() {
		h.writeError(w, r, http.StatusConflict, db.ErrOrderLocked.Error())
		return
	}

	err := h.orders.UpdateItems(ctx, order.ID, req.Items, subtotal, req.ShippingCents)
	if errors.Is(err, db.ErrOrderLocked) {
		h.writeError(w, r, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		h.loggerFromContext(ctx).Error("failed to update order items", "error", err, "order_number", order.OrderNumber)
		h.writeError(w, r, http.StatusInternalServerError, "failed to update order items")
		return
	}

	order.Items = req.Items
	order.SubtotalCents = subtotal
	order.ShippingCents = req.ShippingCents
	order.TotalCents = subtotal + req.ShippingCents
	h.writeJSON(w, r, http.StatusOK, order)
}
