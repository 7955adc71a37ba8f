package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/services"
)

func orderRequest(method, target, orderNumber string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	return mux.SetURLVars(req, map[string]string{"orderNumber": orderNumber})
}

func TestWebhookSettings_NeverEchoesSecret(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	th.settings.settings.Secret = "whsec_stored"

	rec := httptest.NewRecorder()
	th.handlers.GetWebhookSettings(rec, httptest.NewRequest(http.MethodGet, "/admin/webhook-settings", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "whsec_stored") {
		t.Fatal("secret must not be returned")
	}
	var view map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &view); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if view["has_secret"] != true {
		t.Fatalf("expected has_secret=true, got %v", view["has_secret"])
	}
}

func TestUpdateWebhookSettings(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	th.settings.settings.Secret = "whsec_stored"

	body := []byte(`{"enabled":true,"url":"https://hooks.zapier.com/hooks/catch/1/abc"}`)
	rec := httptest.NewRecorder()
	th.handlers.UpdateWebhookSettings(rec, httptest.NewRequest(http.MethodPut, "/admin/webhook-settings", bytes.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if len(th.settings.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(th.settings.updates))
	}
	update := th.settings.updates[0]
	if update.Secret != nil {
		t.Fatal("an omitted secret must keep the stored one")
	}
	if !update.Settings.Enabled || update.Settings.TimeoutSeconds != 30 {
		t.Fatalf("expected overlay on current settings, got %+v", update.Settings)
	}
	if strings.Contains(rec.Body.String(), "whsec_stored") {
		t.Fatal("secret must not be returned")
	}

	rec = httptest.NewRecorder()
	th.handlers.UpdateWebhookSettings(rec, httptest.NewRequest(http.MethodPut, "/admin/webhook-settings", strings.NewReader(`{"secret":"whsec_new"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := th.settings.updates[1].Secret; got == nil || *got != "whsec_new" {
		t.Fatalf("expected new secret to be passed through, got %v", got)
	}
}

func TestUpdateWebhookSettings_Errors(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	rec := httptest.NewRecorder()
	th.handlers.UpdateWebhookSettings(rec, httptest.NewRequest(http.MethodPut, "/admin/webhook-settings", strings.NewReader(`{`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	th.settings.err = fmt.Errorf("%w: url is required when the webhook is enabled", services.ErrInvalidSettings)
	rec = httptest.NewRecorder()
	th.handlers.UpdateWebhookSettings(rec, httptest.NewRequest(http.MethodPut, "/admin/webhook-settings", strings.NewReader(`{"enabled":true}`)))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestCreatePaymentLink_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		link       *services.PaymentLink
		err        error
		wantStatus int
	}{
		{name: "created", link: &services.PaymentLink{OrderNumber: "BP-1001", SessionID: "cs_1", URL: "https://checkout.stripe.com/c/pay/cs_1"}, wantStatus: http.StatusCreated},
		{name: "unconfigured", err: services.ErrPaymentLinksUnavailable, wantStatus: http.StatusServiceUnavailable},
		{name: "unknown order", err: services.ErrOrderNotFound, wantStatus: http.StatusNotFound},
		{name: "already paid", err: fmt.Errorf("%w: payment status is paid", services.ErrOrderNotPayable), wantStatus: http.StatusConflict},
		{name: "stripe failure", err: errors.New("stripe: connection refused"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			th := newTestHandlers(t)
			th.checkout.link = tt.link
			th.checkout.err = tt.err

			rec := httptest.NewRecorder()
			th.handlers.CreatePaymentLink(rec, orderRequest(http.MethodPost, "/admin/orders/BP-1001/payment-link", "BP-1001", nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestNotifyOrder(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		target     string
		orderNum   string
		result     *services.DispatchResult
		err        error
		wantStatus int
		wantEvent  models.WebhookEvent
	}{
		{
			name:       "default event",
			target:     "/admin/orders/BP-1001/notify",
			orderNum:   "BP-1001",
			result:     &services.DispatchResult{Event: models.EventOrderCompleted, Success: true, HTTPStatus: 200},
			wantStatus: http.StatusOK,
			wantEvent:  models.EventOrderCompleted,
		},
		{
			name:       "explicit event",
			target:     "/admin/orders/BP-1001/notify?event=payment_link_created",
			orderNum:   "BP-1001",
			result:     &services.DispatchResult{Event: models.EventPaymentLinkCreated, Queued: true},
			wantStatus: http.StatusOK,
			wantEvent:  models.EventPaymentLinkCreated,
		},
		{name: "unknown event", target: "/admin/orders/BP-1001/notify?event=bogus", orderNum: "BP-1001", wantStatus: http.StatusBadRequest},
		{name: "unknown order", target: "/admin/orders/BP-0/notify", orderNum: "BP-0", wantStatus: http.StatusNotFound},
		{name: "disabled", target: "/admin/orders/BP-1001/notify", orderNum: "BP-1001", err: services.ErrDispatchDisabled, wantStatus: http.StatusConflict, wantEvent: models.EventOrderCompleted},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			th := newTestHandlers(t)
			th.dispatcher.result = tt.result
			th.dispatcher.err = tt.err

			rec := httptest.NewRecorder()
			th.handlers.NotifyOrder(rec, orderRequest(http.MethodPost, tt.target, tt.orderNum, nil))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantEvent != "" && (len(th.dispatcher.events) != 1 || th.dispatcher.events[0] != tt.wantEvent) {
				t.Fatalf("expected dispatch of %s, got %v", tt.wantEvent, th.dispatcher.events)
			}
		})
	}
}

func TestListDeliveries(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	order := th.orders.orders["BP-1001"]
	th.logs.logs = []*models.WebhookDeliveryLog{
		{ID: uuid.New(), OrderID: order.ID, EventType: models.EventOrderCompleted, HTTPStatus: 200, Success: true},
		{ID: uuid.New(), OrderID: uuid.New(), EventType: models.EventOrderCompleted, HTTPStatus: 500},
	}

	rec := httptest.NewRecorder()
	th.handlers.ListDeliveries(rec, orderRequest(http.MethodGet, "/admin/orders/BP-1001/deliveries", "BP-1001", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		OrderNumber string                       `json:"order_number"`
		Deliveries  []*models.WebhookDeliveryLog `json:"deliveries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body.OrderNumber != "BP-1001" || len(body.Deliveries) != 1 {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestUpdateOrderItems(t *testing.T) {
	t.Parallel()

	validBody := []byte(`{"items":[{"weight_lbs":25,"quantity":4,"unit_price_cents":7900}],"shipping_cents":3500}`)

	tests := []struct {
		name       string
		body       []byte
		locked     bool
		updateErr  error
		wantStatus int
	}{
		{name: "updated", body: validBody, wantStatus: http.StatusOK},
		{name: "empty items", body: []byte(`{"items":[]}`), wantStatus: http.StatusBadRequest},
		{name: "non-positive weight", body: []byte(`{"items":[{"weight_lbs":0,"quantity":1,"unit_price_cents":100}]}`), wantStatus: http.StatusBadRequest},
		{name: "locked", body: validBody, locked: true, wantStatus: http.StatusConflict},
		{name: "locked at store", body: validBody, updateErr: db.ErrOrderLocked, wantStatus: http.StatusConflict},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			th := newTestHandlers(t)
			th.orders.orders["BP-1001"].Locked = tt.locked
			th.orders.updateErr = tt.updateErr

			rec := httptest.NewRecorder()
			th.handlers.UpdateOrderItems(rec, orderRequest(http.MethodPut, "/admin/orders/BP-1001/items", "BP-1001", tt.body))
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (%s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusOK {
				var order models.Order
				if err := json.Unmarshal(rec.Body.Bytes(), &order); err != nil {
					t.Fatalf("invalid JSON: %v", err)
				}
				if order.SubtotalCents != 31600 || order.TotalCents != 35100 {
					t.Fatalf("unexpected totals: %+v", order)
				}
			}
		})
	}
}

func TestProcessWebhookQueue(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	th.dispatcher.report = services.QueueReport{Claimed: 2, Delivered: 1, Rescheduled: 1}

	rec := httptest.NewRecorder()
	th.handlers.ProcessWebhookQueue(rec, httptest.NewRequest(http.MethodPost, "/internal/webhooks/queue/process?limit=10", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(th.dispatcher.limits) != 1 || th.dispatcher.limits[0] != 10 {
		t.Fatalf("expected limit 10, got %v", th.dispatcher.limits)
	}
	var report services.QueueReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if report != th.dispatcher.report {
		t.Fatalf("unexpected report %+v", report)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	th := newTestHandlers(t)
	rec := httptest.NewRecorder()
	th.handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	th.handlers.db = fakePinger{err: errors.New("connection refused")}
	rec = httptest.NewRecorder()
	th.handlers.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
