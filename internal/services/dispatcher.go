package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
	"github.com/bumperworks/preorders/internal/observability"
	"github.com/bumperworks/preorders/internal/zapier"
)

var ErrDispatchDisabled = errors.New("outbound webhook is disabled")

const (
	defaultQueueBatch = 25
	// maxQueueBatch keeps a batch at the longest delivery timeout inside the store's claim lease.
	maxQueueBatch = 50
	maxQueueDelay = 24 * time.Hour
)

type settingsSource interface {
	Get(ctx context.Context) (models.WebhookSettings, error)
}

type webhookQueue interface {
	Enqueue(ctx context.Context, item *models.WebhookQueueItem) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookQueueItem, error)
	Complete(ctx context.Context, id uuid.UUID) error
	Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error
	Fail(ctx context.Context, id uuid.UUID, attempts int, lastError string) error
}

type deliveryLogWriter interface {
	Insert(ctx context.Context, entry *models.WebhookDeliveryLog) error
}

type webhookDeliverer interface {
	Deliver(ctx context.Context, req zapier.DeliveryRequest) zapier.DeliveryResult
}

type DispatchResult struct {
	Event      models.WebhookEvent `json:"event"`
	Success    bool                `json:"success"`
	HTTPStatus int                 `json:"http_status,omitempty"`
	Queued     bool                `json:"queued"`
	Error      string              `json:"error,omitempty"`
}

type QueueReport struct {
	Claimed     int `json:"claimed"`
	Delivered   int `json:"delivered"`
	Rescheduled int `json:"rescheduled"`
	Failed      int `json:"failed"`
}

type Dispatcher struct {
	settings        settingsSource
	queue           webhookQueue
	logs            deliveryLogWriter
	client          webhookDeliverer
	maxPayloadBytes int
	now             func() time.Time
	logger          *slog.Logger
}

func NewDispatcher(settings settingsSource, queue webhookQueue, logs deliveryLogWriter, client webhookDeliverer, maxPayloadBytes int, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		settings:        settings,
		queue:           queue,
		logs:            logs,
		client:          client,
		maxPayloadBytes: maxPayloadBytes,
		now:             time.Now,
		logger:          logger,
	}
}

// Dispatch sends one notification. A failed delivery is queued for retry and
// reported in the result rather than as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, order *models.Order, event models.WebhookEvent) (*DispatchResult, error) {
	if order == nil {
		return nil, fmt.Errorf("order is required")
	}
	if !event.Valid() {
		return nil, fmt.Errorf("unknown webhook event %q", event)
	}
	logger := logging.FromContext(ctx, d.logger).With("order_number", order.OrderNumber, "webhook_event", string(event))

	settings, err := d.settings.Get(ctx)
	if err != nil {
		return nil, err
	}
	if !settings.Enabled || settings.URL == "" {
		return nil, ErrDispatchDisabled
	}

	body, err := zapier.BuildPayload(event, order, settings, d.maxPayloadBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook payload: %w", err)
	}

	delivery := d.client.Deliver(ctx, zapier.DeliveryRequest{
		URL:     settings.URL,
		Secret:  settings.Secret,
		Event:   event,
		Body:    body,
		Timeout: settings.Timeout(),
	})
	d.recordAttempt(ctx, order.ID, event, settings.URL, body, delivery, 0)

	result := &DispatchResult{
		Event:      event,
		Success:    delivery.Success,
		HTTPStatus: delivery.StatusCode,
		Error:      delivery.ErrorMessage(),
	}
	if delivery.Success {
		observability.CountOutcome(ctx, "webhook.dispatch", "delivered")
		logger.Info("webhook delivered", "status", delivery.StatusCode, "duration_ms", delivery.ResponseTime.Milliseconds())
		return result, nil
	}

	observability.CountOutcome(ctx, "webhook.dispatch", "failed")
	logger.Warn("webhook delivery failed", "status", delivery.StatusCode, "error", result.Error)

	if settings.RetryAttempts <= 0 {
		return result, nil
	}
	item := &models.WebhookQueueItem{
		OrderID:     order.ID,
		EventType:   event,
		Payload:     body,
		Status:      models.QueuePending,
		MaxAttempts: settings.RetryAttempts,
		NextRetryAt: d.now().Add(settings.RetryDelay()),
		LastError:   result.Error,
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return result, fmt.Errorf("failed to enqueue webhook retry: %w", err)
	}
	result.Queued = true
	logger.Info("webhook retry queued", "queue_item_id", item.ID, "next_retry_at", item.NextRetryAt)
	return result, nil
}

// ProcessQueue redelivers due queue items with the current settings. Queue
// bookkeeping outlives ctx, so a cancelled run releases what it claimed.
func (d *Dispatcher) ProcessQueue(ctx context.Context, limit int) (QueueReport, error) {
	var report QueueReport
	if limit <= 0 {
		limit = defaultQueueBatch
	}
	if limit > maxQueueBatch {
		limit = maxQueueBatch
	}
	logger := logging.FromContext(ctx, d.logger)
	storeCtx := context.WithoutCancel(ctx)

	items, err := d.queue.ClaimDue(ctx, d.now(), limit)
	if err != nil {
		return report, fmt.Errorf("failed to claim webhook queue items: %w", err)
	}
	report.Claimed = len(items)
	if len(items) == 0 {
		return report, nil
	}

	settings, err := d.settings.Get(ctx)
	if err != nil {
		d.release(storeCtx, items, "settings unavailable")
		return report, err
	}
	if !settings.Enabled || settings.URL == "" {
		d.release(storeCtx, items, ErrDispatchDisabled.Error())
		report.Rescheduled = len(items)
		return report, nil
	}

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			rest := items[i:]
			d.release(storeCtx, rest, "queue processing interrupted")
			report.Rescheduled += len(rest)
			logger.Warn("webhook queue processing interrupted", "released", len(rest), "error", err)
			return report, fmt.Errorf("webhook queue processing interrupted: %w", err)
		}

		itemLogger := logger.With("queue_item_id", item.ID, "webhook_event", string(item.EventType))
		attempt := item.Attempts + 1

		delivery := d.client.Deliver(ctx, zapier.DeliveryRequest{
			URL:     settings.URL,
			Secret:  settings.Secret,
			Event:   item.EventType,
			Body:    item.Payload,
			Timeout: settings.Timeout(),
		})
		d.recordAttempt(storeCtx, item.OrderID, item.EventType, settings.URL, item.Payload, delivery, attempt)

		if delivery.Success {
			if err := d.queue.Complete(storeCtx, item.ID); err != nil {
				itemLogger.Error("failed to complete webhook queue item", "error", err)
			}
			report.Delivered++
			observability.CountOutcome(ctx, "webhook.queue", "delivered")
			continue
		}

		message := delivery.ErrorMessage()
		item.Attempts = attempt
		if item.Exhausted() {
			if err := d.queue.Fail(storeCtx, item.ID, attempt, message); err != nil {
				itemLogger.Error("failed to mark webhook queue item failed", "error", err)
			}
			report.Failed++
			observability.CountOutcome(ctx, "webhook.queue", "exhausted")
			itemLogger.Warn("webhook retries exhausted", "attempts", attempt, "error", message)
			continue
		}

		next := d.now().Add(retryDelay(settings.RetryDelay(), attempt))
		if err := d.queue.Reschedule(storeCtx, item.ID, attempt, next, message); err != nil {
			itemLogger.Error("failed to reschedule webhook queue item", "error", err)
		}
		report.Rescheduled++
		observability.CountOutcome(ctx, "webhook.queue", "rescheduled")
	}

	return report, nil
}

// release puts claimed items back without consuming an attempt.
func (d *Dispatcher) release(ctx context.Context, items []*models.WebhookQueueItem, reason string) {
	logger := logging.FromContext(ctx, d.logger)
	for _, item := range items {
		if err := d.queue.Reschedule(ctx, item.ID, item.Attempts, item.NextRetryAt, reason); err != nil {
			logger.Error("failed to release webhook queue item", "error", err, "queue_item_id", item.ID)
		}
	}
}

func (d *Dispatcher) recordAttempt(ctx context.Context, orderID uuid.UUID, event models.WebhookEvent, url string, body []byte, delivery zapier.DeliveryResult, retryCount int) {
	if d.logs == nil {
		return
	}
	entry := &models.WebhookDeliveryLog{
		OrderID:        orderID,
		EventType:      event,
		URL:            url,
		RequestBody:    string(body),
		HTTPStatus:     delivery.StatusCode,
		Success:        delivery.Success,
		ResponseTimeMs: delivery.ResponseTime.Milliseconds(),
		ResponseBody:   delivery.ResponseBody,
		ErrorMessage:   delivery.ErrorMessage(),
		RetryCount:     retryCount,
	}
	if err := d.logs.Insert(ctx, entry); err != nil {
		logging.FromContext(ctx, d.logger).Error("failed to write webhook delivery log", "error", err, "order_id", orderID)
	}
}

// retryDelay doubles base per completed attempt, capped at a day.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxQueueDelay {
			return maxQueueDelay
		}
	}
	return delay
}
