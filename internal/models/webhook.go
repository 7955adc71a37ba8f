package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEvent string

const (
	EventPaymentLinkCreated WebhookEvent = "payment_link_created"
	EventOrderCompleted     WebhookEvent = "order_completed"
	EventDiagnosticTest     WebhookEvent = "diagnostic_test"
)

func (e WebhookEvent) Valid() bool {
	switch e {
	case EventPaymentLinkCreated, EventOrderCompleted, EventDiagnosticTest:
		return true
	default:
		return false
	}
}

// WebhookSettings is the persisted outbound webhook configuration.
type WebhookSettings struct {
	URL                 string `json:"url" validate:"omitempty,url"`
	Enabled             bool   `json:"enabled"`
	TimeoutSeconds      int    `json:"timeout_seconds" validate:"min=1,max=60"`
	RetryAttempts       int    `json:"retry_attempts" validate:"min=0,max=10"`
	RetryDelaySeconds   int    `json:"retry_delay_seconds" validate:"min=0,max=3600"`
	IncludeCustomerData bool   `json:"include_customer_data"`
	IncludeOrderItems   bool   `json:"include_order_items"`
	IncludePricing      bool   `json:"include_pricing"`
	IncludeShipping     bool   `json:"include_shipping"`
	Secret              string `json:"secret,omitempty"`
}

func DefaultWebhookSettings() WebhookSettings {
	return WebhookSettings{
		TimeoutSeconds:      30,
		RetryAttempts:       3,
		RetryDelaySeconds:   60,
		IncludeCustomerData: true,
		IncludeOrderItems:   true,
		IncludePricing:      true,
		IncludeShipping:     true,
	}
}

func (s WebhookSettings) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (s WebhookSettings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelaySeconds) * time.Second
}

type QueueStatus string

const (
	QueuePending    QueueStatus = "pending"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed"
)

type WebhookQueueItem struct {
	ID          uuid.UUID       `json:"id"`
	OrderID     uuid.UUID       `json:"order_id"`
	EventType   WebhookEvent    `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      QueueStatus     `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	NextRetryAt time.Time       `json:"next_retry_at"`
	LastError   string          `json:"last_error"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (q *WebhookQueueItem) Exhausted() bool {
	return q != nil && q.Attempts >= q.MaxAttempts
}

// WebhookDeliveryLog is written once per attempt and never updated.
type WebhookDeliveryLog struct {
	ID             uuid.UUID    `json:"id"`
	OrderID        uuid.UUID    `json:"order_id"`
	EventType      WebhookEvent `json:"event_type"`
	URL            string       `json:"url"`
	RequestBody    string       `json:"request_body"`
	HTTPStatus     int          `json:"http_status"`
	Success        bool         `json:"success"`
	ResponseTimeMs int64        `json:"response_time_ms"`
	ResponseBody   string       `json:"response_body"`
	ErrorMessage   string       `json:"error_message"`
	RetryCount     int          `json:"retry_count"`
	CreatedAt      time.Time    `json:"created_at"`
}
