package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/models"
)

type DeliveryLogStore struct {
	pool *pgxpool.Pool
}

func NewDeliveryLogStore(pool *pgxpool.Pool) *DeliveryLogStore {
	return &DeliveryLogStore{pool: pool}
}

// Insert appends an attempt record. Delivery logs are never updated.
func (s *DeliveryLogStore) Insert(ctx context.Context, entry *models.WebhookDeliveryLog) error {
	if entry == nil {
		return fmt.Errorf("delivery log is required")
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	query := `
		INSERT INTO webhook_delivery_logs (id, order_id, event_type, url, request_body, http_status, success,
		                                   response_time_ms, response_body, error_message, retry_count)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, $8, $9, NULLIF($10, ''), $11)
		RETURNING created_at
	`
	return s.pool.QueryRow(ctx, query,
		entry.ID, entry.OrderID, string(entry.EventType), entry.URL, entry.RequestBody, entry.HTTPStatus, entry.Success,
		entry.ResponseTimeMs, entry.ResponseBody, entry.ErrorMessage, entry.RetryCount,
	).Scan(&entry.CreatedAt)
}

func (s *DeliveryLogStore) ListByOrder(ctx context.Context, orderID uuid.UUID, limit int) ([]*models.WebhookDeliveryLog, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, order_id, event_type, url, request_body, http_status, success, response_time_ms,
		       response_body, error_message, retry_count, created_at
		FROM webhook_delivery_logs
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, orderID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.WebhookDeliveryLog
	for rows.Next() {
		var (
			entry        models.WebhookDeliveryLog
			eventType    string
			httpStatus   pgtype.Int4
			responseBody pgtype.Text
			errorMessage pgtype.Text
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &eventType, &entry.URL, &entry.RequestBody, &httpStatus,
			&entry.Success, &entry.ResponseTimeMs, &responseBody, &errorMessage, &entry.RetryCount, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.EventType = models.WebhookEvent(eventType)
		entry.HTTPStatus = int(httpStatus.Int32)
		entry.ResponseBody = responseBody.String
		entry.ErrorMessage = errorMessage.String
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
