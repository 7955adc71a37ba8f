package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/models"
)

const queueColumns = `id, order_id, event_type, payload, status, attempts, max_attempts, next_retry_at, last_error, created_at, updated_at`

type WebhookQueueStore struct {
	pool *pgxpool.Pool
}

func NewWebhookQueueStore(pool *pgxpool.Pool) *WebhookQueueStore {
	return &WebhookQueueStore{pool: pool}
}

func (s *WebhookQueueStore) Enqueue(ctx context.Context, item *models.WebhookQueueItem) error {
	if item == nil {
		return fmt.Errorf("queue item is required")
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Status == "" {
		item.Status = models.QueuePending
	}

	query := `
		INSERT INTO webhook_queue (id, order_id, event_type, payload, status, attempts, max_attempts, next_retry_at, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''))
		RETURNING created_at, updated_at
	`
	return s.pool.QueryRow(ctx, query,
		item.ID, item.OrderID, string(item.EventType), []byte(item.Payload), string(item.Status),
		item.Attempts, item.MaxAttempts, item.NextRetryAt, item.LastError,
	).Scan(&item.CreatedAt, &item.UpdatedAt)
}

// processingLease is how long a claim holds an item before another run may take it over.
const processingLease = time.Hour

// ClaimDue moves up to limit due pending items to processing and returns them.
// Items left in processing past the lease by a crashed or interrupted run are
// claimed again. Rows locked by a concurrent claimer are skipped.
func (s *WebhookQueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.WebhookQueueItem, error) {
	if limit <= 0 {
		limit = 25
	}
	query := `
		UPDATE webhook_queue
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM webhook_queue
			WHERE (status = 'pending' AND next_retry_at <= $1)
			   OR (status = 'processing' AND updated_at < $3)
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + queueColumns
	rows, err := s.pool.Query(ctx, query, now, limit, leaseExpiredBefore(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]*models.WebhookQueueItem, 0, limit)
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func leaseExpiredBefore(now time.Time) time.Time {
	return now.Add(-processingLease)
}

// Complete removes a delivered item.
func (s *WebhookQueueStore) Complete(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM webhook_queue WHERE id = $1`, id)
	return err
}

func (s *WebhookQueueStore) Reschedule(ctx context.Context, id uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error {
	query := `
		UPDATE webhook_queue
		SET status = 'pending', attempts = $2, next_retry_at = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id, attempts, nextRetryAt, lastError)
	return err
}

// Fail parks an item that has exhausted its attempts.
func (s *WebhookQueueStore) Fail(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE webhook_queue
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = NOW()
		WHERE id = $1
	`
	_, err := s.pool.Exec(ctx, query, id, attempts, lastError)
	return err
}

func scanQueueItem(row pgx.Row) (*models.WebhookQueueItem, error) {
	var (
		item      models.WebhookQueueItem
		eventType string
		status    string
		payload   []byte
		lastError pgtype.Text
	)
	if err := row.Scan(&item.ID, &item.OrderID, &eventType, &payload, &status, &item.Attempts, &item.MaxAttempts,
		&item.NextRetryAt, &lastError, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.EventType = models.WebhookEvent(eventType)
	item.Status = models.QueueStatus(status)
	item.Payload = payload
	item.LastError = lastError.String
	return &item, nil
}
