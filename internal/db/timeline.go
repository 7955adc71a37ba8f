package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/models"
)

type TimelineStore struct {
	pool *pgxpool.Pool
}

func NewTimelineStore(pool *pgxpool.Pool) *TimelineStore {
	return &TimelineStore{pool: pool}
}

func (s *TimelineStore) Insert(ctx context.Context, event *models.TimelineEvent) error {
	if event == nil {
		return fmt.Errorf("timeline event is required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode timeline metadata: %w", err)
	}

	query := `
		INSERT INTO order_timeline (id, order_id, event_type, description, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	return s.pool.QueryRow(ctx, query, event.ID, event.OrderID, event.EventType, event.Description, metadata).
		Scan(&event.CreatedAt)
}
