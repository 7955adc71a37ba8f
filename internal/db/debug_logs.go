package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bumperworks/preorders/internal/models"
)

type DebugLogStore struct {
	pool *pgxpool.Pool
}

func NewDebugLogStore(pool *pgxpool.Pool) *DebugLogStore {
	return &DebugLogStore{pool: pool}
}

func (s *DebugLogStore) Insert(ctx context.Context, entry *models.DebugLogEntry) error {
	if entry == nil {
		return fmt.Errorf("debug log entry is required")
	}
	query := `
		INSERT INTO webhook_debug_logs (session_id, order_number, step_name, status, message, duration_ms)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
	`
	_, err := s.pool.Exec(ctx, query, entry.SessionID, entry.OrderNumber, entry.StepName, string(entry.Status),
		entry.Message, entry.DurationMs)
	return mapMissingRelation(err)
}

// SummariesFromView reads the pre-aggregated history view.
func (s *DebugLogStore) SummariesFromView(ctx context.Context, limit int) ([]models.DebugSessionSummary, error) {
	query := `
		SELECT session_id, order_number, started_at, total_steps, completed_steps, failed_steps,
		       warning_steps, COALESCE(failed_step_list, '')
		FROM webhook_debug_summary
		ORDER BY started_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, mapMissingRelation(err)
	}
	defer rows.Close()

	var summaries []models.DebugSessionSummary
	for rows.Next() {
		var summary models.DebugSessionSummary
		if err := rows.Scan(&summary.SessionID, &summary.OrderNumber, &summary.StartedAt, &summary.TotalSteps,
			&summary.CompletedSteps, &summary.FailedSteps, &summary.WarningSteps, &summary.FailedStepList); err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, mapMissingRelation(rows.Err())
}

// RecentEntries reads raw step rows, newest first.
func (s *DebugLogStore) RecentEntries(ctx context.Context, limit int) ([]models.DebugLogEntry, error) {
	query := `
		SELECT session_id, order_number, step_name, status, message, duration_ms, created_at
		FROM webhook_debug_logs
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, mapMissingRelation(err)
	}
	defer rows.Close()

	var entries []models.DebugLogEntry
	for rows.Next() {
		var (
			entry   models.DebugLogEntry
			status  string
			message pgtype.Text
		)
		if err := rows.Scan(&entry.SessionID, &entry.OrderNumber, &entry.StepName, &status, &message,
			&entry.DurationMs, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.Status = models.StepStatus(status)
		entry.Message = message.String
		entries = append(entries, entry)
	}
	return entries, mapMissingRelation(rows.Err())
}
