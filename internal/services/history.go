package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/db"
	"github.com/bumperworks/preorders/internal/logging"
	"github.com/bumperworks/preorders/internal/models"
)

const (
	HistorySourceView    = "summary_view"
	HistorySourceRawLogs = "raw_logs"
	HistorySourceNone    = "none"

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
	// rawEntriesPerSession bounds how many raw rows are read per requested session.
	rawEntriesPerSession = 10
)

type DiagnosticHistory struct {
	Source   string                       `json:"source" yaml:"source"`
	Sessions []models.DebugSessionSummary `json:"sessions" yaml:"sessions"`
}

type historySource struct {
	name string
	load func(ctx context.Context, limit int) ([]models.DebugSessionSummary, error)
}

// History walks the summary view, then raw step logs, and reports an empty
// history when neither relation exists.
func (s *DiagnosticService) History(ctx context.Context, limit int) (*DiagnosticHistory, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	empty := &DiagnosticHistory{Source: HistorySourceNone, Sessions: []models.DebugSessionSummary{}}
	if s.debugLogs == nil {
		return empty, nil
	}

	logger := logging.FromContext(ctx, s.logger)
	for _, source := range s.historySources() {
		sessions, err := source.load(ctx, limit)
		if errors.Is(err, db.ErrSourceUnavailable) {
			logger.Debug("diagnostic history source unavailable", "source", source.name, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read diagnostic history from %s: %w", source.name, err)
		}
		if sessions == nil {
			sessions = []models.DebugSessionSummary{}
		}
		return &DiagnosticHistory{Source: source.name, Sessions: sessions}, nil
	}
	return empty, nil
}

func (s *DiagnosticService) historySources() []historySource {
	return []historySource{
		{name: HistorySourceView, load: s.debugLogs.SummariesFromView},
		{
			name: HistorySourceRawLogs,
			load: func(ctx context.Context, limit int) ([]models.DebugSessionSummary, error) {
				entries, err := s.debugLogs.RecentEntries(ctx, limit*rawEntriesPerSession)
				if err != nil {
					return nil, err
				}
				summaries := AggregateDebugLogs(entries)
				if len(summaries) > limit {
					summaries = summaries[:limit]
				}
				return summaries, nil
			},
		},
	}
}

// AggregateDebugLogs groups raw step rows by session the same way the summary
// view does. Started rows are not counted as steps. Results are newest first.
func AggregateDebugLogs(entries []models.DebugLogEntry) []models.DebugSessionSummary {
	grouped := make(map[uuid.UUID][]models.DebugLogEntry)
	var order []uuid.UUID
	for _, entry := range entries {
		if _, ok := grouped[entry.SessionID]; !ok {
			order = append(order, entry.SessionID)
		}
		grouped[entry.SessionID] = append(grouped[entry.SessionID], entry)
	}

	summaries := make([]models.DebugSessionSummary, 0, len(order))
	for _, sessionID := range order {
		rows := grouped[sessionID]
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		})

		summary := models.DebugSessionSummary{
			SessionID:   sessionID,
			OrderNumber: rows[0].OrderNumber,
			StartedAt:   rows[0].CreatedAt,
		}
		var failedSteps []string
		for _, row := range rows {
			switch row.Status {
			case models.StepCompleted:
				summary.CompletedSteps++
			case models.StepFailed:
				summary.FailedSteps++
				failedSteps = append(failedSteps, row.StepName)
			case models.StepWarning:
				summary.WarningSteps++
			case models.StepStarted:
				continue
			}
			summary.TotalSteps++
		}
		summary.FailedStepList = strings.Join(failedSteps, ", ")
		summaries = append(summaries, summary)
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].StartedAt.After(summaries[j].StartedAt)
	})
	return summaries
}
