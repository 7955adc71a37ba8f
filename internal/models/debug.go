package models

import (
	"time"

	"github.com/google/uuid"
)

type StepStatus string

const (
	StepStarted   StepStatus = "started"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepWarning   StepStatus = "warning"
)

type DebugStep struct {
	Name       string         `json:"name" yaml:"name"`
	Status     StepStatus     `json:"status" yaml:"status"`
	Message    string         `json:"message,omitempty" yaml:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
	StartedAt  time.Time      `json:"started_at" yaml:"started_at"`
	DurationMs int64          `json:"duration_ms" yaml:"duration_ms"`
}

// DebugSession is the in-flight record of one diagnostic run.
type DebugSession struct {
	ID          uuid.UUID   `json:"id" yaml:"id"`
	OrderNumber string      `json:"order_number" yaml:"order_number"`
	StartedAt   time.Time   `json:"started_at" yaml:"started_at"`
	Steps       []DebugStep `json:"steps" yaml:"steps"`
}

// DebugLogEntry is the persisted form of a single step.
type DebugLogEntry struct {
	SessionID   uuid.UUID  `json:"session_id"`
	OrderNumber string     `json:"order_number"`
	StepName    string     `json:"step_name"`
	Status      StepStatus `json:"status"`
	Message     string     `json:"message"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
}

// DebugSessionSummary is one row of diagnostic history.
type DebugSessionSummary struct {
	SessionID      uuid.UUID `json:"session_id" yaml:"session_id"`
	OrderNumber    string    `json:"order_number" yaml:"order_number"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	TotalSteps     int       `json:"total_steps" yaml:"total_steps"`
	CompletedSteps int       `json:"completed_steps" yaml:"completed_steps"`
	FailedSteps    int       `json:"failed_steps" yaml:"failed_steps"`
	WarningSteps   int       `json:"warning_steps" yaml:"warning_steps"`
	FailedStepList string    `json:"failed_step_list" yaml:"failed_step_list"`
}
