package db

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/style-forge/internal/types"
)

// Run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusPartial   = "partial"
	RunStatusFailed    = "failed"
	RunStatusCancelled = "cancelled"
)

// Edit outcome constants
const (
	EditOutcomeCommitted = "committed"
	EditOutcomeFailed    = "failed"
	EditOutcomeUndo      = "undo"
	EditOutcomeRedo      = "redo"
)

// Run represents a recorded generation run
type Run struct {
	ID              uuid.UUID  `json:"id"`
	SourceMIMEType  string     `json:"source_mime_type"`
	SourceBytes     int        `json:"source_bytes"`
	ItemDescription string     `json:"item_description"`
	TaskCount       int        `json:"task_count"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// TaskRecord is the recorded state of one style task
type TaskRecord struct {
	TaskID      string    `json:"task_id"`
	Style       string    `json:"style"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	ResultBytes int       `json:"result_bytes"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RunInput is used when recording a new run
type RunInput struct {
	RunID           string
	SourceMIMEType  string
	SourceBytes     int
	ItemDescription string
	TaskCount       int
}

// EditInput is used when recording an edit, undo or redo
type EditInput struct {
	RunID        string
	TaskID       string
	Prompt       string
	Outcome      string
	Error        string
	VersionCount int
	Cursor       int
}

// Ledger records run and edit activity. *DB and NopLedger implement it.
type Ledger interface {
	RecordRun(ctx context.Context, in RunInput) error
	RecordTask(ctx context.Context, runID string, task types.StyleTask) error
	CompleteRun(ctx context.Context, runID string, status string) error
	RecordEdit(ctx context.Context, in EditInput) error
}

// NopLedger discards everything. Used when no database is configured.
type NopLedger struct{}

// RecordRun does nothing
func (NopLedger) RecordRun(context.Context, RunInput) error { return nil }

// RecordTask does nothing
func (NopLedger) RecordTask(context.Context, string, types.StyleTask) error { return nil }

// CompleteRun does nothing
func (NopLedger) CompleteRun(context.Context, string, string) error { return nil }

// RecordEdit does nothing
func (NopLedger) RecordEdit(context.Context, EditInput) error { return nil }

// NewTaskRecord converts a task value into its ledger row
func NewTaskRecord(task types.StyleTask) TaskRecord {
	rec := TaskRecord{
		TaskID: task.ID,
		Style:  string(task.Style),
		Status: string(task.Status),
		Error:  task.Error,
	}
	if task.Result != nil {
		rec.ResultBytes = task.Result.Size()
	}
	return rec
}

// RunStatus derives the final run status from task outcomes
func RunStatus(succeeded, failed int, cancelled bool) string {
	switch {
	case cancelled:
		return RunStatusCancelled
	case failed == 0:
		return RunStatusCompleted
	case succeeded == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
