package storage

import (
	"context"
	"time"
)

// Mode distinguishes the two call patterns sharing the execution core.
type Mode string

const (
	ModeBatch    Mode = "batch"
	ModeScaffold Mode = "scaffold"
)

// Execution is the persisted record of one sandboxed run.
type Execution struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Mode        Mode      `json:"mode"`
	Status      string    `json:"status"` // judge.Status or judge.ScaffoldState
	ExitCode    int       `json:"exit_code"`
	PassedTests int       `json:"passed_tests"`
	TotalTests  int       `json:"total_tests"`
	DurationMS  int64     `json:"duration_ms"`
	LogPath     string    `json:"log_path,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListOptions controls filtering and pagination for ListExecutions.
type ListOptions struct {
	Status string
	Mode   Mode
	Limit  int
	Offset int
}

// Store is the persistence interface for execution history.
type Store interface {
	// CreateExecution inserts a new record. The ID must be set by the caller.
	CreateExecution(ctx context.Context, e *Execution) error

	// GetExecution returns a record by ID or ID prefix.
	GetExecution(ctx context.Context, id string) (*Execution, error)

	// ListExecutions returns records ordered by created_at descending.
	ListExecutions(ctx context.Context, opts ListOptions) ([]Execution, error)

	// Close releases resources.
	Close() error
}
