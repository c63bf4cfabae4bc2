package store

import (
	"context"

	"github.com/flotilla-dev/flotilla/internal/core/run"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store is the run journal: an append-only record of finished deployment
// runs. Journaling is best-effort for callers; a failed write must never
// change a run's verdict.
type Store interface {
	// SaveRun journals a finished run report.
	SaveRun(ctx context.Context, report *run.Report) error

	// GetRun returns one run by ID.
	GetRun(ctx context.Context, runID string) (*run.Report, error)

	// ListRuns returns runs newest-first. An empty stack name lists runs
	// of every stack.
	ListRuns(ctx context.Context, stackName string, opts ListOptions) ([]run.Report, error)

	// Lifecycle
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  20,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
