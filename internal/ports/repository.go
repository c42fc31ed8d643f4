package ports

import (
	"context"

	"ohlcvsync/internal/domain"
)

// RunJournal persists the history of update runs and their per-timeframe
// outcomes. Journal failures are advisory: the pipeline logs them but never
// aborts an otherwise healthy run because bookkeeping failed.
type RunJournal interface {
	// CreateRun saves a new run record and returns its assigned ID.
	CreateRun(ctx context.Context, run *domain.Run) (int64, error)

	// FinishRun updates the final status, finish time and notes of a run.
	FinishRun(ctx context.Context, run *domain.Run) error

	// AddTimeframeResult records the outcome of one timeframe within a run.
	AddTimeframeResult(ctx context.Context, runID int64, res domain.TimeframeResult) error

	// FindRecentRuns retrieves the most recent runs, newest first.
	FindRecentRuns(ctx context.Context, limit int) ([]*domain.Run, error)

	// FindTimeframeResults retrieves the per-timeframe outcomes of a run.
	FindTimeframeResults(ctx context.Context, runID int64) ([]domain.TimeframeResult, error)

	// Close releases the underlying storage.
	Close() error
}
