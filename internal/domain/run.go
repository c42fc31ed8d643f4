package domain

import "time"

// RunStatus represents the state of one update run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run records one attempt of the fetch-merge-upload pipeline.
type Run struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time // Zero while the run is in progress
	Attempt    int       // 1-based attempt number within the retry loop
	Status     RunStatus
	Notes      string
}

// Outcome classifies the merge result of a single timeframe.
type Outcome string

const (
	OutcomeMerged    Outcome = "merged"
	OutcomeNoNewData Outcome = "no_new_data"
	OutcomeFailed    Outcome = "failed"
)

// TimeframeResult is the per-timeframe outcome of one run. Timeframes are
// merged independently; a failure here never aborts sibling timeframes.
type TimeframeResult struct {
	Interval Interval
	Outcome  Outcome
	Added    int // Candles appended beyond the existing series
	Updated  int // Existing candles replaced by revised fetches
	Total    int // Size of the merged series
	Err      error
}
