// Package dataset coordinates the independent merge of the four dataset
// timeframes and tracks their per-timeframe outcomes.
package dataset

import (
	"context"
	"fmt"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/merge"
	"ohlcvsync/internal/ports"
)

// Batch carries the fetch outcome for one timeframe into the merge step.
// A non-nil Err marks the fetch (or validation) as failed for that timeframe
// without affecting its siblings.
type Batch struct {
	Series domain.Series
	Err    error
}

// Set holds the four per-timeframe series of the dataset and merges new
// batches into them. Each timeframe is fully independent: the timeframes are
// fetched via separate API calls and transient failures are uncorrelated
// across them, so one failure never invalidates the others.
type Set struct {
	logger ports.Logger
	series map[domain.Interval]domain.Series
}

// New creates an empty dataset set.
func New(logger ports.Logger) (*Set, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required for dataset set")
	}
	return &Set{
		logger: logger,
		series: make(map[domain.Interval]domain.Series, len(domain.Intervals())),
	}, nil
}

// Load installs the existing (previously published) series for a timeframe.
func (s *Set) Load(interval domain.Interval, series domain.Series) {
	s.series[interval] = series
}

// Series returns the current series for a timeframe: the existing series
// until MergeAll runs, the merged series afterwards.
func (s *Set) Series(interval domain.Interval) domain.Series {
	return s.series[interval]
}

// MergeAll merges one batch per timeframe into the set, independently per
// timeframe, and returns the outcomes in canonical timeframe order. It fails
// with ports.ErrAllTimeframesFailed only when no timeframe produced a
// publishable series; partial failures are reported in the results but leave
// the run publishable.
func (s *Set) MergeAll(ctx context.Context, batches map[domain.Interval]Batch) ([]domain.TimeframeResult, error) {
	intervals := domain.Intervals()
	results := make([]domain.TimeframeResult, 0, len(intervals))

	failed := 0
	for _, interval := range intervals {
		res := s.mergeOne(ctx, interval, batches[interval])
		if res.Outcome == domain.OutcomeFailed {
			failed++
		}
		results = append(results, res)
	}

	if failed == len(intervals) {
		return results, fmt.Errorf("no timeframe produced a publishable series: %w", ports.ErrAllTimeframesFailed)
	}
	return results, nil
}

func (s *Set) mergeOne(ctx context.Context, interval domain.Interval, batch Batch) domain.TimeframeResult {
	if batch.Err != nil {
		s.logger.Warn(ctx, "Timeframe batch unavailable, skipping merge", map[string]interface{}{
			"interval": interval,
			"error":    batch.Err.Error(),
		})
		return domain.TimeframeResult{Interval: interval, Outcome: domain.OutcomeFailed, Err: batch.Err}
	}

	existing := s.series[interval]

	if len(batch.Series) == 0 {
		if len(existing) == 0 {
			err := fmt.Errorf("timeframe %s: %w", interval, ports.ErrEmptyInput)
			s.logger.Warn(ctx, "Nothing to merge for timeframe", map[string]interface{}{"interval": interval})
			return domain.TimeframeResult{Interval: interval, Outcome: domain.OutcomeFailed, Err: err}
		}
		s.logger.Info(ctx, "No new candles for timeframe", map[string]interface{}{
			"interval": interval,
			"total":    len(existing),
		})
		return domain.TimeframeResult{Interval: interval, Outcome: domain.OutcomeNoNewData, Total: len(existing)}
	}

	res, err := merge.Merge(existing, batch.Series)
	if err != nil {
		s.logger.Error(ctx, err, "Merge failed for timeframe", map[string]interface{}{"interval": interval})
		return domain.TimeframeResult{Interval: interval, Outcome: domain.OutcomeFailed, Err: err}
	}

	s.series[interval] = res.Series
	s.logger.Info(ctx, "Timeframe merged", map[string]interface{}{
		"interval": interval,
		"added":    res.Added,
		"updated":  res.Updated,
		"total":    len(res.Series),
	})
	return domain.TimeframeResult{
		Interval: interval,
		Outcome:  domain.OutcomeMerged,
		Added:    res.Added,
		Updated:  res.Updated,
		Total:    len(res.Series),
	}
}
