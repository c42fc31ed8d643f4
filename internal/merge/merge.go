// Package merge implements the incremental merge-and-deduplication routine
// that reconciles freshly fetched candles with a previously published series.
package merge

import (
	"fmt"
	"sort"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/ports"
)

// Result describes a completed merge.
type Result struct {
	Series  domain.Series
	Added   int // Keys present only in the new batch
	Updated int // Keys present in both inputs, replaced by the new batch
}

// Merge combines an existing series with a freshly fetched batch into a single
// series whose keys are the union of both inputs, sorted ascending by open
// time with no duplicates. For keys present in both, the fresh candle wins:
// the exchange revises recent candles after the fact and a fetch window
// routinely re-includes the tail of the existing series, so the merge is
// keyed on open time rather than concatenating at a known boundary.
//
// Merge is pure: it never mutates its inputs and has no side effects.
// It returns ports.ErrEmptyInput when both inputs are empty, signaling
// upstream that there is nothing to publish.
func Merge(existing, fresh domain.Series) (Result, error) {
	if len(existing) == 0 && len(fresh) == 0 {
		return Result{}, ports.ErrEmptyInput
	}

	byKey := make(map[int64]domain.Candle, len(existing)+len(fresh))
	for _, c := range existing {
		byKey[c.Key()] = c
	}

	var added, updated int
	for _, c := range fresh {
		if _, exists := byKey[c.Key()]; exists {
			updated++
		} else {
			added++
		}
		byKey[c.Key()] = c
	}

	merged := make(domain.Series, 0, len(byKey))
	for _, c := range byKey {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Key() < merged[j].Key()
	})

	// Unreachable with the overwrite semantics above, but guards against
	// malformed inputs with colliding keys.
	for i := 1; i < len(merged); i++ {
		if merged[i].Key() <= merged[i-1].Key() {
			return Result{}, fmt.Errorf("key %d repeated at position %d: %w", merged[i].Key(), i, ports.ErrOrderingViolation)
		}
	}

	return Result{Series: merged, Added: added, Updated: updated}, nil
}
