package domain

import (
	"sort"
	"time"
)

// Series is the candle history for a single timeframe, ordered by open time.
// A series is owned exclusively by one timeframe's pipeline; it is never
// shared across timeframes.
type Series []Candle

// LastOpenTime returns the open time of the most recent candle.
// The second return value is false when the series is empty.
func (s Series) LastOpenTime() (time.Time, bool) {
	if len(s) == 0 {
		return time.Time{}, false
	}
	return s[len(s)-1].OpenTime, true
}

// SortByOpenTime orders the series ascending by open time in place.
func (s Series) SortByOpenTime() {
	sort.Slice(s, func(i, j int) bool {
		return s[i].OpenTime.Before(s[j].OpenTime)
	})
}

// IsStrictlyOrdered reports whether open times are strictly increasing,
// which also rules out duplicate keys.
func (s Series) IsStrictlyOrdered() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Key() <= s[i-1].Key() {
			return false
		}
	}
	return true
}
