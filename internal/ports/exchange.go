package ports

import (
	"context"
	"time"

	"ohlcvsync/internal/domain"
)

// CandleSource defines the interface for fetching historical candlestick data
// from an exchange. This abstraction decouples the update pipeline from the
// specific exchange implementation.
type CandleSource interface {
	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	// The pipeline anchors its fetch window on it rather than on the local
	// clock.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetCandlesRange fetches all candles for a symbol/interval between start
	// and end time, paginating as needed. The returned series is ordered by
	// open time but may re-include candles the caller already holds; the
	// merge step resolves the overlap.
	GetCandlesRange(ctx context.Context, symbol string, interval domain.Interval, start, end time.Time) (domain.Series, error)
}
