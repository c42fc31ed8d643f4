package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Interval identifies one of the fixed dataset timeframes.
type Interval string

const (
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Intervals returns the dataset timeframes in canonical order.
func Intervals() []Interval {
	return []Interval{Interval15m, Interval1h, Interval4h, Interval1d}
}

// Duration returns the bucket length of the interval, or 0 if the interval
// is not one of the dataset timeframes.
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval15m:
		return 15 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	}
	return 0
}

// IsValid reports whether the interval is one of the four dataset timeframes.
func (i Interval) IsValid() bool {
	return i.Duration() != 0
}

// Candle represents a single OHLCV row of the published dataset.
// Price and volume fields keep the exchange's decimal string representation
// so that a row read from CSV and written back is unchanged.
type Candle struct {
	OpenTime                 time.Time // Start time of the bucket; uniqueness key within a timeframe
	CloseTime                time.Time // End time of the bucket
	Open                     string
	High                     string
	Low                      string
	Close                    string
	Volume                   string
	QuoteAssetVolume         string
	NumberOfTrades           int64
	TakerBuyBaseAssetVolume  string
	TakerBuyQuoteAssetVolume string
}

// Key returns the uniqueness key of the candle within its timeframe.
func (c *Candle) Key() int64 {
	return c.OpenTime.UnixMilli()
}

// ValidationError describes a malformed candle field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %s: %s", e.Field, e.Message)
}

// Validate checks that the candle is well-formed. Timestamps, numeric formats
// and volume signs are always checked. High/low ordering against open/close is
// checked only when strict is set; the exchange occasionally publishes candles
// that violate it and the flag lets operators pass those through.
func (c *Candle) Validate(strict bool) error {
	if c.OpenTime.IsZero() {
		return &ValidationError{Field: "open_time", Message: "open time must be set"}
	}
	if !c.CloseTime.After(c.OpenTime) {
		return &ValidationError{Field: "close_time", Message: fmt.Sprintf("close time %s must be after open time %s", c.CloseTime, c.OpenTime)}
	}

	open, err := decimal.NewFromString(c.Open)
	if err != nil {
		return &ValidationError{Field: "open", Message: fmt.Sprintf("invalid open price %q: %v", c.Open, err)}
	}
	high, err := decimal.NewFromString(c.High)
	if err != nil {
		return &ValidationError{Field: "high", Message: fmt.Sprintf("invalid high price %q: %v", c.High, err)}
	}
	low, err := decimal.NewFromString(c.Low)
	if err != nil {
		return &ValidationError{Field: "low", Message: fmt.Sprintf("invalid low price %q: %v", c.Low, err)}
	}
	cls, err := decimal.NewFromString(c.Close)
	if err != nil {
		return &ValidationError{Field: "close", Message: fmt.Sprintf("invalid close price %q: %v", c.Close, err)}
	}

	for _, v := range []struct {
		field string
		value string
	}{
		{"volume", c.Volume},
		{"quote_asset_volume", c.QuoteAssetVolume},
		{"taker_buy_base_asset_volume", c.TakerBuyBaseAssetVolume},
		{"taker_buy_quote_asset_volume", c.TakerBuyQuoteAssetVolume},
	} {
		vol, err := decimal.NewFromString(v.value)
		if err != nil {
			return &ValidationError{Field: v.field, Message: fmt.Sprintf("invalid value %q: %v", v.value, err)}
		}
		if vol.IsNegative() {
			return &ValidationError{Field: v.field, Message: fmt.Sprintf("value %s must not be negative", vol)}
		}
	}

	if c.NumberOfTrades < 0 {
		return &ValidationError{Field: "number_of_trades", Message: fmt.Sprintf("trade count %d must not be negative", c.NumberOfTrades)}
	}

	if strict {
		if high.LessThan(decimal.Max(open, cls)) {
			return &ValidationError{Field: "high", Message: fmt.Sprintf("high %s is below max(open, close) %s", high, decimal.Max(open, cls))}
		}
		if low.GreaterThan(decimal.Min(open, cls)) {
			return &ValidationError{Field: "low", Message: fmt.Sprintf("low %s is above min(open, close) %s", low, decimal.Min(open, cls))}
		}
	}

	return nil
}
