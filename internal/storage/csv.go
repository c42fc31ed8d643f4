// Package storage reads and writes the dataset's CSV files. Persistence is an
// explicit boundary step: the pipeline passes series values between stages and
// only touches the filesystem here.
package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"ohlcvsync/internal/domain"
)

// Header is the canonical column layout of the published dataset.
var Header = []string{
	"Open time", "Open", "High", "Low", "Close", "Volume",
	"Close time", "Quote asset volume", "Number of trades",
	"Taker buy base asset volume", "Taker buy quote asset volume",
}

// timestampLayout is how timestamps are written. Older dataset versions used
// raw millisecond epochs instead; the reader accepts both.
const timestampLayout = "2006-01-02 15:04:05.000 UTC"

// ReadSeries loads one timeframe's series from a dataset CSV file.
// Rows keep their price and volume strings untouched. A trailing "Ignore"
// column, present in some published versions, is tolerated and dropped.
func ReadSeries(path string) (domain.Series, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1 // row width verified per record below

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if len(header) < len(Header) {
		return nil, fmt.Errorf("dataset file %s has %d columns, expected at least %d", path, len(header), len(Header))
	}
	for i, name := range Header {
		if strings.TrimSpace(header[i]) != name {
			return nil, fmt.Errorf("dataset file %s column %d is %q, expected %q", path, i, header[i], name)
		}
	}

	var series domain.Series
	for line := 2; ; line++ {
		record, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read %s line %d: %w", path, line, err)
		}
		if len(record) < len(Header) {
			return nil, fmt.Errorf("%s line %d has %d fields, expected at least %d", path, line, len(record), len(Header))
		}

		candle, err := parseRow(record)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		series = append(series, candle)
	}
	return series, nil
}

// WriteSeries stores one timeframe's series as a dataset CSV file, creating
// parent directories as needed.
func WriteSeries(path string, series domain.Series) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create dataset file %s: %w", path, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	defer w.Flush()

	if err := w.Write(Header); err != nil {
		return fmt.Errorf("failed to write header of %s: %w", path, err)
	}
	for i := range series {
		c := &series[i]
		row := []string{
			formatTimestamp(c.OpenTime),
			c.Open, c.High, c.Low, c.Close, c.Volume,
			formatTimestamp(c.CloseTime),
			c.QuoteAssetVolume,
			strconv.FormatInt(c.NumberOfTrades, 10),
			c.TakerBuyBaseAssetVolume,
			c.TakerBuyQuoteAssetVolume,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}

func parseRow(record []string) (domain.Candle, error) {
	openTime, err := parseTimestamp(record[0])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad open time %q: %w", record[0], err)
	}
	closeTime, err := parseTimestamp(record[6])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad close time %q: %w", record[6], err)
	}
	trades, err := parseTradeCount(record[8])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("bad trade count %q: %w", record[8], err)
	}

	return domain.Candle{
		OpenTime:                 openTime,
		CloseTime:                closeTime,
		Open:                     record[1],
		High:                     record[2],
		Low:                      record[3],
		Close:                    record[4],
		Volume:                   record[5],
		QuoteAssetVolume:         record[7],
		NumberOfTrades:           trades,
		TakerBuyBaseAssetVolume:  record[9],
		TakerBuyQuoteAssetVolume: record[10],
	}, nil
}

// parseTimestamp accepts the current "2006-01-02 15:04:05.000 UTC" layout,
// the legacy millisecond-epoch format, and a bare datetime without fraction.
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(timestampLayout, value); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", value); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp format")
}

// parseTradeCount tolerates float-formatted counts ("123.0") that pandas
// produced in older dataset versions.
func parseTradeCount(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if n, err := strconv.ParseInt(value, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}
