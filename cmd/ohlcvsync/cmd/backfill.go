package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"ohlcvsync/config"
	"ohlcvsync/internal/adapters/binanceclient"
	"ohlcvsync/internal/adapters/logger"
	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/storage"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Fetch full candle history into local CSV files",
	Long: `Backfill fetches the complete candle history for one or all timeframes
and writes it to local CSV files, without touching the published dataset.
Useful for seeding a new dataset or rebuilding a corrupted file.

Examples:
  ohlcvsync backfill --out ./data
  ohlcvsync backfill --interval 1h --start 2020-01-01 --out ./data`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

var (
	backfillInterval string
	backfillStart    string
	backfillEnd      string
	backfillOut      string
)

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().StringVarP(&backfillInterval, "interval", "i", "", "single timeframe to backfill (15m, 1h, 4h, 1d); default all")
	backfillCmd.Flags().StringVar(&backfillStart, "start", "", "first day to fetch (YYYY-MM-DD); default HISTORY_START")
	backfillCmd.Flags().StringVar(&backfillEnd, "end", "", "last day to fetch (YYYY-MM-DD); default now")
	backfillCmd.Flags().StringVarP(&backfillOut, "out", "o", "./data", "output directory for the CSV files")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	intervals := domain.Intervals()
	if backfillInterval != "" {
		interval := domain.Interval(backfillInterval)
		if !interval.IsValid() {
			return fmt.Errorf("unknown interval %q (want one of 15m, 1h, 4h, 1d)", backfillInterval)
		}
		intervals = []domain.Interval{interval}
	}

	start := cfg.HistoryStart
	if backfillStart != "" {
		if start, err = time.Parse("2006-01-02", backfillStart); err != nil {
			return fmt.Errorf("invalid --start: %w", err)
		}
	}
	end := time.Now().UTC()
	if backfillEnd != "" {
		if end, err = time.Parse("2006-01-02", backfillEnd); err != nil {
			return fmt.Errorf("invalid --end: %w", err)
		}
	}
	if !start.Before(end) {
		return fmt.Errorf("--start %s must be before --end %s", start.Format("2006-01-02"), end.Format("2006-01-02"))
	}

	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	exchange, err := binanceclient.New(binanceclient.Config{
		APIKey:         cfg.APIKey,
		SecretKey:      cfg.SecretKey,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("init exchange client: %w", err)
	}

	for _, interval := range intervals {
		log.Info(ctx, "Backfilling timeframe", map[string]interface{}{
			"symbol":   cfg.Symbol,
			"interval": interval,
			"start":    start.Format("2006-01-02"),
			"end":      end.Format("2006-01-02"),
		})
		series, err := exchange.GetCandlesRange(ctx, cfg.Symbol, interval, start, end)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", interval, err)
		}
		if len(series) == 0 {
			log.Warn(ctx, "No candles returned for timeframe", map[string]interface{}{"interval": interval})
			continue
		}

		path := filepath.Join(backfillOut, cfg.FileName(string(interval)))
		if err := storage.WriteSeries(path, series); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		fmt.Printf("%s: %d candles -> %s\n", interval, len(series), path)
	}
	return nil
}
