package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ohlcvsync/config"
	"ohlcvsync/internal/adapters/binanceclient"
	"ohlcvsync/internal/adapters/kaggle"
	"ohlcvsync/internal/adapters/logger"
	"ohlcvsync/internal/adapters/sqlite"
	"ohlcvsync/internal/app"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Fetch new candles, merge them and publish a new dataset version",
	Args:  cobra.NoArgs,
	RunE:  runUpdate,
}

func init() {
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
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

	host, err := kaggle.New(kaggle.Config{
		Username:       cfg.KaggleUsername,
		Key:            cfg.KaggleKey,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})
	if err != nil {
		return fmt.Errorf("init dataset host client: %w", err)
	}

	journal, err := sqlite.NewJournal(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	defer journal.Close()

	svc, err := app.NewUpdateService(cfg, log, exchange, host, journal)
	if err != nil {
		return fmt.Errorf("init update service: %w", err)
	}

	return svc.RunWithRetry(ctx)
}
