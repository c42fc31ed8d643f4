package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ohlcvsync",
	Short: "Keeps a published OHLCV dataset in sync with the exchange",
	Long: `ohlcvsync keeps a Kaggle-hosted OHLCV dataset in sync with Binance.

It provides tools for:
  - Updating the dataset: download the published CSVs, fetch the candles
    that appeared since the last run, merge them in, and publish a new
    dataset version
  - Backfilling full history into local CSV files
  - Inspecting the journal of past update runs

Each of the four timeframes (15m, 1h, 4h, 1d) is processed independently,
so a transient failure on one never blocks the others.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}
