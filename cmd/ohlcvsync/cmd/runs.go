package cmd

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ohlcvsync/config"
	"ohlcvsync/internal/adapters/logger"
	"ohlcvsync/internal/adapters/sqlite"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent update runs from the journal",
	Args:  cobra.NoArgs,
	RunE:  runRuns,
}

var runsLimit int

func init() {
	rootCmd.AddCommand(runsCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs to show")
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.LogLevel)
	ctx := context.Background()

	journal, err := sqlite.NewJournal(sqlite.Config{DBPath: cfg.DBPath, Logger: log})
	if err != nil {
		return fmt.Errorf("open run journal: %w", err)
	}
	defer journal.Close()

	runs, err := journal.FindRecentRuns(ctx, runsLimit)
	if err != nil {
		return fmt.Errorf("query runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tDURATION\tATTEMPT\tSTATUS\tTIMEFRAMES\tNOTES")
	for _, run := range runs {
		duration := "-"
		if !run.FinishedAt.IsZero() {
			duration = run.FinishedAt.Sub(run.StartedAt).Round(time.Second).String()
		}

		results, err := journal.FindTimeframeResults(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("query timeframe results for run %d: %w", run.ID, err)
		}
		var outcomes []string
		for _, res := range results {
			outcomes = append(outcomes, fmt.Sprintf("%s:%s", res.Interval, res.Outcome))
		}
		timeframes := "-"
		if len(outcomes) > 0 {
			timeframes = strings.Join(outcomes, " ")
		}

		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			run.ID,
			run.StartedAt.Format("2006-01-02 15:04:05"),
			duration,
			run.Attempt,
			run.Status,
			timeframes,
			run.Notes,
		)
	}
	return w.Flush()
}
