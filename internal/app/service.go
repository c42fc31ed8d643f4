// Package app wires the fetch, merge and publish steps into the update
// pipeline and drives its retry loop.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jpillora/backoff"

	"ohlcvsync/config"
	"ohlcvsync/internal/dataset"
	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/ports"
	"ohlcvsync/internal/storage"
)

const (
	downloadSubdir = "dataset" // Where the current dataset version is unpacked
	mergedSubdir   = "merged"  // Staging folder for the next version's files
	metadataFile   = "dataset-metadata.json"
)

// UpdateService orchestrates one dataset update: download the published
// dataset, fetch fresh candles per timeframe, merge, and publish a new
// version.
type UpdateService struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.CandleSource
	host     ports.DatasetHost
	journal  ports.RunJournal

	now func() time.Time
}

// NewUpdateService creates a new application service instance.
func NewUpdateService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.CandleSource,
	host ports.DatasetHost,
	journal ports.RunJournal,
) (*UpdateService, error) {
	if cfg == nil || logger == nil || exchange == nil || host == nil || journal == nil {
		return nil, fmt.Errorf("missing required dependencies for UpdateService")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("configuration MaxAttempts must be positive")
	}
	if cfg.UploadMaxAttempts <= 0 {
		return nil, fmt.Errorf("configuration UploadMaxAttempts must be positive")
	}

	return &UpdateService{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		host:     host,
		journal:  journal,
		now:      time.Now,
	}, nil
}

// RunWithRetry executes the pipeline until it succeeds or MaxAttempts is
// exhausted, backing off between attempts. SIGINT/SIGTERM cancel the loop.
func (s *UpdateService) RunWithRetry(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	b := &backoff.Backoff{
		Min:    s.cfg.RetryMinDelay,
		Max:    s.cfg.RetryMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("update aborted: %w: %w", ports.ErrContextCanceled, err)
		}

		lastErr = s.Run(ctx, attempt)
		if lastErr == nil {
			return nil
		}
		s.logger.Error(ctx, lastErr, "Update attempt failed", map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": s.cfg.MaxAttempts,
		})

		if attempt == s.cfg.MaxAttempts {
			break
		}
		delay := b.Duration()
		s.logger.Info(ctx, "Retrying after backoff", map[string]interface{}{"delay": delay.String()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("update aborted during backoff: %w: %w", ports.ErrContextCanceled, ctx.Err())
		}
	}
	return fmt.Errorf("all %d update attempts failed: %w: %w", s.cfg.MaxAttempts, ports.ErrUpdateFailed, lastErr)
}

// Run executes a single pass of the pipeline. Journal failures are logged but
// never fail the run.
func (s *UpdateService) Run(ctx context.Context, attempt int) error {
	run := &domain.Run{StartedAt: s.now().UTC(), Attempt: attempt, Status: domain.RunRunning}
	if _, err := s.journal.CreateRun(ctx, run); err != nil {
		s.logger.Warn(ctx, "Could not record run start", map[string]interface{}{"error": err.Error()})
	}

	results, err := s.runPipeline(ctx)
	s.finishRun(ctx, run, results, err)
	return err
}

func (s *UpdateService) runPipeline(ctx context.Context) ([]domain.TimeframeResult, error) {
	if err := s.exchange.Ping(ctx); err != nil {
		return nil, fmt.Errorf("exchange unreachable: %w: %w", ports.ErrExchangeUnavailable, err)
	}

	// The fetch window ends at the exchange's clock, not the local one, so
	// a skewed host clock cannot truncate or overshoot the window.
	end, err := s.exchange.GetServerTime(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Could not read exchange server time, falling back to local clock", map[string]interface{}{
			"error": err.Error(),
		})
		end = s.now().UTC()
	}

	dataDir := filepath.Join(s.cfg.WorkDir, downloadSubdir)
	mergedDir := filepath.Join(s.cfg.WorkDir, mergedSubdir)
	if err := recreateDirs(dataDir, mergedDir); err != nil {
		return nil, fmt.Errorf("failed to prepare working directories: %w", err)
	}
	defer s.cleanup(ctx, dataDir, mergedDir)

	if err := s.host.DownloadDataset(ctx, s.cfg.DatasetSlug, dataDir); err != nil {
		return nil, fmt.Errorf("failed to download current dataset: %w", err)
	}

	set, err := dataset.New(s.logger)
	if err != nil {
		return nil, err
	}

	batches := make(map[domain.Interval]dataset.Batch, len(domain.Intervals()))
	for _, interval := range domain.Intervals() {
		existing, err := s.loadExisting(ctx, dataDir, interval)
		if err != nil {
			batches[interval] = dataset.Batch{Err: err}
			continue
		}
		set.Load(interval, existing)
		batches[interval] = s.fetchTimeframe(ctx, interval, existing, end)
	}

	results, mergeErr := set.MergeAll(ctx, batches)
	if mergeErr != nil {
		return results, mergeErr
	}

	if err := s.stageVersion(ctx, set, results, dataDir, mergedDir); err != nil {
		return results, err
	}

	notes := "Update " + s.now().UTC().Format("January, 02 2006")
	if err := s.uploadWithRetry(ctx, mergedDir, notes); err != nil {
		return results, err
	}

	return results, nil
}

// loadExisting reads the previously published series for a timeframe. A
// missing file is fine (first run for that timeframe); an unreadable one
// fails the timeframe.
func (s *UpdateService) loadExisting(ctx context.Context, dataDir string, interval domain.Interval) (domain.Series, error) {
	path := filepath.Join(dataDir, s.cfg.FileName(string(interval)))
	series, err := storage.ReadSeries(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn(ctx, "No published file for timeframe, starting from scratch", map[string]interface{}{
				"interval": interval,
				"path":     path,
			})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read existing series for %s: %w", interval, err)
	}
	return series, nil
}

// fetchTimeframe fetches candles from the last known open time (re-fetching
// the then-unfinished last candle so a revised version replaces it) or from
// the configured history start when no data exists yet, through end.
func (s *UpdateService) fetchTimeframe(ctx context.Context, interval domain.Interval, existing domain.Series, end time.Time) dataset.Batch {
	start := s.cfg.HistoryStart
	if last, ok := existing.LastOpenTime(); ok {
		start = last
	}

	series, err := s.exchange.GetCandlesRange(ctx, s.cfg.Symbol, interval, start, end)
	if err != nil {
		return dataset.Batch{Err: fmt.Errorf("fetch failed for %s: %w", interval, err)}
	}

	for i := range series {
		if err := series[i].Validate(s.cfg.StrictValidation); err != nil {
			return dataset.Batch{Err: fmt.Errorf("invalid candle at %s for %s: %w",
				series[i].OpenTime.Format(time.RFC3339), interval, err)}
		}
	}
	return dataset.Batch{Series: series}
}

// stageVersion writes the merged CSVs and the dataset metadata into
// mergedDir. Failed timeframes keep their previously published file so a new
// version never drops a file from the dataset.
func (s *UpdateService) stageVersion(ctx context.Context, set *dataset.Set, results []domain.TimeframeResult, dataDir, mergedDir string) error {
	for _, res := range results {
		name := s.cfg.FileName(string(res.Interval))
		target := filepath.Join(mergedDir, name)

		if res.Outcome == domain.OutcomeFailed {
			source := filepath.Join(dataDir, name)
			if err := copyFile(source, target); err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					s.logger.Warn(ctx, "Failed timeframe has no published file to carry over", map[string]interface{}{
						"interval": res.Interval,
					})
					continue
				}
				return fmt.Errorf("failed to carry over %s: %w", name, err)
			}
			continue
		}

		if err := storage.WriteSeries(target, set.Series(res.Interval)); err != nil {
			return fmt.Errorf("failed to write merged series for %s: %w", res.Interval, err)
		}
	}

	return s.writeMetadata(mergedDir)
}

// writeMetadata emits the minimal metadata file the dataset host requires to
// accept a version.
func (s *UpdateService) writeMetadata(mergedDir string) error {
	meta := map[string]interface{}{
		"title":    s.cfg.DatasetTitle,
		"id":       s.cfg.DatasetSlug,
		"licenses": []map[string]string{{"name": "CC-BY-4.0"}},
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(mergedDir, metadataFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write dataset metadata: %w", err)
	}
	return nil
}

// uploadWithRetry publishes the staged folder, retrying transient host
// failures with its own bounded backoff.
func (s *UpdateService) uploadWithRetry(ctx context.Context, mergedDir, notes string) error {
	b := &backoff.Backoff{
		Min:    s.cfg.RetryMinDelay,
		Max:    s.cfg.RetryMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= s.cfg.UploadMaxAttempts; attempt++ {
		lastErr = s.host.CreateVersion(ctx, s.cfg.DatasetSlug, mergedDir, notes)
		if lastErr == nil {
			s.logger.Info(ctx, "New dataset version published", map[string]interface{}{
				"slug":  s.cfg.DatasetSlug,
				"notes": notes,
			})
			return nil
		}
		s.logger.Error(ctx, lastErr, "Upload attempt failed", map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": s.cfg.UploadMaxAttempts,
		})

		if attempt == s.cfg.UploadMaxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return fmt.Errorf("upload aborted: %w: %w", ports.ErrContextCanceled, ctx.Err())
		}
	}
	return fmt.Errorf("all %d upload attempts failed: %w: %w", s.cfg.UploadMaxAttempts, ports.ErrUploadFailed, lastErr)
}

func (s *UpdateService) finishRun(ctx context.Context, run *domain.Run, results []domain.TimeframeResult, runErr error) {
	if run.ID != 0 {
		for _, res := range results {
			if err := s.journal.AddTimeframeResult(ctx, run.ID, res); err != nil {
				s.logger.Warn(ctx, "Could not record timeframe result", map[string]interface{}{
					"interval": res.Interval,
					"error":    err.Error(),
				})
			}
		}
	}

	run.FinishedAt = s.now().UTC()
	if runErr != nil {
		run.Status = domain.RunFailed
		run.Notes = runErr.Error()
	} else {
		run.Status = domain.RunSucceeded
		run.Notes = summarize(results)
	}

	if run.ID == 0 {
		return
	}
	if err := s.journal.FinishRun(ctx, run); err != nil {
		s.logger.Warn(ctx, "Could not record run completion", map[string]interface{}{"error": err.Error()})
	}
}

func summarize(results []domain.TimeframeResult) string {
	added, updated := 0, 0
	for _, res := range results {
		added += res.Added
		updated += res.Updated
	}
	return fmt.Sprintf("added %d candles, updated %d across %d timeframes", added, updated, len(results))
}

func (s *UpdateService) cleanup(ctx context.Context, dirs ...string) {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn(ctx, "Could not remove working directory", map[string]interface{}{
				"dir":   dir,
				"error": err.Error(),
			})
		}
	}
}

func recreateDirs(dirs ...string) error {
	for _, dir := range dirs {
		if err := os.RemoveAll(dir); err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(source, target string) error {
	src, err := os.Open(source)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}
	return dst.Sync()
}
