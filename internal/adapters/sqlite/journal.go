package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ohlcvsync/internal/domain"
	"ohlcvsync/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Journal implements the ports.RunJournal interface using SQLite.
type Journal struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite run journal.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewJournal creates a new SQLite journal instance.
func NewJournal(cfg Config) (*Journal, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite journal")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/runs.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w: %w", dbPath, ports.ErrDBConnection, err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from limiting connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	j := &Journal{db: db, logger: cfg.Logger}

	if err := j.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite journal initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Run journal opened", map[string]interface{}{"path": dbPath})

	return j, nil
}

// initializeSchema creates tables if they don't exist.
func (j *Journal) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP DEFAULT NULL,
		attempt INTEGER NOT NULL,
		status TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS run_timeframes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		interval TEXT NOT NULL,
		outcome TEXT NOT NULL,
		rows_added INTEGER NOT NULL,
		rows_updated INTEGER NOT NULL,
		rows_total INTEGER NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs (started_at);
	CREATE INDEX IF NOT EXISTS idx_run_timeframes_run_id ON run_timeframes (run_id);
	`
	_, err := j.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	if j.db != nil {
		j.logger.Info(context.Background(), "Closing run journal")
		return j.db.Close()
	}
	return nil
}

// CreateRun saves a new run record and returns its assigned ID.
func (j *Journal) CreateRun(ctx context.Context, run *domain.Run) (int64, error) {
	const query = `
	INSERT INTO runs (started_at, attempt, status, notes)
	VALUES (?, ?, ?, ?)`

	result, err := j.db.ExecContext(ctx, query, run.StartedAt, run.Attempt, run.Status, run.Notes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w: %w", ports.ErrQueryFailed, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for run: %w", err)
	}
	run.ID = id
	j.logger.Debug(ctx, "Run created", map[string]interface{}{"runID": id, "attempt": run.Attempt})
	return id, nil
}

// FinishRun updates the final status, finish time and notes of a run.
func (j *Journal) FinishRun(ctx context.Context, run *domain.Run) error {
	const query = `
	UPDATE runs
	SET finished_at = ?, status = ?, notes = ?
	WHERE id = ?`

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}

	result, err := j.db.ExecContext(ctx, query, finishedAt, run.Status, run.Notes, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run ID %d: %w: %w", run.ID, ports.ErrQueryFailed, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for run ID %d: %w", run.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("run ID %d not found for update: %w", run.ID, ports.ErrNotFound)
	}
	j.logger.Debug(ctx, "Run finished", map[string]interface{}{"runID": run.ID, "status": run.Status})
	return nil
}

// AddTimeframeResult records the outcome of one timeframe within a run.
func (j *Journal) AddTimeframeResult(ctx context.Context, runID int64, res domain.TimeframeResult) error {
	const query = `
	INSERT INTO run_timeframes (run_id, interval, outcome, rows_added, rows_updated, rows_total, error)
	VALUES (?, ?, ?, ?, ?, ?, ?)`

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}

	_, err := j.db.ExecContext(ctx, query,
		runID, res.Interval, res.Outcome, res.Added, res.Updated, res.Total, errText)
	if err != nil {
		return fmt.Errorf("failed to insert timeframe result for run ID %d: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	j.logger.Debug(ctx, "Timeframe result recorded", map[string]interface{}{
		"runID":    runID,
		"interval": res.Interval,
		"outcome":  res.Outcome,
	})
	return nil
}

// FindRecentRuns retrieves the most recent runs, newest first.
func (j *Journal) FindRecentRuns(ctx context.Context, limit int) ([]*domain.Run, error) {
	const query = `
	SELECT id, started_at, finished_at, attempt, status, notes
	FROM runs
	ORDER BY started_at DESC, id DESC
	LIMIT ?`

	rows, err := j.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent runs: %w: %w", ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	runs := make([]*domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run during FindRecentRuns: %w", err)
		}
		runs = append(runs, run)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}
	return runs, nil
}

// FindTimeframeResults retrieves the per-timeframe outcomes of a run.
func (j *Journal) FindTimeframeResults(ctx context.Context, runID int64) ([]domain.TimeframeResult, error) {
	const query = `
	SELECT interval, outcome, rows_added, rows_updated, rows_total, error
	FROM run_timeframes
	WHERE run_id = ?
	ORDER BY id`

	rows, err := j.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query timeframe results for run ID %d: %w: %w", runID, ports.ErrQueryFailed, err)
	}
	defer rows.Close()

	results := make([]domain.TimeframeResult, 0)
	for rows.Next() {
		var (
			res     domain.TimeframeResult
			errText string
		)
		if err := rows.Scan(&res.Interval, &res.Outcome, &res.Added, &res.Updated, &res.Total, &errText); err != nil {
			return nil, fmt.Errorf("failed to scan timeframe result: %w", err)
		}
		if errText != "" {
			res.Err = errors.New(errText)
		}
		results = append(results, res)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timeframe result rows: %w", err)
	}
	return results, nil
}

// scanRun maps a database row onto a domain.Run.
func scanRun(scanner interface {
	Scan(dest ...interface{}) error
}) (*domain.Run, error) {
	var (
		run        domain.Run
		finishedAt sql.NullTime
	)
	if err := scanner.Scan(&run.ID, &run.StartedAt, &finishedAt, &run.Attempt, &run.Status, &run.Notes); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		run.FinishedAt = finishedAt.Time
	}
	return &run, nil
}
