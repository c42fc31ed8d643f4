package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"ohlcvsync/internal/adapters/logger"
)

// Config holds all application configuration.
type Config struct {
	// Binance API. Keys are optional for public market data but kept for
	// accounts with raised request weights.
	APIKey    string
	SecretKey string

	// Kaggle API. Required for update runs, not for local backfills.
	KaggleUsername string
	KaggleKey      string

	// Dataset
	DatasetSlug  string // e.g. "owner/dataset-name"
	DatasetTitle string
	Symbol       string
	HistoryStart time.Time // First open time fetched when no prior data exists
	FileTemplate string    // Per-timeframe CSV name, %s replaced with the interval

	// Working directories and database
	WorkDir string
	DBPath  string

	// Logging
	LogLevel zerolog.Level

	// Retry behaviour
	MaxAttempts       int // Whole-pipeline attempts
	RetryMinDelay     time.Duration
	RetryMaxDelay     time.Duration
	UploadMaxAttempts int // Upload-only attempts within one pipeline run

	// Validation
	StrictValidation bool // Also enforce high/low ordering on fetched candles

	// HTTP
	RequestTimeout time.Duration
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")

	// Kaggle API. Presence is checked by the Kaggle adapter so that
	// commands that never touch the dataset host still start.
	cfg.KaggleUsername = getEnv("KAGGLE_USERNAME", "")
	cfg.KaggleKey = getEnv("KAGGLE_KEY", "")

	// Dataset
	cfg.DatasetSlug = getEnv("DATASET_SLUG", "novandraanugrah/ethereum-price-data-binance-api-2017now")
	if !strings.Contains(cfg.DatasetSlug, "/") {
		errs = append(errs, "DATASET_SLUG must be of the form owner/dataset-name")
	}
	cfg.DatasetTitle = getEnv("DATASET_TITLE", "Ethereum Price Data Binance API (2017-Now)")

	cfg.Symbol = getEnv("SYMBOL", "ETHUSDT")
	if cfg.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}

	historyStartStr := getEnv("HISTORY_START", "2017-08-17")
	cfg.HistoryStart, err = time.Parse("2006-01-02", historyStartStr)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid HISTORY_START (want YYYY-MM-DD): %v", err))
	}

	cfg.FileTemplate = getEnv("FILE_TEMPLATE", "eth_%s_data_2017_to_2025.csv")
	if !strings.Contains(cfg.FileTemplate, "%s") {
		errs = append(errs, "FILE_TEMPLATE must contain a %s placeholder for the interval")
	}

	// Working directories and database
	cfg.WorkDir = getEnv("WORK_DIR", "./work")
	if cfg.WorkDir == "" {
		errs = append(errs, "WORK_DIR must be set")
	}
	cfg.DBPath = getEnv("DB_PATH", "./data/runs.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr)

	// Retry behaviour
	cfg.MaxAttempts, err = getEnvAsIntRequired("MAX_ATTEMPTS", 10)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid MAX_ATTEMPTS: %v", err))
	} else if cfg.MaxAttempts <= 0 {
		errs = append(errs, "MAX_ATTEMPTS must be positive")
	}

	retryMinSeconds := getEnvAsInt("RETRY_MIN_DELAY_SECONDS", 5)
	if retryMinSeconds <= 0 {
		errs = append(errs, "RETRY_MIN_DELAY_SECONDS must be positive")
	}
	cfg.RetryMinDelay = time.Duration(retryMinSeconds) * time.Second

	retryMaxSeconds := getEnvAsInt("RETRY_MAX_DELAY_SECONDS", 300)
	if retryMaxSeconds <= 0 {
		errs = append(errs, "RETRY_MAX_DELAY_SECONDS must be positive")
	}
	cfg.RetryMaxDelay = time.Duration(retryMaxSeconds) * time.Second

	if cfg.RetryMinDelay > cfg.RetryMaxDelay {
		errs = append(errs, "RETRY_MIN_DELAY_SECONDS must not exceed RETRY_MAX_DELAY_SECONDS")
	}

	cfg.UploadMaxAttempts, err = getEnvAsIntRequired("UPLOAD_MAX_ATTEMPTS", 3)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid UPLOAD_MAX_ATTEMPTS: %v", err))
	} else if cfg.UploadMaxAttempts <= 0 {
		errs = append(errs, "UPLOAD_MAX_ATTEMPTS must be positive")
	}

	// Validation
	cfg.StrictValidation = getEnvAsBool("STRICT_VALIDATION", false)

	// HTTP
	requestTimeoutSeconds := getEnvAsInt("REQUEST_TIMEOUT_SECONDS", 60)
	if requestTimeoutSeconds <= 0 {
		errs = append(errs, "REQUEST_TIMEOUT_SECONDS must be positive")
	}
	cfg.RequestTimeout = time.Duration(requestTimeoutSeconds) * time.Second

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// FileName returns the CSV file name for the given interval label.
func (c *Config) FileName(interval string) string {
	return fmt.Sprintf(c.FileTemplate, interval)
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
