package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Merge Errors
	ErrEmptyInput          = errors.New("nothing to merge: existing series and new batch are both empty")
	ErrOrderingViolation   = errors.New("merged series keys are not strictly increasing")
	ErrAllTimeframesFailed = errors.New("all timeframes failed to merge")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to remote API")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")

	// Dataset Host Specific Errors
	ErrDownloadFailed = errors.New("failed to download dataset")
	ErrUploadFailed   = errors.New("failed to upload dataset version")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")

	// Pipeline Errors
	ErrUpdateFailed = errors.New("dataset update failed")
)
