package services

import "errors"

// Sentinel errors shared across the engine. Backend clients map remote
// status codes onto these so callers can branch without inspecting
// transport details.
var (
	// Transport and remote-store errors
	ErrUnauthorized = errors.New("unauthorized: credential expired or invalid")
	ErrRateLimited  = errors.New("rate limited by remote store")
	ErrServerError  = errors.New("remote store server error")
	ErrMalformed    = errors.New("malformed remote response")
	ErrTimeout      = errors.New("operation timed out")
	ErrConflict     = errors.New("revision conflict: item changed since fetch")

	// Folder errors
	ErrNotFound          = errors.New("folder not found")
	ErrFolderUnavailable = errors.New("folder unavailable after create retry")

	// Orchestration errors
	ErrAlreadyRunning = errors.New("a run is already in progress")
	ErrNoToken        = errors.New("no credential available")
)

// IsAuthError reports whether err should surface as a re-authentication
// prompt rather than a generic remote failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsRetryableError reports whether a caller may reasonably re-invoke the
// operation. The engine itself never retries automatically.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrServerError) ||
		errors.Is(err, ErrTimeout)
}
