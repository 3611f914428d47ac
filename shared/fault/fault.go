// Package fault defines the error kinds shared across the pipeline.
// Callers classify with errors.Is and decide whether to retry, reject,
// or surface the failure.
package fault

import "errors"

var (
	// ErrValidation marks malformed input. Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an unknown asset id on get/update/delete.
	ErrNotFound = errors.New("not found")

	// ErrConflict marks an idempotency race; safe to retry after backoff.
	ErrConflict = errors.New("conflict")

	// ErrQueueUnavailable marks a transient broker failure.
	ErrQueueUnavailable = errors.New("queue unavailable")

	// ErrStoreUnavailable marks a transient storage failure. Each apply is
	// a single transaction, so no partial write is observable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Retryable reports whether the error is transient and worth retrying.
func Retryable(err error) bool {
	return errors.Is(err, ErrQueueUnavailable) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrConflict)
}
