package aggregate

import (
	"fmt"
	"net/http"
)

// StoreError is returned by aggregate store implementations. Status follows
// HTTP semantics: 503 for transient backend failures, 400 for everything else.
type StoreError struct {
	Op     string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("aggregate: %s (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// HTTPStatus implements retry.StatusError.
func (e *StoreError) HTTPStatus() int { return e.Status }

// Transient wraps err as a retryable store failure.
func Transient(op string, err error) error {
	return &StoreError{Op: op, Status: http.StatusServiceUnavailable, Err: err}
}

// Permanent wraps err as a non-retryable store failure.
func Permanent(op string, err error) error {
	return &StoreError{Op: op, Status: http.StatusBadRequest, Err: err}
}
