package storage

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/kacper-wojtaszczyk/nclimgrid-ingest/internal/retry"
)

// Entry is a child of a container: either a nested container or an object.
type Entry struct {
	ID        string
	Name      string
	Container bool
}

// Filter narrows ListChildren results. Zero value matches everything.
type Filter struct {
	Name           string
	ContainersOnly bool
}

func (f Filter) match(e Entry) bool {
	if f.ContainersOnly && !e.Container {
		return false
	}
	return f.Name == "" || f.Name == e.Name
}

// ObjectMeta describes an object to create.
type ObjectMeta struct {
	Name        string
	ParentID    string
	ContentType string
	// Size is the content length in bytes; 0 means unknown.
	Size int64
}

// Object is a stored object as reported by the destination.
type Object struct {
	ID          string
	Name        string
	ContentType string
	Link        string
}

// APIError is returned by destination store calls. Status follows HTTP
// semantics so retry.IsServerError can classify it.
type APIError struct {
	Op     string
	Status int
	Code   string
	Err    error
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storage: %s: %s (status %d): %v", e.Op, e.Code, e.Status, e.Err)
	}
	return fmt.Sprintf("storage: %s (status %d): %v", e.Op, e.Status, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// HTTPStatus implements retry.StatusError.
func (e *APIError) HTTPStatus() int { return e.Status }

// ErrInvalidName is returned for container or object names the store cannot hold.
var ErrInvalidName = errors.New("invalid name")

func wrapError(op string, status int, code string, err error) error {
	if status == 0 {
		if retry.IsNetworkError(err) {
			status = http.StatusServiceUnavailable
		} else {
			status = http.StatusBadRequest
		}
	}
	return &APIError{Op: op, Status: status, Code: code, Err: err}
}
