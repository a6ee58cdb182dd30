package cache

import (
	"context"
	"errors"
	"fmt"
)

// Backend persists cache sections.
// Implementations must be safe for concurrent use.
type Backend interface {
	// VerifySchema checks that the backing storage is reachable and has the
	// expected structure, creating it when it does not exist yet.
	VerifySchema(ctx context.Context) error

	// ReadAll returns every persisted section.
	ReadAll(ctx context.Context) ([]Section, error)

	// WriteAll persists the full section set.
	WriteAll(ctx context.Context, sections []Section) error

	// Close releases resources owned by the backend.
	Close() error
}

// ErrSchemaMismatch is returned by VerifySchema when existing storage does
// not have the expected structure.
var ErrSchemaMismatch = errors.New("cache: schema mismatch")

// BackendError wraps a backend failure with the operation that failed.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

// Error returns the error message with backend context.
func (e *BackendError) Error() string {
	return fmt.Sprintf("cache: %s backend: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

func backendError(backend, op string, err error) error {
	if err == nil {
		return nil
	}
	return &BackendError{Backend: backend, Op: op, Err: err}
}
