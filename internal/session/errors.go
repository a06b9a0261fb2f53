package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both a missing session and a session owned by a
	// different tenant; callers cannot tell the two apart.
	ErrNotFound = errors.New("session not found")

	// ErrSessionClosed is terminal: a closed session accepts no appends.
	ErrSessionClosed = errors.New("session closed")
)

// StorageError wraps an unexpected database failure. Expected outcomes
// (staleness, closed sessions) are never wrapped in it.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return fmt.Sprintf("session storage: %s: %v", e.Op, e.Err) }
func (e *StorageError) Unwrap() error { return e.Err }

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
