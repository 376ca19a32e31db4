package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when the requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned by stores when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate key")
	// ErrPersistenceUnavailable wraps failures of the durable store itself
	// (connection refused, timeouts). Callers degrade and retry later.
	ErrPersistenceUnavailable = errors.New("persistence unavailable")
)

// PersistenceError wraps a store failure so it matches ErrPersistenceUnavailable.
func PersistenceError(op string, err error) error {
	if errors.Is(err, ErrPersistenceUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}
