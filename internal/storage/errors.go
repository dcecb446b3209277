package storage

import "errors"

var (
	// ErrNotFound is returned when an entity lookup misses.
	ErrNotFound = errors.New("not found")

	// ErrReadOnly is returned for mutations on read-only storage.
	ErrReadOnly = errors.New("storage is read only")

	// ErrUnavailable is returned when the backend failed after retries.
	ErrUnavailable = errors.New("storage unavailable")
)
