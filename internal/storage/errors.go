package storage

import "errors"

// Storage errors for listing caches.
var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
