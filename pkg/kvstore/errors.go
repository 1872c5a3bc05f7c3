package kvstore

import "errors"

// Standard errors for store operations.
var (
	// ErrNotFound is returned when a key is not found.
	ErrNotFound = errors.New("key not found")

	// ErrInvalidKey is returned when the key is empty.
	ErrInvalidKey = errors.New("invalid key")

	// ErrConnectionFailed is returned when the store connection fails.
	ErrConnectionFailed = errors.New("store connection failed")
)
