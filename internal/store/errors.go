package store

import "errors"

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStale indicates an optimistic status transition found the row in an
	// unexpected state, usually because another worker got there first.
	ErrStale = errors.New("stale status transition")
)
