package domain

import "errors"

var (
	// ErrDuplicate is returned by the storage layer when a uniqueness constraint rejects an insert
	ErrDuplicate = errors.New("record already exists")

	// ErrStaleObject is returned when a compare-and-swap update lost the race
	ErrStaleObject = errors.New("stale object")

	// ErrNotFound is returned by remote fetches that resolved to nothing
	ErrNotFound = errors.New("not found")
)
