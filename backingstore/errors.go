package backingstore

import "errors"

var (
	// ErrNotFound is returned by Fetch when the requested id/name has no
	// durable record.
	ErrNotFound = errors.New("backingstore: record not found")

	// ErrVersionConflict is returned by ObjectStore.Flush when the stored
	// version has moved since the caller last fetched it.
	ErrVersionConflict = errors.New("backingstore: version conflict on flush")
)
