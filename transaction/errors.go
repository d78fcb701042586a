package transaction

import "errors"

var (
	// ErrMiss is returned when no entry exists yet for a requested key; the
	// caller is expected to populate the container (typically via a fetch
	// worker) and retry.
	ErrMiss = errors.New("transaction: no entry indexed for key")

	// ErrEntryDecached is returned when a wait resolves onto a Decached
	// entry rather than a usable one.
	ErrEntryDecached = errors.New("transaction: entry was decached before access completed")
)
