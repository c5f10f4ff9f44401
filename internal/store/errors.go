package store

import "errors"

var (
	// ErrUnavailable reports that the store could not be opened at all:
	// the data directory cannot be created, the schema marker is from a
	// newer release, or a table file exists but cannot be read. Fatal to
	// the session; there is no automatic retry.
	ErrUnavailable = errors.New("storage unavailable")

	// ErrIO reports a single failed read or write. The store itself
	// remains usable; whether to retry is the caller's call.
	ErrIO = errors.New("storage I/O failure")
)
