package store

import (
	"errors"
	"fmt"
)

// Store errors.
// Callers match them with errors.Is; most are wrapped with the key involved.
var (
	// ErrNotFound is returned when a key is not present in the index.
	ErrNotFound = errors.New("record not found")

	// ErrExists is returned when a key that must be new is already present.
	ErrExists = errors.New("record already exists")

	// ErrReadOnly is returned by every mutation on a store opened read-only.
	ErrReadOnly = errors.New("store is read-only")

	// ErrNoContent is returned when reading the body of a record without one.
	ErrNoContent = errors.New("record has no content")

	// ErrCorrupt is returned when a blob is missing or its digest does not
	// match the record. Corrupted bytes are never returned.
	ErrCorrupt = errors.New("content is corrupt")

	// ErrTxDone is returned when committing a finished transaction.
	ErrTxDone = errors.New("transaction already committed or rolled back")

	// ErrLockTimeout is wrapped by ConsistencyError when the index lock could
	// not be acquired in time.
	ErrLockTimeout = errors.New("timed out waiting for store lock")

	// ErrInvalidVersion is returned for a malformed version marker.
	ErrInvalidVersion = errors.New("invalid storage version name")
)

// ConsistencyError reports a store-wide failure after which the shared state
// can no longer be trusted. The process is expected to log it and exit.
type ConsistencyError struct {
	// Op is the operation that failed, for example "update".
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("store consistency failure during %s: %v", e.Op, e.Err)
}

func (e *ConsistencyError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err carries a ConsistencyError.
func IsFatal(err error) bool {
	var ce *ConsistencyError
	return errors.As(err, &ce)
}
