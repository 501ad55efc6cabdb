package state

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means no adventure exists for the given id.
	ErrNotFound = errors.New("adventure not found")
	// ErrInvalidToken means the presented session token does not match.
	ErrInvalidToken = errors.New("invalid session token")
	// ErrInvalidID means the id failed path-safety validation.
	ErrInvalidID = errors.New("invalid adventure id")
)

// CorruptError marks an on-disk document that exists but cannot be parsed.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupted state file %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// IsCorrupt reports whether err is a CorruptError.
func IsCorrupt(err error) bool {
	var ce *CorruptError
	return errors.As(err, &ce)
}
