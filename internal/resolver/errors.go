package resolver

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidUIDFormat = errors.New("invalid uid format")
	ErrStaleSnapshot    = errors.New("uid belongs to a stale snapshot")
	ErrUIDNotFound      = errors.New("uid not found in current snapshot")
	ErrElementNotFound  = errors.New("element for uid no longer exists")
	ErrSessionMismatch  = errors.New("uid belongs to another browser session")
)

// Error describes a failed uid operation. Err is one of the sentinel errors
// above, or a transport error from the backend.
type Error struct {
	Op      string
	UID     string
	Current int
	Err     error
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Err, ErrStaleSnapshot):
		return fmt.Sprintf("%s %s: %v (current snapshot is %d)", e.Op, e.UID, e.Err, e.Current)
	default:
		return fmt.Sprintf("%s %s: %v", e.Op, e.UID, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NeedsSnapshot reports whether err is cured by taking a fresh snapshot.
func NeedsSnapshot(err error) bool {
	return errors.Is(err, ErrStaleSnapshot) ||
		errors.Is(err, ErrUIDNotFound) ||
		errors.Is(err, ErrElementNotFound) ||
		errors.Is(err, ErrSessionMismatch)
}
