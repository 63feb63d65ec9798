package comments

import (
	"errors"
	"fmt"
)

var (
	// ErrNotResident is returned when the target post or comment is not in
	// the store, typically because the reader navigated away.
	ErrNotResident = errors.New("not resident")

	// ErrNotFound indicates an unknown comment or reply identifier.
	ErrNotFound = errors.New("not found")

	// ErrInvalidDraft indicates a draft that failed validation.
	ErrInvalidDraft = errors.New("invalid draft")

	// ErrPending is returned when acting on an entity whose identifier is
	// still temporary.
	ErrPending = errors.New("awaiting confirmation")
)

// A Notice is an out-of-band message for the reader about a failed action
// that has already been rolled back.
type Notice struct {
	Op       string
	TargetID string
	// Draft is the text the reader typed, kept so it can be resubmitted.
	Draft string
	Err   error
}

func (n Notice) Error() string {
	return fmt.Sprintf("%s %s: %v", n.Op, n.TargetID, n.Err)
}

func (n Notice) Unwrap() error { return n.Err }
