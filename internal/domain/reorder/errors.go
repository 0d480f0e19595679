package reorder

import "errors"

// Sentinel kinds for session errors. ErrInvalidEntityReference is a
// programmer error: the id was never part of the captured snapshot.
var (
	ErrInvalidEntityReference = errors.New("invalid entity reference")
	ErrSessionClosed          = errors.New("reorder session closed")
	ErrListTooLarge           = errors.New("list too large for reorder session")
	ErrDuplicateID            = errors.New("duplicate id")
	ErrEmptyID                = errors.New("empty id in snapshot")
	ErrInvalidDirection       = errors.New("invalid direction")
)
