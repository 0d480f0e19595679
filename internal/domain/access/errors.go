package access

import "errors"

// Sentinel kinds for access errors.
var (
	ErrUnknownRole = errors.New("unknown role")
	ErrForbidden   = errors.New("forbidden")
)
