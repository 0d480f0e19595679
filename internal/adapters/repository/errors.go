package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("entity not found")
	ErrInvalidLimit = errors.New("invalid fetch limit")
	ErrConflict     = errors.New("version conflict")
	ErrUnauthorized = errors.New("not authorized to write ranks")
	ErrTransient    = errors.New("transient store failure")
	ErrDuplicate    = errors.New("entity already exists")
	ErrInvalidID    = errors.New("invalid entity id")
)
