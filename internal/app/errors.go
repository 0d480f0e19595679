package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrNotStarted      = errors.New("service not started")
	ErrSessionNotFound = errors.New("reorder session not found")
	ErrUnknownDriver   = errors.New("unknown store driver")
)
