package ranking

import "errors"

// Sentinel kinds for rank computation.
var (
	ErrRankOverflow = errors.New("order too long for rank range")
	ErrDuplicateID  = errors.New("duplicate id in order")
)
