package reconcile

import (
	"context"
	"errors"

	"github.com/okian/clanrank/internal/adapters/repository"
)

// ErrorKind classifies a failed row write.
type ErrorKind int

// Row failure kinds.
const (
	KindUnknown ErrorKind = iota
	KindNotFound
	KindUnauthorized
	KindTransient
	KindConflict
	KindAborted
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// MarshalText renders the kind by name.
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// KindOf maps a store error to its kind.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return KindNotFound
	case errors.Is(err, repository.ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, repository.ErrTransient):
		return KindTransient
	case errors.Is(err, repository.ErrConflict):
		return KindConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindAborted
	default:
		return KindUnknown
	}
}

// ErrAborted is recorded for rows never attempted because the commit stopped.
var ErrAborted = errors.New("commit aborted before this row")
