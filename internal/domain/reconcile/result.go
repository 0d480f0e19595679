package reconcile

import (
	"fmt"

	"github.com/okian/clanrank/internal/domain/ranking"
)

// Outcome summarises a commit.
type Outcome string

// Commit outcomes.
const (
	Success Outcome = "success"
	Partial Outcome = "partial"
	Failure Outcome = "failure"
)

// RowFailure records why one row was not written.
type RowFailure struct {
	ID   string    `json:"id"`
	Kind ErrorKind `json:"kind"`
	Err  error     `json:"-"`
}

// CommitResult is the per-row report of a commit. Succeeded keeps commit
// order.
type CommitResult struct {
	Succeeded   []string             `json:"succeeded"`
	Failed      []RowFailure         `json:"failed"`
	Assignments []ranking.Assignment `json:"assignments"`
	Total       int                  `json:"total"`
}

// Outcome returns Success when every row was written, Failure when none
// was, Partial otherwise. An empty commit is a Success.
func (r CommitResult) Outcome() Outcome {
	switch {
	case len(r.Failed) == 0:
		return Success
	case len(r.Succeeded) == 0:
		return Failure
	default:
		return Partial
	}
}

// Message reports progress as "reordered N of M".
func (r CommitResult) Message() string {
	return fmt.Sprintf("reordered %d of %d", len(r.Succeeded), r.Total)
}

// Summary is the user-facing line for the outcome.
func (r CommitResult) Summary() string {
	switch r.Outcome() {
	case Success:
		return "order saved"
	case Partial:
		return "warning: " + r.Message()
	default:
		return "reorder failed: " + r.Message()
	}
}

// HasKind reports whether any row failed with kind.
func (r CommitResult) HasKind(kind ErrorKind) bool {
	for _, f := range r.Failed {
		if f.Kind == kind {
			return true
		}
	}
	return false
}

// OnlyKind reports whether at least one row failed and all failures are of
// kind.
func (r CommitResult) OnlyKind(kind ErrorKind) bool {
	if len(r.Failed) == 0 {
		return false
	}
	for _, f := range r.Failed {
		if f.Kind != kind {
			return false
		}
	}
	return true
}
