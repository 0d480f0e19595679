package reconcile

import (
	"time"

	"github.com/okian/clanrank/internal/domain/ranking"
	"github.com/okian/clanrank/pkg/logger"
)

// Option applies a configuration option to the Reconciler.
type Option func(*Reconciler)

// WithScheme sets the rank scheme.
func WithScheme(s *ranking.Linear) Option {
	return func(r *Reconciler) {
		if s != nil {
			r.scheme = s
		}
	}
}

// WithTransientRetries sets how many times a transient row failure is
// retried before it is recorded.
func WithTransientRetries(n int) Option {
	return func(r *Reconciler) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithRetryDelay sets the pause before a transient retry.
func WithRetryDelay(d time.Duration) Option {
	return func(r *Reconciler) {
		if d >= 0 {
			r.retryDelay = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}
