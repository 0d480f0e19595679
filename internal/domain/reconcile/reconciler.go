// Package reconcile writes a committed order back to the store as rank
// values, one row at a time.
//
// There is no cross-row atomicity: a failure midway leaves earlier rows
// written. The CommitResult says exactly which rows landed so the caller can
// reload and show the true order.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/clanrank/internal/adapters/repository"
	"github.com/okian/clanrank/internal/domain/model"
	"github.com/okian/clanrank/internal/domain/ranking"
	"github.com/okian/clanrank/pkg/logger"
	"github.com/okian/clanrank/pkg/metrics"
)

// DefaultTransientRetries is the number of extra attempts for a transient
// row failure.
const DefaultTransientRetries = 1

// Writer is the store surface the reconciler needs.
type Writer interface {
	UpdateRank(ctx context.Context, u repository.RankUpdate) (model.RankedEntity, error)
}

// Reconciler turns an order into per-row rank writes.
type Reconciler struct {
	store      Writer
	scheme     *ranking.Linear
	retries    int
	retryDelay time.Duration
	logger     logger.Logger
}

// New creates a Reconciler over store.
func New(store Writer, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:      store,
		scheme:     ranking.NewLinear(),
		retries:    DefaultTransientRetries,
		retryDelay: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logger.Get().Named("reconciler")
	}
	return r
}

// Plan computes the assignments for order without writing anything.
func (r *Reconciler) Plan(order []string) ([]ranking.Assignment, error) {
	return r.scheme.Assign(order)
}

// Commit writes rank values for order unconditionally. Every row is written
// even if its value is unchanged, so committing the same order twice leaves
// the same ranks. The returned error is non-nil only when nothing was
// attempted (overflow, duplicate ids).
func (r *Reconciler) Commit(ctx context.Context, order []string) (CommitResult, error) {
	return r.commit(ctx, order, nil)
}

// CommitGuarded is Commit with a compare-and-swap on each row's version.
// Rows missing from versions are written unconditionally. A row changed by
// someone else since versions were captured fails with KindConflict.
func (r *Reconciler) CommitGuarded(ctx context.Context, order []string, versions map[string]int64) (CommitResult, error) {
	if versions == nil {
		versions = map[string]int64{}
	}
	return r.commit(ctx, order, versions)
}

func (r *Reconciler) commit(ctx context.Context, order []string, versions map[string]int64) (CommitResult, error) {
	start := time.Now()

	assignments, err := r.Plan(order)
	if err != nil {
		metrics.RecordErrorByComponent("reconciler", "plan")
		return CommitResult{}, fmt.Errorf("planning commit: %w", err)
	}

	res := CommitResult{
		Succeeded:   make([]string, 0, len(assignments)),
		Assignments: assignments,
		Total:       len(assignments),
	}

	for i, a := range assignments {
		if ctx.Err() != nil {
			res.abortFrom(assignments[i:], ctx.Err())
			r.logger.Warn(ctx, "commit cancelled",
				logger.Int("written", len(res.Succeeded)),
				logger.Int("total", res.Total))
			break
		}

		u := repository.RankUpdate{ID: a.ID, RankValue: a.RankValue}
		if versions != nil {
			u.ExpectedVersion = versions[a.ID]
		}

		err := r.write(ctx, u)
		if err == nil {
			res.Succeeded = append(res.Succeeded, a.ID)
			metrics.RecordRowWrite("ok")
			continue
		}

		kind := KindOf(err)
		res.Failed = append(res.Failed, RowFailure{ID: a.ID, Kind: kind, Err: err})
		metrics.RecordRowWrite(kind.String())
		r.logger.Warn(ctx, "row write failed",
			logger.String("id", a.ID),
			logger.Int64("rank_value", a.RankValue),
			logger.String("kind", kind.String()),
			logger.Error(err))

		if kind == KindUnauthorized || kind == KindAborted {
			res.abortFrom(assignments[i+1:], err)
			break
		}
	}

	outcome := res.Outcome()
	metrics.RecordCommit(string(outcome), res.Total, time.Since(start))
	r.logger.Info(ctx, "commit finished",
		logger.String("outcome", string(outcome)),
		logger.String("result", res.Message()),
		logger.Bool("guarded", versions != nil),
		logger.Duration("took", time.Since(start)))
	return res, nil
}

// write performs one row write, retrying transient failures.
func (r *Reconciler) write(ctx context.Context, u repository.RankUpdate) error {
	var err error
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordRowRetry()
			r.logger.Debug(ctx, "retrying row", logger.String("id", u.ID), logger.Int("attempt", attempt))
			if r.retryDelay > 0 {
				t := time.NewTimer(r.retryDelay)
				select {
				case <-ctx.Done():
					t.Stop()
					return ctx.Err()
				case <-t.C:
				}
			}
		}
		_, err = r.store.UpdateRank(ctx, u)
		if err == nil || KindOf(err) != KindTransient {
			return err
		}
	}
	return err
}

func (res *CommitResult) abortFrom(rest []ranking.Assignment, cause error) {
	for _, a := range rest {
		res.Failed = append(res.Failed, RowFailure{
			ID:   a.ID,
			Kind: KindAborted,
			Err:  fmt.Errorf("%w: %w", ErrAborted, cause),
		})
		metrics.RecordRowWrite(KindAborted.String())
	}
}
