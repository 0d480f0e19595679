// Package worker drains order-change notices off the queue and hands them to
// a sink, one at a time and in commit order.
package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/clanrank/internal/adapters/mq/queue"
	"github.com/okian/clanrank/pkg/logger"
	"github.com/okian/clanrank/pkg/metrics"
)

// Source defines how the dispatcher receives notices.
type Source interface {
	Dequeue() <-chan queue.Notice
}

// Sink delivers a notice to its audience and returns how many receivers got
// it.
type Sink interface {
	Broadcast(ctx context.Context, n queue.Notice) (int, error)
}

// Dispatcher forwards notices from a Source to a Sink.
type Dispatcher struct {
	source Source
	sink   Sink
	name   string

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewDispatcher creates a new dispatcher with configuration options.
func NewDispatcher(source Source, sink Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		source:   source,
		sink:     sink,
		name:     "dispatcher",
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.Get().Named(d.name)
	}
	return d
}

// Run forwards notices until ctx is cancelled, Shutdown is called, or the
// source closes.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	notices := d.source.Dequeue()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.shutdown:
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			if err := d.dispatch(ctx, n); err != nil {
				d.logger.Error(ctx, "error dispatching notice", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the dispatcher.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// Done is closed when Run returns.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func (d *Dispatcher) dispatch(ctx context.Context, n queue.Notice) error { //nolint:gocritic // hugeParam: value semantics for channel receive
	start := time.Now()
	delivered, err := d.sink.Broadcast(ctx, n)
	if err != nil {
		metrics.RecordErrorByComponent("dispatcher", "broadcast")
		return fmt.Errorf("broadcast %s for session %s: %w", n.Kind, n.SessionID, err)
	}
	for i := 0; i < delivered; i++ {
		metrics.RecordNoticeDelivered()
	}
	d.logger.Debug(ctx, "notice dispatched",
		logger.String("kind", n.Kind),
		logger.String("session", n.SessionID),
		logger.Int("receivers", delivered),
		logger.Duration("took", time.Since(start)))
	return nil
}
