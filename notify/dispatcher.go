// Package notify delivers notification intents off the request path.
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"settlement-service/ledger"
	"settlement-service/models"
)

// Sink delivers one notification. Errors are logged by the dispatcher.
type Sink interface {
	Deliver(ctx context.Context, n models.Notification) error
}

type SinkFunc func(ctx context.Context, n models.Notification) error

func (f SinkFunc) Deliver(ctx context.Context, n models.Notification) error { return f(ctx, n) }

// Dispatcher queues intents in a bounded buffer and hands them to its sinks
// from a single worker. Notify never blocks: when the buffer is full the
// intent is dropped.
type Dispatcher struct {
	sinks   []Sink
	queue   chan models.Notification
	log     *zap.Logger
	timeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewDispatcher(logger *zap.Logger, buffer int, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 256
	}
	return &Dispatcher{
		sinks:   sinks,
		queue:   make(chan models.Notification, buffer),
		log:     logger.Named("notify"),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
}

func (d *Dispatcher) Notify(_ context.Context, notes ...models.Notification) {
	for _, n := range notes {
		select {
		case d.queue <- n:
		default:
			d.log.Warn("notification dropped, queue full",
				zap.String("user_id", n.UserID), zap.String("type", string(n.Type)))
		}
	}
}

// Run delivers queued notifications until Close is called and the queue is
// drained, or ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, n)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n models.Notification) {
	for _, sink := range d.sinks {
		sctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := sink.Deliver(sctx, n)
		cancel()
		if err != nil {
			d.log.Warn("notification delivery failed",
				zap.String("user_id", n.UserID), zap.String("type", string(n.Type)), zap.Error(err))
		}
	}
}

// Close stops accepting work and waits for Run to drain the queue. Run must
// have been started, and Notify must not be called after Close.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	<-d.done
}

// StoreSink persists notifications as records in the ledger store.
func StoreSink(store ledger.Store) Sink {
	return SinkFunc(func(ctx context.Context, n models.Notification) error {
		return store.Commit(ctx, ledger.InsertNotification{Notification: n})
	})
}
