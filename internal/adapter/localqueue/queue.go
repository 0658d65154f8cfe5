// Package localqueue is an in-process messagequeue.Queue for single-instance
// deployments without NATS. Messages are not durable: a restart loses whatever
// was in flight, and the next explicit run picks the context up again.
package localqueue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Strob0t/OnboardForge/internal/port/messagequeue"
)

// maxRetries matches the NATS adapter: one delivery plus three retries.
const maxRetries = 3

// ErrClosed is returned by Publish after Drain or Close.
var ErrClosed = errors.New("localqueue: closed")

type subscriber struct {
	id      uint64
	handler messagequeue.Handler
}

// Queue delivers each message to every current subscriber of its subject on a
// fresh goroutine.
type Queue struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	nextID uint64

	inflight sync.WaitGroup
	closed   atomic.Bool
	backoff  time.Duration
}

var _ messagequeue.Queue = (*Queue)(nil)

// New creates an empty queue.
func New() *Queue {
	return &Queue{subs: make(map[string][]subscriber), backoff: 100 * time.Millisecond}
}

// Publish validates data and hands it to the subscribers. Values in ctx such as
// the request id and tenant survive; its cancellation does not.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	if q.closed.Load() {
		return ErrClosed
	}
	if err := messagequeue.Validate(subject, data); err != nil {
		return err
	}

	q.mu.RLock()
	targets := append([]subscriber(nil), q.subs[subject]...)
	q.mu.RUnlock()

	if len(targets) == 0 {
		slog.DebugContext(ctx, "no subscribers", "subject", subject)
		return nil
	}

	detached := context.WithoutCancel(ctx)
	for _, s := range targets {
		q.inflight.Add(1)
		go func() {
			defer q.inflight.Done()
			q.deliver(detached, subject, data, s.handler)
		}()
	}
	return nil
}

func (q *Queue) deliver(ctx context.Context, subject string, data []byte, h messagequeue.Handler) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = q.backoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, h(ctx, subject, data)
	},
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(maxRetries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.WarnContext(ctx, "message handler failed, retrying", "subject", subject, "error", err, "backoff", next)
		}),
	)
	if err != nil {
		slog.ErrorContext(ctx, "message dropped after retries", "subject", subject, "error", err)
	}
}

// Subscribe registers handler for subject.
func (q *Queue) Subscribe(_ context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	if q.closed.Load() {
		return nil, ErrClosed
	}
	q.mu.Lock()
	q.nextID++
	id := q.nextID
	q.subs[subject] = append(q.subs[subject], subscriber{id: id, handler: handler})
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			defer q.mu.Unlock()
			list := q.subs[subject]
			for i, s := range list {
				if s.id == id {
					q.subs[subject] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
		})
	}, nil
}

// Drain stops accepting messages and waits for in-flight handlers.
func (q *Queue) Drain() error {
	q.closed.Store(true)
	q.inflight.Wait()
	return nil
}

// Close stops accepting messages without waiting.
func (q *Queue) Close() error {
	q.closed.Store(true)
	return nil
}

// IsConnected reports whether the queue still accepts messages.
func (q *Queue) IsConnected() bool {
	return !q.closed.Load()
}
