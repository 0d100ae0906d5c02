package tracker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// RetryConfig controls the queue's retry behavior for transient failures.
type RetryConfig struct {
	// MaxAttempts is the total number of tries per operation, including the
	// first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// InitialBackoff is the delay before the first retry; it doubles per
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
}

// DefaultRetryConfig returns the retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
	}
}

// Handle is a completion handle for one queued operation.
type Handle[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Wait blocks until the operation completes and returns its result.
func (h *Handle[T]) Wait() (T, error) {
	<-h.done
	return h.val, h.err
}

// Queue wraps a Provider with a bounded pool of in-flight operations and
// exponential-backoff retry. The reconciliation core issues operations in
// dependency order and relies entirely on the queue for throttling.
type Queue struct {
	provider Provider
	sem      *semaphore.Weighted
	retry    RetryConfig
	wg       sync.WaitGroup
}

// NewQueue creates a queue over the provider with the given concurrency
// capacity.
func NewQueue(provider Provider, capacity int64, retry RetryConfig) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}
	return &Queue{
		provider: provider,
		sem:      semaphore.NewWeighted(capacity),
		retry:    retry,
	}
}

// Provider returns the wrapped provider.
func (q *Queue) Provider() Provider {
	return q.provider
}

// Drain blocks until every in-flight operation has completed. This is the
// synchronization barrier between the engine's materialize and wire phases.
func (q *Queue) Drain() {
	q.wg.Wait()
}

// CreateItem queues an item creation.
func (q *Queue) CreateItem(ctx context.Context, title, body string, labels []string) *Handle[*Record] {
	return submit(q, ctx, "create", func(ctx context.Context) (*Record, error) {
		return q.provider.CreateItem(ctx, title, body, labels)
	})
}

// UpdateItem queues an item update.
func (q *Queue) UpdateItem(ctx context.Context, remoteID string, opts UpdateOptions) *Handle[struct{}] {
	return submit(q, ctx, "update", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.provider.UpdateItem(ctx, remoteID, opts)
	})
}

// LinkChildItem queues a parent-child link.
func (q *Queue) LinkChildItem(ctx context.Context, parentID, childID string) *Handle[struct{}] {
	return submit(q, ctx, "link", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, q.provider.LinkChildItem(ctx, parentID, childID)
	})
}

// FindItemByTitleAndMarker runs a lookup through the queue and blocks for
// the result.
func (q *Queue) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*Record, error) {
	h := submit(q, ctx, "find", func(ctx context.Context) (*Record, error) {
		return q.provider.FindItemByTitleAndMarker(ctx, title, marker)
	})
	return h.Wait()
}

// ListItems runs a marker scan through the queue and blocks for the result.
func (q *Queue) ListItems(ctx context.Context, marker string) ([]Record, error) {
	h := submit(q, ctx, "list", func(ctx context.Context) ([]Record, error) {
		return q.provider.ListItems(ctx, marker)
	})
	return h.Wait()
}

// submit acquires a pool slot, runs op with retry, and returns a handle.
func submit[T any](q *Queue, ctx context.Context, name string, op func(context.Context) (T, error)) *Handle[T] {
	h := &Handle[T]{done: make(chan struct{})}

	if err := q.sem.Acquire(ctx, 1); err != nil {
		h.err = err
		close(h.done)
		return h
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer q.sem.Release(1)
		defer close(h.done)
		h.val, h.err = runWithRetry(ctx, q.retry, name, op)
	}()

	return h
}

// runWithRetry retries op with exponential backoff on transient failures.
func runWithRetry[T any](ctx context.Context, retry RetryConfig, name string, op func(context.Context) (T, error)) (T, error) {
	var val T
	var err error

	backoff := retry.InitialBackoff
	for attempt := 1; attempt <= retry.MaxAttempts; attempt++ {
		val, err = op(ctx)
		if err == nil || !isTransient(err) {
			return val, err
		}
		if attempt == retry.MaxAttempts {
			break
		}

		slog.Warn("tracker operation failed, retrying",
			"op", name,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return val, ctx.Err()
		}
		backoff *= 2
		if retry.MaxBackoff > 0 && backoff > retry.MaxBackoff {
			backoff = retry.MaxBackoff
		}
	}

	return val, err
}

// isTransient reports whether an error is worth retrying. Lookup misses and
// context cancellation are final.
func isTransient(err error) bool {
	if errors.Is(err, ErrItemNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
