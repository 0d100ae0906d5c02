package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeProvider is a scriptable in-memory Provider for queue tests.
type fakeProvider struct {
	mu       sync.Mutex
	failures int // number of times CreateItem fails before succeeding
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	created  []string
	delay    time.Duration
}

func (f *fakeProvider) CreateItem(ctx context.Context, title, body string, labels []string) (*Record, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxSeen.Load()
		if cur <= max || f.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("transient failure")
	}
	f.created = append(f.created, title)
	return &Record{RemoteID: title, Title: title, State: StateOpen}, nil
}

func (f *fakeProvider) UpdateItem(ctx context.Context, remoteID string, opts UpdateOptions) error {
	return nil
}

func (f *fakeProvider) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*Record, error) {
	return nil, ErrItemNotFound
}

func (f *fakeProvider) ListItems(ctx context.Context, marker string) ([]Record, error) {
	return nil, nil
}

func (f *fakeProvider) ListChildItems(ctx context.Context, parentID string) ([]Record, error) {
	return nil, nil
}

func (f *fakeProvider) LinkChildItem(ctx context.Context, parentID, childID string) error {
	return nil
}

func (f *fakeProvider) CheckAuth(ctx context.Context) error { return nil }
func (f *fakeProvider) Name() ProviderType                  { return ProviderType("fake") }

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	provider := &fakeProvider{failures: 2}
	q := NewQueue(provider, 2, fastRetry())

	rec, err := q.CreateItem(context.Background(), "Task one", "body", nil).Wait()
	if err != nil {
		t.Fatalf("CreateItem() error after retries: %v", err)
	}
	if rec.RemoteID != "Task one" {
		t.Errorf("RemoteID = %q, want %q", rec.RemoteID, "Task one")
	}
}

func TestQueueGivesUpAfterMaxAttempts(t *testing.T) {
	provider := &fakeProvider{failures: 10}
	q := NewQueue(provider, 1, fastRetry())

	_, err := q.CreateItem(context.Background(), "Task", "body", nil).Wait()
	if err == nil {
		t.Fatal("CreateItem() should fail once retries are exhausted")
	}
}

func TestQueueDoesNotRetryNotFound(t *testing.T) {
	provider := &fakeProvider{}
	q := NewQueue(provider, 1, fastRetry())

	_, err := q.FindItemByTitleAndMarker(context.Background(), "Task", "marker")
	if !errors.Is(err, ErrItemNotFound) {
		t.Fatalf("FindItemByTitleAndMarker() error = %v, want ErrItemNotFound", err)
	}
}

func TestQueueBoundsConcurrency(t *testing.T) {
	provider := &fakeProvider{delay: 10 * time.Millisecond}
	q := NewQueue(provider, 2, fastRetry())

	ctx := context.Background()
	var handles []*Handle[*Record]
	for i := 0; i < 8; i++ {
		handles = append(handles, q.CreateItem(ctx, "Task", "body", nil))
	}
	for _, h := range handles {
		if _, err := h.Wait(); err != nil {
			t.Fatalf("CreateItem() error: %v", err)
		}
	}

	if max := provider.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent operations, capacity is 2", max)
	}
}

func TestQueueDrainWaitsForInFlight(t *testing.T) {
	provider := &fakeProvider{delay: 5 * time.Millisecond}
	q := NewQueue(provider, 4, fastRetry())

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		q.CreateItem(ctx, "Task", "body", nil)
	}
	q.Drain()

	provider.mu.Lock()
	defer provider.mu.Unlock()
	if len(provider.created) != 6 {
		t.Errorf("Drain() returned with %d/6 operations complete", len(provider.created))
	}
}

func TestQueueCancelledContext(t *testing.T) {
	provider := &fakeProvider{}
	q := NewQueue(provider, 1, fastRetry())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// With a cancelled context the semaphore acquire fails fast.
	_, err := q.CreateItem(ctx, "Task", "body", nil).Wait()
	if !errors.Is(err, context.Canceled) {
		t.Errorf("CreateItem() error = %v, want context.Canceled", err)
	}
}
