package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/tasksync/internal/graph"
	"github.com/randalmurphal/tasksync/internal/ledger"
	"github.com/randalmurphal/tasksync/internal/task"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

const testMarker = "tasksync:test-deploy"

// mockProvider is an in-memory tracker used by engine tests.
type mockProvider struct {
	mu         sync.Mutex
	items      map[string]*tracker.Record
	links      map[string][]string // parent remote id -> child remote ids
	nextNumber int

	creates int
	updates int
	linksN  int

	failCreateTitle string
}

func newMockProvider() *mockProvider {
	return &mockProvider{
		items: make(map[string]*tracker.Record),
		links: make(map[string][]string),
	}
}

func (m *mockProvider) seed(title, body string, state tracker.State, labels []string) *tracker.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextNumber++
	r := &tracker.Record{
		RemoteID: strconv.Itoa(m.nextNumber),
		Number:   m.nextNumber,
		Title:    title,
		State:    state,
		Body:     body,
		Labels:   labels,
	}
	m.items[r.RemoteID] = r
	return r
}

func (m *mockProvider) CreateItem(ctx context.Context, title, body string, labels []string) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if title == m.failCreateTitle {
		return nil, fmt.Errorf("boom")
	}
	m.nextNumber++
	r := &tracker.Record{
		RemoteID: strconv.Itoa(m.nextNumber),
		Number:   m.nextNumber,
		Title:    title,
		State:    tracker.StateOpen,
		Body:     body,
		Labels:   append([]string(nil), labels...),
	}
	m.items[r.RemoteID] = r
	copy := *r
	return &copy, nil
}

func (m *mockProvider) UpdateItem(ctx context.Context, remoteID string, opts tracker.UpdateOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	r, ok := m.items[remoteID]
	if !ok {
		return tracker.ErrItemNotFound
	}
	if opts.Body != nil {
		r.Body = *opts.Body
	}
	if opts.Labels != nil {
		r.Labels = append([]string(nil), *opts.Labels...)
	}
	return nil
}

func (m *mockProvider) FindItemByTitleAndMarker(ctx context.Context, title, marker string) (*tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.Title == title && strings.Contains(r.Body, marker) {
			copy := *r
			return &copy, nil
		}
	}
	return nil, tracker.ErrItemNotFound
}

func (m *mockProvider) ListItems(ctx context.Context, marker string) ([]tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracker.Record
	for _, r := range m.items {
		if strings.Contains(r.Body, marker) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockProvider) ListChildItems(ctx context.Context, parentID string) ([]tracker.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tracker.Record
	for _, childID := range m.links[parentID] {
		if r, ok := m.items[childID]; ok {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *mockProvider) LinkChildItem(ctx context.Context, parentID, childID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.linksN++
	m.links[parentID] = append(m.links[parentID], childID)
	return nil
}

func (m *mockProvider) CheckAuth(ctx context.Context) error { return nil }

func (m *mockProvider) Name() tracker.ProviderType { return tracker.ProviderGitHub }

var _ tracker.Provider = (*mockProvider)(nil)

func (m *mockProvider) byTitle(title string) *tracker.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.items {
		if r.Title == title {
			copy := *r
			return &copy
		}
	}
	return nil
}

func (m *mockProvider) mutationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates + m.updates + m.linksN
}

func newTestEngine(t *testing.T, provider tracker.Provider, opts Options) (*Engine, *ledger.Ledger) {
	t.Helper()
	store, err := ledger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	retry := tracker.RetryConfig{MaxAttempts: 1}
	queue := tracker.NewQueue(provider, 4, retry)
	if opts.Marker == "" {
		opts.Marker = testMarker
	}
	return New(queue, store, opts), store
}

// scenarioSpec is the reference graph: 1 has no deps, 2 depends on 1,
// 3 depends on both.
func scenarioSpec() *task.Spec {
	tasks := []*task.Task{
		{ID: "1", Title: "Build parser", Description: "Parse the input format.", Priority: task.PriorityHigh},
		{ID: "2", Title: "Wire lexer", Dependencies: []string{"1"}},
		{ID: "3", Title: "Integrate pipeline", Dependencies: []string{"1", "2"}},
	}
	return &task.Spec{
		Tasks:       tasks,
		ContentHash: task.HashContent([]byte("scenario-v1")),
	}
}

func TestSynchronizeCreatesAllTasks(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})

	summary, err := eng.Synchronize(context.Background(), scenarioSpec())
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)
	require.Empty(t, summary.Errors)

	// Everything is open, so 2 and 3 are blocked on their dependencies.
	require.Equal(t, 1, summary.Ready)
	require.Equal(t, 2, summary.Blocked)

	r := provider.byTitle("Integrate pipeline")
	require.NotNil(t, r)
	require.Contains(t, r.Body, testMarker)
	require.Contains(t, r.Labels, "blocked:2")
}

func TestSecondRunIsZeroOps(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})
	spec := scenarioSpec()

	_, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	before := provider.mutationCount()

	summary, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.True(t, summary.Skipped)
	require.Equal(t, 0, summary.Ops())
	require.Equal(t, before, provider.mutationCount())
}

func TestConvergedInputWithNewHashIsUnchanged(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})
	spec := scenarioSpec()

	_, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	creates := provider.creates

	// Same tasks under a different hash: the fast path misses but the
	// remote is already converged, so no mutations happen.
	spec2 := scenarioSpec()
	spec2.ContentHash = task.HashContent([]byte("scenario-v1-reformatted"))
	summary, err := eng.Synchronize(context.Background(), spec2)
	require.NoError(t, err)
	require.False(t, summary.Skipped)
	require.Equal(t, 0, summary.Created)
	require.Equal(t, 0, summary.Updated)
	require.Equal(t, 3, summary.Unchanged)
	require.Equal(t, creates, provider.creates)
}

func TestAdoptsExistingItemByTitleAndMarker(t *testing.T) {
	provider := newMockProvider()
	provider.seed("Build parser", "stale body\n<!-- "+testMarker+" task:1 -->", tracker.StateOpen, nil)
	eng, _ := newTestEngine(t, provider, Options{})

	summary, err := eng.Synchronize(context.Background(), scenarioSpec())
	require.NoError(t, err)

	// The seeded item is adopted and rewritten in place, never duplicated.
	require.Equal(t, 2, summary.Created)
	require.Equal(t, 1, summary.Updated)

	count := 0
	provider.mu.Lock()
	for _, r := range provider.items {
		if r.Title == "Build parser" {
			count++
		}
	}
	provider.mu.Unlock()
	require.Equal(t, 1, count)
}

func TestBodyChecklistRoundTrip(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})

	_, err := eng.Synchronize(context.Background(), scenarioSpec())
	require.NoError(t, err)

	r3 := provider.byTitle("Integrate pipeline")
	require.NotNil(t, r3)
	require.Contains(t, r3.Body, "## Dependencies")
	require.Equal(t, 2, strings.Count(r3.Body, "- [ ]"), "two open dependency entries")

	// Task 1 is required by 2 and 3.
	r1 := provider.byTitle("Build parser")
	require.NotNil(t, r1)
	require.Contains(t, r1.Body, "## Required By")
	require.Equal(t, 2, strings.Count(r1.Body, "- [ ]"))

	// Checklist entries reference remote numbers after wiring.
	r2 := provider.byTitle("Wire lexer")
	require.NotNil(t, r2)
	require.Contains(t, r2.Body, fmt.Sprintf("#%d", r1.Number))
}

func TestBlockedBecomesReadyAfterDependencyCloses(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})
	spec := scenarioSpec()

	_, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)

	r2 := provider.byTitle("Wire lexer")
	require.Contains(t, r2.Labels, "blocked:1")

	// Close task 1's item remotely and re-run with changed input.
	r1 := provider.byTitle("Build parser")
	provider.mu.Lock()
	provider.items[r1.RemoteID].State = tracker.StateClosed
	provider.mu.Unlock()

	spec2 := scenarioSpec()
	spec2.ContentHash = task.HashContent([]byte("scenario-v2"))
	summary, err := eng.Synchronize(context.Background(), spec2)
	require.NoError(t, err)
	require.Empty(t, summary.Errors)

	r2 = provider.byTitle("Wire lexer")
	require.Contains(t, r2.Labels, "ready")
	require.NotContains(t, r2.Labels, "blocked:1")

	// 3 still waits on 2, whose item is open.
	r3 := provider.byTitle("Integrate pipeline")
	require.Contains(t, r3.Labels, "blocked:1")
}

func TestSubtasksLinkedUnderParent(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})

	spec := &task.Spec{
		Tasks: []*task.Task{
			{ID: "1", Title: "Parent work", Subtasks: []*task.Task{
				{ID: "1", Title: "First step"},
				{ID: "2", Title: "Second step", Dependencies: []string{"1"}},
			}},
		},
		ContentHash: task.HashContent([]byte("subtasks-v1")),
	}

	summary, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)
	require.Equal(t, 2, summary.Linked)

	parent := provider.byTitle("Parent work")
	require.Contains(t, parent.Labels, "parent")

	children, err := provider.ListChildItems(context.Background(), parent.RemoteID)
	require.NoError(t, err)
	require.Len(t, children, 2)

	// Re-linking is skipped on the next pass.
	spec2 := &task.Spec{Tasks: spec.Tasks, ContentHash: task.HashContent([]byte("subtasks-v2"))}
	summary, err = eng.Synchronize(context.Background(), spec2)
	require.NoError(t, err)
	require.Equal(t, 0, summary.Linked)
}

func TestCycleSkipsAffectedTasksOnly(t *testing.T) {
	provider := newMockProvider()
	eng, _ := newTestEngine(t, provider, Options{})

	spec := &task.Spec{
		Tasks: []*task.Task{
			{ID: "a", Title: "Cyclic a", Dependencies: []string{"b"}},
			{ID: "b", Title: "Cyclic b", Dependencies: []string{"a"}},
			{ID: "c", Title: "Downstream of cycle", Dependencies: []string{"a"}},
			{ID: "d", Title: "Independent work"},
		},
		ContentHash: task.HashContent([]byte("cycle-v1")),
	}

	summary, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.Len(t, summary.Cycles, 1)
	require.Equal(t, 3, summary.CycleSkipped)
	require.Equal(t, 1, summary.Created)
	require.NotNil(t, provider.byTitle("Independent work"))
	require.Nil(t, provider.byTitle("Cyclic a"))
}

func TestDryRunPerformsNoWrites(t *testing.T) {
	provider := newMockProvider()
	eng, store := newTestEngine(t, provider, Options{DryRun: true})
	spec := scenarioSpec()

	summary, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.Equal(t, 3, summary.Created)
	require.Equal(t, 0, provider.mutationCount())

	rec, err := store.LookupRun(context.Background(), spec.ContentHash)
	require.NoError(t, err)
	require.Nil(t, rec, "dry run must not open a ledger transaction")
}

func TestCreateFailureRollsBackRun(t *testing.T) {
	provider := newMockProvider()
	provider.failCreateTitle = "Wire lexer"
	eng, store := newTestEngine(t, provider, Options{})
	spec := scenarioSpec()

	summary, err := eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.NotEmpty(t, summary.Errors)
	require.Equal(t, 2, summary.Created)

	rec, err := store.LookupRun(context.Background(), spec.ContentHash)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, ledger.RunFailed, rec.Status)

	// Retry with the failure cleared: the two surviving items are adopted,
	// only the missing one is created.
	provider.failCreateTitle = ""
	summary, err = eng.Synchronize(context.Background(), spec)
	require.NoError(t, err)
	require.Empty(t, summary.Errors)
	require.Equal(t, 1, summary.Created)

	rec, err = store.LookupRun(context.Background(), spec.ContentHash)
	require.NoError(t, err)
	require.Equal(t, ledger.RunCompleted, rec.Status)
}

func TestLabelsReflectTaskFields(t *testing.T) {
	tsk := &task.Task{
		ID:         "1",
		Title:      "Labeled",
		Priority:   task.PriorityCritical,
		Status:     task.StatusInProgress,
		Complexity: 7,
	}
	labels := buildLabels(tsk, graph.Evaluation{ID: "1", State: graph.StateReady})
	require.ElementsMatch(t, []string{
		"priority:critical", "status:in-progress", "complexity:7", "ready",
	}, labels)

	blocked := buildLabels(tsk, graph.Evaluation{
		ID: "1", State: graph.StateBlocked, OpenDeps: []string{"2", "3"},
	})
	require.Contains(t, blocked, "blocked:2")
	require.NotContains(t, blocked, "ready")
}

func TestLabelsEqualIgnoresOrder(t *testing.T) {
	require.True(t, labelsEqual([]string{"a", "b"}, []string{"b", "a"}))
	require.False(t, labelsEqual([]string{"a", "a"}, []string{"a", "b"}))
	require.False(t, labelsEqual([]string{"a"}, []string{"a", "b"}))
	require.True(t, labelsEqual(nil, nil))
}
