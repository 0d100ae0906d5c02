// Package engine implements the reconciliation core: it compares the parsed
// task specification against the remote tracker snapshot and drives the
// minimal set of create/update/link operations to converge them.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/graph"
	"github.com/randalmurphal/tasksync/internal/ledger"
	"github.com/randalmurphal/tasksync/internal/task"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

// Options configures a reconciliation engine.
type Options struct {
	// Marker is the per-deployment identity marker embedded in every item
	// body. Identity matching is exact title plus marker presence.
	Marker string

	// DryRun computes and reports the plan without remote writes or a
	// ledger transaction.
	DryRun bool
}

// Summary is the outcome of one synchronization run.
type Summary struct {
	ContentHash string `json:"content_hash"`

	// Skipped is true when a completed run for the same content hash
	// short-circuited the pass.
	Skipped bool `json:"skipped"`

	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Linked    int `json:"linked"`

	Blocked int `json:"blocked"`
	Ready   int `json:"ready"`

	// CycleSkipped counts tasks excluded from the run because they sit on a
	// dependency cycle or transitively depend on one.
	CycleSkipped int        `json:"cycle_skipped"`
	Cycles       [][]string `json:"cycles,omitempty"`

	Errors []*syncerrors.SyncError `json:"errors,omitempty"`
}

// Ops returns the number of remote mutations performed.
func (s *Summary) Ops() int {
	return s.Created + s.Updated + s.Linked
}

// Engine reconciles a task specification against a remote tracker through a
// bounded operation queue, journaling every write in the idempotency ledger.
type Engine struct {
	queue  *tracker.Queue
	store  *ledger.Ledger
	marker string
	dryRun bool
}

// New creates a reconciliation engine.
func New(queue *tracker.Queue, store *ledger.Ledger, opts Options) *Engine {
	return &Engine{
		queue:  queue,
		store:  store,
		marker: opts.Marker,
		dryRun: opts.DryRun,
	}
}

// Synchronize runs one reconciliation pass. Task-level failures are isolated
// into the summary's error list; the returned error is reserved for fatal
// conditions (unreadable ledger, failed remote snapshot, cancellation).
func (e *Engine) Synchronize(ctx context.Context, spec *task.Spec) (*Summary, error) {
	summary := &Summary{ContentHash: spec.ContentHash}

	// Fast path: a completed run for identical input needs no remote calls.
	if !e.dryRun {
		rec, err := e.store.LookupRun(ctx, spec.ContentHash)
		if err != nil {
			return summary, err
		}
		if rec != nil && rec.Status == ledger.RunCompleted {
			slog.Info("input unchanged since last completed run, skipping",
				"content_hash", shortHash(spec.ContentHash))
			summary.Skipped = true
			return summary, nil
		}
	}

	flat := task.Flatten(spec.Tasks)
	task.PopulateRequiredBy(flat)
	byQID := task.IndexByQualifiedID(flat)

	g := graph.Build(flat)
	summary.Errors = append(summary.Errors, g.Warnings...)

	work, order := e.resolveOrder(g, summary)

	// Run-scoped remote snapshot, indexed by exact title.
	existing, err := e.queue.ListItems(ctx, e.marker)
	if err != nil {
		return summary, syncerrors.ErrGatewayFailure("*", "list items", err)
	}
	byTitle := make(map[string]*tracker.Record, len(existing))
	for i := range existing {
		byTitle[existing[i].Title] = &existing[i]
	}

	records := make(map[string]*tracker.Record, len(order))
	closed := make(map[string]bool)
	for _, qid := range order {
		if r, ok := byTitle[byQID[qid].Title]; ok {
			records[qid] = r
			if r.State == tracker.StateClosed {
				closed[qid] = true
			}
		}
	}

	// Blocked evaluation with breadth-first closure propagation, so chains
	// of closed dependencies resolve within this pass.
	ev := graph.NewEvaluator(work, nil)
	closedIDs := make([]string, 0, len(closed))
	for qid := range closed {
		closedIDs = append(closedIDs, qid)
	}
	ev.MarkClosed(closedIDs...)
	evals := ev.EvaluateAll()
	for _, qid := range order {
		if evals[qid].State == graph.StateBlocked {
			summary.Blocked++
		} else {
			summary.Ready++
		}
	}

	var txn *ledger.Transaction
	if !e.dryRun {
		txn, err = e.store.Begin(ctx, spec.ContentHash)
		if err != nil {
			return summary, err
		}
	}

	createdIDs, createdSet := e.materialize(ctx, summary, txn, order, byQID, work, records, closed, evals)
	e.wire(ctx, summary, txn, order, byQID, work, records, closed, evals, createdSet)

	if e.dryRun {
		return summary, ctx.Err()
	}
	return summary, e.finalize(ctx, summary, txn, createdIDs)
}

// resolveOrder detects cycles, records them, and returns the workable
// subgraph with its deterministic topological order. Tasks on a cycle or
// transitively dependent on one are excluded; everything else proceeds.
func (e *Engine) resolveOrder(g *graph.Graph, summary *Summary) (*graph.Graph, []string) {
	sorted := graph.TopoSort(g)
	if !sorted.HasCycles {
		return g, sorted.Order
	}

	summary.Cycles = sorted.Cycles
	for _, cycle := range sorted.Cycles {
		summary.Errors = append(summary.Errors, syncerrors.ErrCycleDetected(cycle))
		slog.Warn("dependency cycle detected, skipping affected tasks", "cycle", cycle)
	}

	affected := graph.AffectedByCycles(g, sorted.Cycles)
	summary.CycleSkipped = len(affected)
	work := g.Without(affected)
	return work, graph.TopoSort(work).Order
}

// materialize is phase one: create every task that has no remote record yet,
// parents before children, then drain the queue so phase two sees a complete
// record map. Returns the created remote ids and the created task set.
func (e *Engine) materialize(
	ctx context.Context,
	summary *Summary,
	txn *ledger.Transaction,
	order []string,
	byQID map[string]*task.Task,
	work *graph.Graph,
	records map[string]*tracker.Record,
	closed map[string]bool,
	evals map[string]graph.Evaluation,
) ([]string, map[string]bool) {
	type pendingCreate struct {
		qid      string
		bodyHash string
		handle   *tracker.Handle[*tracker.Record]
	}

	var creates []pendingCreate
	for _, qid := range materializeOrder(order, byQID) {
		if _, ok := records[qid]; ok {
			continue
		}
		t := byQID[qid]
		if e.dryRun {
			summary.Created++
			continue
		}
		body := renderBody(t, work.DependenciesOf(qid), t.RequiredBy, e.marker, records, closed)
		labels := buildLabels(t, evals[qid])
		creates = append(creates, pendingCreate{
			qid:      qid,
			bodyHash: task.HashContent([]byte(body)),
			handle:   e.queue.CreateItem(ctx, t.Title, body, labels),
		})
	}

	createdSet := make(map[string]bool, len(creates))
	if e.dryRun {
		return nil, createdSet
	}
	e.queue.Drain()

	var createdIDs []string
	for _, c := range creates {
		rec, err := c.handle.Wait()
		if err != nil {
			gerr := syncerrors.ErrGatewayFailure(c.qid, "create item", err)
			summary.Errors = append(summary.Errors, gerr)
			slog.Error("create failed after retries", "task", c.qid, "error", err)
			continue
		}

		if appendErr := txn.Append(ctx, ledger.Entry{
			TaskID:        c.qid,
			RemoteID:      rec.RemoteID,
			BodyHash:      c.bodyHash,
			Labels:        rec.Labels,
			DependencyIDs: work.DependenciesOf(c.qid),
		}); appendErr != nil {
			slog.Error("ledger append failed", "task", c.qid, "error", appendErr)
		}

		records[c.qid] = rec
		createdIDs = append(createdIDs, rec.RemoteID)
		createdSet[c.qid] = true
		summary.Created++
		if rec.State == tracker.StateClosed {
			closed[c.qid] = true
		}
	}
	return createdIDs, createdSet
}

// wire is phase two: rewrite bodies and labels now that every task has a
// remote reference, and establish native parent-child links. Link failures
// are non-fatal since the relationship is redundantly in the body.
func (e *Engine) wire(
	ctx context.Context,
	summary *Summary,
	txn *ledger.Transaction,
	order []string,
	byQID map[string]*task.Task,
	work *graph.Graph,
	records map[string]*tracker.Record,
	closed map[string]bool,
	evals map[string]graph.Evaluation,
	createdSet map[string]bool,
) {
	type pendingUpdate struct {
		qid    string
		handle *tracker.Handle[struct{}]
	}

	var updates []pendingUpdate
	var links []pendingLink

	for _, qid := range order {
		rec, ok := records[qid]
		if !ok {
			continue // failed create, or dry-run plan
		}
		t := byQID[qid]
		deps := work.DependenciesOf(qid)

		body := renderBody(t, deps, t.RequiredBy, e.marker, records, closed)
		labels := buildLabels(t, evals[qid])

		needBody := rec.Body != body
		needLabels := !labelsEqual(rec.Labels, labels)
		if !needBody && !needLabels {
			if !createdSet[qid] {
				summary.Unchanged++
			}
			continue
		}

		if e.dryRun {
			summary.Updated++
			continue
		}

		opts := tracker.UpdateOptions{}
		if needBody {
			opts.Body = &body
		}
		if needLabels {
			opts.Labels = &labels
		}
		updates = append(updates, pendingUpdate{
			qid:    qid,
			handle: e.queue.UpdateItem(ctx, rec.RemoteID, opts),
		})

		if appendErr := txn.Append(ctx, ledger.Entry{
			TaskID:        qid,
			RemoteID:      rec.RemoteID,
			BodyHash:      task.HashContent([]byte(body)),
			Labels:        labels,
			DependencyIDs: deps,
		}); appendErr != nil {
			slog.Error("ledger append failed", "task", qid, "error", appendErr)
		}
	}

	if !e.dryRun {
		links = e.linkChildren(ctx, order, byQID, records)
	}

	e.queue.Drain()

	for _, u := range updates {
		if _, err := u.handle.Wait(); err != nil {
			gerr := syncerrors.ErrGatewayFailure(u.qid, "update item", err)
			summary.Errors = append(summary.Errors, gerr)
			slog.Error("update failed after retries", "task", u.qid, "error", err)
			continue
		}
		// A rewrite of an item created this run is part of creation, not an
		// update of pre-existing remote state.
		if !createdSet[u.qid] {
			summary.Updated++
		}
	}
	for _, l := range links {
		if _, err := l.handle.Wait(); err != nil {
			slog.Warn("parent-child link failed",
				"parent", l.parent, "child", l.child, "error", err)
			continue
		}
		summary.Linked++
	}
}

// pendingLink tracks one queued parent-child link operation.
type pendingLink struct {
	parent string
	child  string
	handle *tracker.Handle[struct{}]
}

// linkChildren queues native parent-child links for subtasks not already
// linked under their parent.
func (e *Engine) linkChildren(
	ctx context.Context,
	order []string,
	byQID map[string]*task.Task,
	records map[string]*tracker.Record,
) []pendingLink {
	linked := make(map[string]map[string]bool) // parent qid -> child remote id
	var links []pendingLink

	for _, qid := range order {
		t := byQID[qid]
		if !t.IsSubtask() {
			continue
		}
		parentRec, ok := records[t.ParentID]
		if !ok {
			continue
		}
		childRec, ok := records[qid]
		if !ok {
			continue
		}

		if _, ok := linked[t.ParentID]; !ok {
			linked[t.ParentID] = make(map[string]bool)
			children, err := e.queue.Provider().ListChildItems(ctx, parentRec.RemoteID)
			if err != nil {
				slog.Warn("listing child items failed", "parent", t.ParentID, "error", err)
			}
			for _, c := range children {
				linked[t.ParentID][c.RemoteID] = true
			}
		}
		if linked[t.ParentID][childRec.RemoteID] {
			continue
		}

		links = append(links, pendingLink{
			parent: t.ParentID,
			child:  qid,
			handle: e.queue.LinkChildItem(ctx, parentRec.RemoteID, childRec.RemoteID),
		})
	}
	return links
}

// finalize commits or rolls back the ledger transaction. Rollback is
// bookkeeping only; remote items created before a failure are adopted by the
// next run through identity matching.
func (e *Engine) finalize(ctx context.Context, summary *Summary, txn *ledger.Transaction, createdIDs []string) error {
	// The finalize write must land even when the run was cancelled.
	fctx := context.WithoutCancel(ctx)

	reason := failureReason(ctx, summary)
	if reason == "" {
		if err := txn.Commit(fctx, createdIDs); err != nil {
			return err
		}
		slog.Info("run committed",
			"content_hash", shortHash(summary.ContentHash),
			"created", summary.Created,
			"updated", summary.Updated,
			"unchanged", summary.Unchanged)
		return ctx.Err()
	}

	if err := txn.Rollback(fctx, reason); err != nil {
		return err
	}
	slog.Warn("run rolled back", "reason", reason)
	return ctx.Err()
}

// failureReason returns a rollback reason, or "" when the run succeeded.
// Task-level failures force a failed run record so a retry with identical
// input is not short-circuited by the fast path.
func failureReason(ctx context.Context, summary *Summary) string {
	if err := ctx.Err(); err != nil {
		return fmt.Sprintf("run cancelled: %v", err)
	}
	for _, e := range summary.Errors {
		if e.Code == syncerrors.CodeGatewayFailure {
			return e.Error()
		}
	}
	return ""
}

// materializeOrder rearranges a topological order so every subtask appears
// after its parent. Dependency order is preserved among the rest.
func materializeOrder(order []string, byQID map[string]*task.Task) []string {
	inOrder := make(map[string]bool, len(order))
	for _, qid := range order {
		inOrder[qid] = true
	}

	emitted := make(map[string]bool, len(order))
	out := make([]string, 0, len(order))
	var emit func(qid string)
	emit = func(qid string) {
		if emitted[qid] {
			return
		}
		if t := byQID[qid]; t != nil && t.ParentID != "" && inOrder[t.ParentID] {
			emit(t.ParentID)
		}
		emitted[qid] = true
		out = append(out, qid)
	}
	for _, qid := range order {
		emit(qid)
	}
	return out
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
