package graph

import (
	"sort"
)

// State is the derived blocked/ready status of a task.
type State string

const (
	StateReady   State = "ready"
	StateBlocked State = "blocked"
)

// Evaluation is the blocked-status result for one task.
type Evaluation struct {
	ID    string
	State State

	// OpenDeps lists the dependencies whose remote records are still open,
	// including dependencies with no remote record yet.
	OpenDeps []string
}

// OpenCount returns the number of open dependencies.
func (e Evaluation) OpenCount() int {
	return len(e.OpenDeps)
}

// Evaluator computes blocked/ready status from remote dependency states.
// A task is blocked iff at least one dependency's remote record is not
// closed; a missing record counts as open. A task with no dependencies is
// never blocked.
type Evaluator struct {
	graph  *Graph
	closed map[string]bool
}

// NewEvaluator creates an evaluator over the graph and the set of task ids
// whose remote records were observed closed. The closed set is copied; the
// evaluator owns its own view for the rest of the pass.
func NewEvaluator(g *Graph, closed map[string]bool) *Evaluator {
	own := make(map[string]bool, len(closed))
	for id, c := range closed {
		if c {
			own[id] = true
		}
	}
	return &Evaluator{graph: g, closed: own}
}

// Evaluate recomputes the blocked status of one task.
func (e *Evaluator) Evaluate(id string) Evaluation {
	eval := Evaluation{ID: id, State: StateReady}
	node, ok := e.graph.Nodes[id]
	if !ok {
		return eval
	}
	for dep := range node.Dependencies {
		if !e.closed[dep] {
			eval.OpenDeps = append(eval.OpenDeps, dep)
		}
	}
	if len(eval.OpenDeps) > 0 {
		sort.Strings(eval.OpenDeps)
		eval.State = StateBlocked
	}
	return eval
}

// EvaluateAll recomputes blocked status for every task in the graph.
func (e *Evaluator) EvaluateAll() map[string]Evaluation {
	evals := make(map[string]Evaluation, len(e.graph.Nodes))
	for id := range e.graph.Nodes {
		evals[id] = e.Evaluate(id)
	}
	return evals
}

// MarkClosed records newly observed closures and re-evaluates affected
// dependents breadth-first, so a chain of closures discovered within one
// pass cascades through second- and third-order dependents instead of
// waiting one pass per hop. Returns re-evaluations in BFS order.
func (e *Evaluator) MarkClosed(ids ...string) []Evaluation {
	queue := make([]string, 0, len(ids))
	for _, id := range ids {
		if e.closed[id] {
			continue
		}
		e.closed[id] = true
		queue = append(queue, id)
	}

	visited := make(map[string]bool)
	var evals []Evaluation
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, dep := range e.graph.DependentsOf(id) {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			evals = append(evals, e.Evaluate(dep))
			queue = append(queue, dep)
		}
	}
	return evals
}
