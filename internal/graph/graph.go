// Package graph builds and analyzes the task dependency graph.
//
// The graph is an explicit adjacency-set structure keyed by qualified task
// id. Edges point task -> dependency; Dependents is the exact structural
// inverse and is recomputed on every build, never accepted as input.
package graph

import (
	"log/slog"
	"sort"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/task"
)

// Node is one task's adjacency sets.
type Node struct {
	ID           string
	Dependencies map[string]struct{}
	Dependents   map[string]struct{}
}

// Graph is the dependency graph for one run.
type Graph struct {
	Nodes map[string]*Node

	// Warnings holds non-fatal build problems (unresolved dependency ids).
	Warnings []*syncerrors.SyncError
}

// Build constructs the graph from a flattened task list. Dependency ids are
// resolved sibling-first; ids that resolve to nothing are dropped with a
// warning. Dependents sets are derived from the dependency edges.
func Build(flat []*task.Task) *Graph {
	g := &Graph{Nodes: make(map[string]*Node, len(flat))}
	byQID := task.IndexByQualifiedID(flat)

	for _, t := range flat {
		qid := t.QualifiedID()
		g.Nodes[qid] = &Node{
			ID:           qid,
			Dependencies: make(map[string]struct{}),
			Dependents:   make(map[string]struct{}),
		}
	}

	for _, t := range flat {
		node := g.Nodes[t.QualifiedID()]
		for _, dep := range t.Dependencies {
			target := task.Resolve(byQID, t, dep)
			if target == nil {
				warn := syncerrors.ErrDepUnresolved(t.QualifiedID(), dep)
				g.Warnings = append(g.Warnings, warn)
				slog.Warn("dropping unresolved dependency",
					"task", t.QualifiedID(),
					"dependency", dep)
				continue
			}
			tq := target.QualifiedID()
			if tq == node.ID {
				// Self-edges are meaningless and would read as a cycle.
				warn := syncerrors.ErrDepUnresolved(t.QualifiedID(), dep)
				g.Warnings = append(g.Warnings, warn)
				slog.Warn("dropping self-dependency", "task", node.ID)
				continue
			}
			node.Dependencies[tq] = struct{}{}
		}
	}

	// Derive the inverse edges in a single pass over dependencies.
	for id, node := range g.Nodes {
		for dep := range node.Dependencies {
			g.Nodes[dep].Dependents[id] = struct{}{}
		}
	}

	return g
}

// DependenciesOf returns the node's dependency ids in sorted order.
func (g *Graph) DependenciesOf(id string) []string {
	node, ok := g.Nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(node.Dependencies)
}

// DependentsOf returns the node's dependent ids in sorted order.
func (g *Graph) DependentsOf(id string) []string {
	node, ok := g.Nodes[id]
	if !ok {
		return nil
	}
	return sortedKeys(node.Dependents)
}

// IDs returns all node ids in sorted order.
func (g *Graph) IDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for id := range g.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
