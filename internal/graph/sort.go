package graph

import (
	"sort"
	"strings"
)

// SortResult is the outcome of cycle detection plus topological ordering.
type SortResult struct {
	// Order lists task ids so every task appears after all of its
	// dependencies. Empty when HasCycles is true: no partial order is
	// claimed for a cyclic graph.
	Order []string

	// HasCycles reports whether any dependency cycle exists.
	HasCycles bool

	// Cycles lists every independent cycle found, each as the path from the
	// first occurrence of the repeated node through the closing node
	// inclusive, e.g. [A B C A].
	Cycles [][]string
}

// TopoSort detects cycles and, when the graph is acyclic, produces a
// deterministic topological order via Kahn's algorithm with ties broken by
// ascending task id.
func TopoSort(g *Graph) *SortResult {
	result := &SortResult{
		Cycles: FindCycles(g),
	}
	if len(result.Cycles) > 0 {
		result.HasCycles = true
		return result
	}

	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = len(node.Dependencies)
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(g.Nodes))
	for len(ready) > 0 {
		// Ascending-id tie break keeps the order reproducible across runs.
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]string, 0, len(g.Nodes[id].Dependents))
		for dep := range g.Nodes[id].Dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		if len(released) > 0 {
			ready = append(ready, released...)
			sort.Strings(ready)
		}
	}

	result.Order = order
	return result
}

// FindCycles reports every independent dependency cycle in the graph using
// depth-first traversal with an explicit recursion stack. Traversal
// continues after a cycle is found so later cycles are not masked by
// earlier ones.
func FindCycles(g *Graph) [][]string {
	const (
		white = iota // unvisited
		gray         // on the recursion stack
		black        // fully explored
	)

	color := make(map[string]int, len(g.Nodes))
	var stack []string
	var cycles [][]string
	seen := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		stack = append(stack, id)

		for _, dep := range g.DependenciesOf(id) {
			switch color[dep] {
			case gray:
				// The cycle is the stack slice from dep's first occurrence
				// through the current node, closed with dep itself.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), dep)
				if key := canonicalCycleKey(cycle); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			case white:
				visit(dep)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range g.IDs() {
		if color[id] == white {
			visit(id)
		}
	}

	return cycles
}

// AffectedByCycles returns the ids of every task on a cycle plus every task
// that transitively depends on one. Tasks outside this set still have a
// well-defined resolution order and process normally.
func AffectedByCycles(g *Graph, cycles [][]string) map[string]bool {
	affected := make(map[string]bool)
	var queue []string
	for _, cycle := range cycles {
		for _, id := range cycle {
			if !affected[id] {
				affected[id] = true
				queue = append(queue, id)
			}
		}
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for dep := range g.Nodes[id].Dependents {
			if !affected[dep] {
				affected[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	return affected
}

// Without returns a copy of the graph with the given nodes removed. Edges
// touching a removed node are dropped on both sides; dependents are
// re-derived to keep the inverse-edge invariant.
func (g *Graph) Without(excluded map[string]bool) *Graph {
	sub := &Graph{
		Nodes:    make(map[string]*Node, len(g.Nodes)),
		Warnings: g.Warnings,
	}
	for id, node := range g.Nodes {
		if excluded[id] {
			continue
		}
		copied := &Node{
			ID:           id,
			Dependencies: make(map[string]struct{}, len(node.Dependencies)),
			Dependents:   make(map[string]struct{}),
		}
		for dep := range node.Dependencies {
			if !excluded[dep] {
				copied.Dependencies[dep] = struct{}{}
			}
		}
		sub.Nodes[id] = copied
	}
	for id, node := range sub.Nodes {
		for dep := range node.Dependencies {
			sub.Nodes[dep].Dependents[id] = struct{}{}
		}
	}
	return sub
}

// canonicalCycleKey normalizes a cycle to a rotation-independent key so the
// same loop reached from two entry points is reported once.
func canonicalCycleKey(cycle []string) string {
	// Drop the closing repeat, rotate so the smallest id leads.
	loop := cycle[:len(cycle)-1]
	minIdx := 0
	for i, id := range loop {
		if id < loop[minIdx] {
			minIdx = i
		}
	}
	rotated := make([]string, 0, len(loop))
	rotated = append(rotated, loop[minIdx:]...)
	rotated = append(rotated, loop[:minIdx]...)
	return strings.Join(rotated, "\x00")
}
