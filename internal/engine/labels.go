package engine

import (
	"fmt"
	"sort"

	"github.com/randalmurphal/tasksync/internal/graph"
	"github.com/randalmurphal/tasksync/internal/task"
)

// buildLabels derives the remote label set for a task from its authored
// fields, its hierarchy position, and its evaluated blocked state.
func buildLabels(t *task.Task, eval graph.Evaluation) []string {
	var labels []string

	if t.Priority != "" {
		labels = append(labels, "priority:"+string(t.Priority))
	}
	if t.Status != "" {
		labels = append(labels, "status:"+string(t.Status))
	}
	if t.Complexity > 0 {
		labels = append(labels, fmt.Sprintf("complexity:%d", t.Complexity))
	}

	if t.IsSubtask() {
		labels = append(labels, "subtask")
	} else if len(t.Subtasks) > 0 {
		labels = append(labels, "parent")
	}

	if eval.State == graph.StateBlocked {
		labels = append(labels, fmt.Sprintf("blocked:%d", eval.OpenCount()))
	} else {
		labels = append(labels, "ready")
	}

	sort.Strings(labels)
	return labels
}

// labelsEqual compares two label sets by value, ignoring order.
func labelsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]int, len(a))
	for _, l := range a {
		set[l]++
	}
	for _, l := range b {
		set[l]--
		if set[l] < 0 {
			return false
		}
	}
	return true
}
