// Package task provides the task specification model for tasksync.
package task

import (
	"fmt"
	"sort"
	"strings"
)

// Status represents the authored state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusDeferred   Status = "deferred"
	StatusCancelled  Status = "cancelled"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusPending, StatusInProgress, StatusReview,
		StatusDone, StatusDeferred, StatusCancelled,
	}
}

// IsValidStatus returns true if the status is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusInProgress, StatusReview,
		StatusDone, StatusDeferred, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority represents the urgency/importance of a task.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ValidPriorities returns all valid priority values.
func ValidPriorities() []Priority {
	return []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
}

// IsValidPriority returns true if the priority is a valid priority value.
func IsValidPriority(p Priority) bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// Task is one unit of specified work. Tasks are parsed once per run and are
// immutable for that run except for the derived RequiredBy field.
type Task struct {
	// ID is unique at the top level; subtask ids are unique within their parent.
	ID           string   `yaml:"id" json:"id"`
	Title        string   `yaml:"title" json:"title"`
	Description  string   `yaml:"description,omitempty" json:"description,omitempty"`
	Details      string   `yaml:"details,omitempty" json:"details,omitempty"`
	TestStrategy string   `yaml:"test_strategy,omitempty" json:"test_strategy,omitempty"`
	Dependencies []string `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	Status       Status   `yaml:"status,omitempty" json:"status,omitempty"`
	Priority     Priority `yaml:"priority,omitempty" json:"priority,omitempty"`
	Complexity   int      `yaml:"complexity,omitempty" json:"complexity,omitempty"`
	Subtasks     []*Task  `yaml:"subtasks,omitempty" json:"subtasks,omitempty"`

	// ParentID is set while flattening; empty for top-level tasks.
	ParentID string `yaml:"-" json:"parent_id,omitempty"`

	// RequiredBy is derived, never input: the qualified ids of tasks whose
	// Dependencies include this task.
	RequiredBy []string `yaml:"-" json:"required_by,omitempty"`
}

// QualifiedID returns the globally unique id for the task: top-level tasks
// keep their id, subtasks are "parent.id".
func (t *Task) QualifiedID() string {
	if t.ParentID == "" {
		return t.ID
	}
	return t.ParentID + "." + t.ID
}

// IsSubtask reports whether the task is owned by a parent.
func (t *Task) IsSubtask() bool {
	return t.ParentID != ""
}

// Validate checks the task's own fields. Dependency resolution is the graph
// builder's job, not validation.
func (t *Task) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("task id is required")
	}
	if strings.ContainsAny(t.ID, " .") {
		return fmt.Errorf("task %s: id must not contain spaces or dots", t.ID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("task %s: title is required", t.ID)
	}
	if t.Status != "" && !IsValidStatus(t.Status) {
		return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
	}
	if t.Priority != "" && !IsValidPriority(t.Priority) {
		return fmt.Errorf("task %s: invalid priority %q", t.ID, t.Priority)
	}
	return nil
}

// Flatten returns tasks and their subtasks as a single list in document
// order, with ParentID set on subtasks. Nesting deeper than two levels is
// rejected by the parser, so one pass suffices.
func Flatten(tasks []*Task) []*Task {
	flat := make([]*Task, 0, len(tasks))
	for _, t := range tasks {
		flat = append(flat, t)
		for _, st := range t.Subtasks {
			st.ParentID = t.ID
			flat = append(flat, st)
		}
	}
	return flat
}

// IndexByQualifiedID builds a lookup map over a flattened task list.
func IndexByQualifiedID(flat []*Task) map[string]*Task {
	byQID := make(map[string]*Task, len(flat))
	for _, t := range flat {
		byQID[t.QualifiedID()] = t
	}
	return byQID
}

// PopulateRequiredBy recomputes the derived RequiredBy field across the
// flattened task list. Dependency ids follow the resolution rule: a sibling
// subtask of the same parent shadows a same-named top-level task.
func PopulateRequiredBy(flat []*Task) {
	for _, t := range flat {
		t.RequiredBy = nil
	}
	byQID := IndexByQualifiedID(flat)

	for _, t := range flat {
		for _, dep := range t.Dependencies {
			if target := Resolve(byQID, t, dep); target != nil {
				target.RequiredBy = append(target.RequiredBy, t.QualifiedID())
			}
		}
	}

	for _, t := range flat {
		sort.Strings(t.RequiredBy)
	}
}

// ResolveDependency maps a raw dependency id to the qualified id it refers
// to, or "" if it resolves to nothing. Sibling scope wins over top level.
func ResolveDependency(flat []*Task, from *Task, dep string) string {
	if target := Resolve(IndexByQualifiedID(flat), from, dep); target != nil {
		return target.QualifiedID()
	}
	return ""
}

// Resolve looks up a dependency id against an index built by
// IndexByQualifiedID.
func Resolve(byQID map[string]*Task, from *Task, dep string) *Task {
	// Explicit qualified reference.
	if t, ok := byQID[dep]; ok && strings.Contains(dep, ".") {
		return t
	}
	// Sibling-scoped resolution takes precedence for subtasks.
	if from.ParentID != "" {
		if t, ok := byQID[from.ParentID+"."+dep]; ok {
			return t
		}
	}
	if t, ok := byQID[dep]; ok {
		return t
	}
	return nil
}
