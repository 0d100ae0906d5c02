package task

import (
	"testing"
)

func TestQualifiedID(t *testing.T) {
	top := &Task{ID: "1", Title: "Top"}
	if top.QualifiedID() != "1" {
		t.Errorf("QualifiedID() = %q, want %q", top.QualifiedID(), "1")
	}

	sub := &Task{ID: "2", Title: "Sub", ParentID: "1"}
	if sub.QualifiedID() != "1.2" {
		t.Errorf("QualifiedID() = %q, want %q", sub.QualifiedID(), "1.2")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{"valid minimal", Task{ID: "1", Title: "ok"}, false},
		{"valid full", Task{ID: "a", Title: "ok", Status: StatusPending, Priority: PriorityHigh}, false},
		{"missing id", Task{Title: "ok"}, true},
		{"missing title", Task{ID: "1"}, true},
		{"dotted id", Task{ID: "1.2", Title: "ok"}, true},
		{"bad status", Task{ID: "1", Title: "ok", Status: "wip"}, true},
		{"bad priority", Task{ID: "1", Title: "ok", Priority: "urgent"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFlattenSetsParentID(t *testing.T) {
	tasks := []*Task{
		{ID: "1", Title: "Parent", Subtasks: []*Task{
			{ID: "1", Title: "Child A"},
			{ID: "2", Title: "Child B"},
		}},
		{ID: "2", Title: "Solo"},
	}

	flat := Flatten(tasks)
	if len(flat) != 4 {
		t.Fatalf("Flatten() returned %d tasks, want 4", len(flat))
	}
	if flat[1].ParentID != "1" || flat[2].ParentID != "1" {
		t.Error("Flatten() did not set ParentID on subtasks")
	}
	if flat[1].QualifiedID() != "1.1" {
		t.Errorf("subtask qualified id = %q, want 1.1", flat[1].QualifiedID())
	}
}

func TestPopulateRequiredBy(t *testing.T) {
	tasks := []*Task{
		{ID: "1", Title: "First"},
		{ID: "2", Title: "Second", Dependencies: []string{"1"}},
		{ID: "3", Title: "Third", Dependencies: []string{"1", "2"}},
	}
	flat := Flatten(tasks)
	PopulateRequiredBy(flat)

	if got := flat[0].RequiredBy; len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Errorf("task 1 RequiredBy = %v, want [2 3]", got)
	}
	if got := flat[1].RequiredBy; len(got) != 1 || got[0] != "3" {
		t.Errorf("task 2 RequiredBy = %v, want [3]", got)
	}
	if len(flat[2].RequiredBy) != 0 {
		t.Errorf("task 3 RequiredBy = %v, want empty", flat[2].RequiredBy)
	}
}

func TestPopulateRequiredByRecomputes(t *testing.T) {
	tasks := []*Task{
		{ID: "1", Title: "First"},
		{ID: "2", Title: "Second", Dependencies: []string{"1"}},
	}
	flat := Flatten(tasks)

	// Pre-seed a stale value: it must be discarded, never accepted as input.
	flat[0].RequiredBy = []string{"stale"}
	PopulateRequiredBy(flat)

	if got := flat[0].RequiredBy; len(got) != 1 || got[0] != "2" {
		t.Errorf("RequiredBy = %v, want [2]", got)
	}
}

func TestSiblingScopedResolution(t *testing.T) {
	// Subtask "2" under parent "A" depends on "1". Both a sibling subtask
	// "1" and a top-level task "1" exist; the sibling must win.
	tasks := []*Task{
		{ID: "1", Title: "Top-level one"},
		{ID: "A", Title: "Parent", Subtasks: []*Task{
			{ID: "1", Title: "Sibling one"},
			{ID: "2", Title: "Depends on one", Dependencies: []string{"1"}},
		}},
	}
	flat := Flatten(tasks)

	from := flat[3] // A.2
	if got := ResolveDependency(flat, from, "1"); got != "A.1" {
		t.Errorf("ResolveDependency() = %q, want %q (sibling scope wins)", got, "A.1")
	}

	// A top-level task referencing "1" resolves to the top-level task.
	top := flat[0]
	if got := ResolveDependency(flat, top, "1"); got != "1" {
		t.Errorf("ResolveDependency() from top level = %q, want %q", got, "1")
	}
}
