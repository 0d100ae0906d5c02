package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/randalmurphal/tasksync/internal/task"
	"github.com/randalmurphal/tasksync/internal/tracker"
)

// refFor returns the human-readable reference for a remote record: "#N" for
// number-based trackers, the remote id (e.g. a Jira key) otherwise.
func refFor(r *tracker.Record) string {
	if r == nil {
		return ""
	}
	if _, err := strconv.Atoi(r.RemoteID); err == nil && r.Number > 0 {
		return fmt.Sprintf("#%d", r.Number)
	}
	return r.RemoteID
}

// renderBody produces the structured markdown body for one task: description,
// details, test strategy, dependency checklist, required-by checklist, and a
// trailing meta comment carrying the deployment marker. Checklist entries
// reference remote items once they exist; a checked box means the referenced
// item is closed.
func renderBody(t *task.Task, deps, requiredBy []string, marker string, records map[string]*tracker.Record, closed map[string]bool) string {
	var b strings.Builder

	if t.Description != "" {
		b.WriteString(strings.TrimSpace(t.Description))
		b.WriteString("\n")
	}

	if t.Details != "" {
		b.WriteString("\n## Details\n\n")
		b.WriteString(strings.TrimSpace(t.Details))
		b.WriteString("\n")
	}

	if t.TestStrategy != "" {
		b.WriteString("\n## Test Strategy\n\n")
		b.WriteString(strings.TrimSpace(t.TestStrategy))
		b.WriteString("\n")
	}

	writeChecklist(&b, "Dependencies", deps, records, closed)
	writeChecklist(&b, "Required By", requiredBy, records, closed)

	b.WriteString("\n<!-- ")
	b.WriteString(marker)
	b.WriteString(" task:")
	b.WriteString(t.QualifiedID())
	b.WriteString(" -->\n")

	return b.String()
}

func writeChecklist(b *strings.Builder, heading string, ids []string, records map[string]*tracker.Record, closed map[string]bool) {
	if len(ids) == 0 {
		return
	}
	b.WriteString("\n## ")
	b.WriteString(heading)
	b.WriteString("\n\n")
	for _, id := range ids {
		box := "[ ]"
		if closed[id] {
			box = "[x]"
		}
		if r := records[id]; r != nil {
			fmt.Fprintf(b, "- %s %s %s\n", box, refFor(r), r.Title)
		} else {
			fmt.Fprintf(b, "- %s `%s`\n", box, id)
		}
	}
}
