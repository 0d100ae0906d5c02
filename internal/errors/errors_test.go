package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestSyncErrorMessage(t *testing.T) {
	err := ErrGatewayFailure("TASK-001", "create", stderrors.New("boom"))

	msg := err.Error()
	if !strings.Contains(msg, "TASK-001") {
		t.Errorf("Error() missing task id: %s", msg)
	}
	if !strings.Contains(msg, "boom") {
		t.Errorf("Error() missing cause: %s", msg)
	}
}

func TestSyncErrorIs(t *testing.T) {
	err := ErrDepUnresolved("3", "99")

	if !stderrors.Is(err, &SyncError{Code: CodeDepUnresolved}) {
		t.Error("Is() should match on code")
	}
	if stderrors.Is(err, &SyncError{Code: CodeCycleDetected}) {
		t.Error("Is() should not match a different code")
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := stderrors.New("disk full")
	err := ErrLedgerCorrupt("/tmp/ledger.db", cause)

	if !stderrors.Is(err, cause) {
		t.Error("Unwrap() should expose the cause")
	}
}

func TestSeverity(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want Severity
	}{
		{"malformed spec is fatal", ErrSpecMalformed("tasks.yaml", nil), SeverityFatal},
		{"unresolved dep is warning", ErrDepUnresolved("1", "9"), SeverityWarning},
		{"cycle is task-level", ErrCycleDetected([]string{"A", "B", "A"}), SeverityTask},
		{"gateway failure is task-level", ErrGatewayFailure("1", "update", nil), SeverityTask},
		{"ledger corruption is fatal", ErrLedgerCorrupt("x", nil), SeverityFatal},
		{"unknown code is fatal", Wrap(stderrors.New("x"), "unknown"), SeverityFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Severity(); got != tt.want {
				t.Errorf("Severity() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAsSyncError(t *testing.T) {
	inner := ErrCycleDetected([]string{"A", "B", "A"})
	wrapped := Wrap(inner, "graph build failed")

	got := AsSyncError(wrapped)
	if got == nil {
		t.Fatal("AsSyncError() returned nil for wrapped SyncError")
	}
	// Outermost SyncError wins.
	if got.Code != Code("UNKNOWN") {
		t.Errorf("AsSyncError() code = %s, want UNKNOWN", got.Code)
	}

	if AsSyncError(stderrors.New("plain")) != nil {
		t.Error("AsSyncError() should return nil for plain errors")
	}
}
