// Package errors provides structured error types for tasksync.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for tasksync.
const (
	// Input errors
	CodeSpecMalformed Code = "SPEC_MALFORMED"
	CodeSpecNotFound  Code = "SPEC_NOT_FOUND"

	// Graph errors
	CodeDepUnresolved Code = "DEP_UNRESOLVED"
	CodeCycleDetected Code = "CYCLE_DETECTED"

	// Remote errors
	CodeGatewayFailure Code = "GATEWAY_FAILURE"
	CodeAuthFailed     Code = "AUTH_FAILED"

	// Ledger errors
	CodeLedgerCorrupt Code = "LEDGER_CORRUPT"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeConfigMissing Code = "CONFIG_MISSING"
)

// Severity classifies how an error affects the run.
type Severity int

const (
	// SeverityWarning errors are recorded and the run continues.
	SeverityWarning Severity = iota
	// SeverityTask errors abort one task's operations; other tasks proceed.
	SeverityTask
	// SeverityFatal errors abort the entire run and trigger rollback.
	SeverityFatal
)

// codeSeverities maps error codes to their run impact.
var codeSeverities = map[Code]Severity{
	CodeSpecMalformed:  SeverityFatal,
	CodeSpecNotFound:   SeverityFatal,
	CodeDepUnresolved:  SeverityWarning,
	CodeCycleDetected:  SeverityTask,
	CodeGatewayFailure: SeverityTask,
	CodeAuthFailed:     SeverityFatal,
	CodeLedgerCorrupt:  SeverityFatal,
	CodeConfigInvalid:  SeverityFatal,
	CodeConfigMissing:  SeverityFatal,
}

// SyncError is the structured error type for tasksync.
type SyncError struct {
	Code  Code   `json:"code"`
	What  string `json:"what"`
	Why   string `json:"why,omitempty"`
	Fix   string `json:"fix,omitempty"`
	Cause error  `json:"-"`
}

// Error implements the error interface.
func (e *SyncError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Cause
}

// Severity returns the run impact for this error's code.
func (e *SyncError) Severity() Severity {
	if s, ok := codeSeverities[e.Code]; ok {
		return s
	}
	return SeverityFatal
}

// UserMessage returns a user-friendly message for CLI output.
func (e *SyncError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// MarshalJSON implements json.Marshaler.
func (e *SyncError) MarshalJSON() ([]byte, error) {
	type alias SyncError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a SyncError with the same code.
func (e *SyncError) Is(target error) bool {
	t, ok := target.(*SyncError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *SyncError) WithCause(err error) *SyncError {
	return &SyncError{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// --- Error constructors ---

// ErrSpecMalformed returns an error for an unparseable task specification.
func ErrSpecMalformed(path string, cause error) *SyncError {
	return &SyncError{
		Code:  CodeSpecMalformed,
		What:  fmt.Sprintf("task specification %s cannot be parsed", path),
		Why:   "The file is not valid YAML or violates the task schema",
		Fix:   "Run 'tasksync validate' for details and fix the specification",
		Cause: cause,
	}
}

// ErrSpecNotFound returns an error when no spec file matches.
func ErrSpecNotFound(pattern string) *SyncError {
	return &SyncError{
		Code: CodeSpecNotFound,
		What: fmt.Sprintf("no task specification matches %q", pattern),
		Why:  "The path or glob pattern resolved to zero files",
		Fix:  "Check the path, or set spec_path in .tasksync/config.yaml",
	}
}

// ErrDepUnresolved returns a warning-level error for a dangling dependency id.
func ErrDepUnresolved(taskID, depID string) *SyncError {
	return &SyncError{
		Code: CodeDepUnresolved,
		What: fmt.Sprintf("task %s depends on unknown task %s", taskID, depID),
		Why:  "The dependency id resolves to no sibling subtask and no top-level task",
		Fix:  "Remove the dependency or fix the id; the edge was dropped for this run",
	}
}

// ErrCycleDetected returns an error for a dependency cycle.
func ErrCycleDetected(cycle []string) *SyncError {
	return &SyncError{
		Code: CodeCycleDetected,
		What: fmt.Sprintf("dependency cycle: %s", strings.Join(cycle, " -> ")),
		Why:  "Tasks in a cycle have no defined resolution order",
		Fix:  "Break the cycle by removing one of the listed dependencies",
	}
}

// ErrGatewayFailure returns an error for a failed remote operation.
func ErrGatewayFailure(taskID, op string, cause error) *SyncError {
	return &SyncError{
		Code:  CodeGatewayFailure,
		What:  fmt.Sprintf("%s failed for task %s", op, taskID),
		Why:   "The tracker call failed after retries were exhausted",
		Fix:   "Re-run sync; already-created items are adopted, not duplicated",
		Cause: cause,
	}
}

// ErrAuthFailed returns an error for tracker authentication failure.
func ErrAuthFailed(provider string, cause error) *SyncError {
	return &SyncError{
		Code:  CodeAuthFailed,
		What:  fmt.Sprintf("%s authentication failed", provider),
		Why:   "The tracker rejected the configured credentials",
		Fix:   "Check the token environment variable for the provider",
		Cause: cause,
	}
}

// ErrLedgerCorrupt returns an error for unreadable ledger state.
func ErrLedgerCorrupt(path string, cause error) *SyncError {
	return &SyncError{
		Code:  CodeLedgerCorrupt,
		What:  fmt.Sprintf("ledger store at %s is unreadable", path),
		Why:   "Persisted run records or ledger entries could not be loaded",
		Fix:   "Inspect the store manually; deleting it forfeits idempotency history",
		Cause: cause,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *SyncError {
	return &SyncError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .tasksync/config.yaml and fix the invalid field",
	}
}

// ErrConfigMissing returns an error for missing configuration.
func ErrConfigMissing(field string) *SyncError {
	return &SyncError{
		Code: CodeConfigMissing,
		What: fmt.Sprintf("missing required configuration: %s", field),
		Why:  "This field is required but not set in configuration",
		Fix:  fmt.Sprintf("Add '%s' to .tasksync/config.yaml", field),
	}
}

// AsSyncError attempts to convert an error to a SyncError.
// Returns nil if the error is not a SyncError.
func AsSyncError(err error) *SyncError {
	var syncErr *SyncError
	if As(err, &syncErr) {
		return syncErr
	}
	return nil
}

// As is a convenience wrapper for errors.As semantics on SyncError.
func As(err error, target any) bool {
	return asError(err, target)
}

func asError(err error, target any) bool {
	if err == nil {
		return false
	}
	if syncErr, ok := err.(*SyncError); ok {
		if t, ok := target.(**SyncError); ok {
			*t = syncErr
			return true
		}
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return asError(unwrapper.Unwrap(), target)
	}
	return false
}

// Wrap wraps a generic error into a SyncError with unknown code.
func Wrap(err error, what string) *SyncError {
	return &SyncError{
		Code:  Code("UNKNOWN"),
		What:  what,
		Cause: err,
	}
}
