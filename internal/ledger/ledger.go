// Package ledger implements the transactional idempotency ledger.
//
// The ledger makes repeated synchronization runs safe: a content hash of the
// whole input short-circuits unchanged runs, and every remote write is
// journaled as a pending entry before it is treated as durable. Rollback is
// bookkeeping only; it never issues compensating deletes against the remote
// tracker. A later run adopts orphaned remote items through identity
// matching instead of duplicating them.
package ledger

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
	"github.com/randalmurphal/tasksync/internal/ledger/driver"
)

//go:embed schema/*.sql schema/postgres/*.sql
var schemaFS embed.FS

// EntryStatus is the lifecycle state of a ledger entry.
type EntryStatus string

const (
	EntryPending    EntryStatus = "pending"
	EntryCommitted  EntryStatus = "committed"
	EntryRolledBack EntryStatus = "rolled-back"
)

// RunStatus is the lifecycle state of a run record.
type RunStatus string

const (
	RunInProgress RunStatus = "in-progress"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
)

// Entry journals one remote create/update operation. Entries are created
// pending at transaction time and finalized exactly once at commit or
// rollback.
type Entry struct {
	TransactionID string      `json:"transaction_id"`
	TaskID        string      `json:"task_id"`
	RemoteID      string      `json:"remote_id"`
	ContentHash   string      `json:"content_hash"`
	BodyHash      string      `json:"body_hash"`
	Labels        []string    `json:"labels"`
	DependencyIDs []string    `json:"dependency_ids"`
	Timestamp     time.Time   `json:"timestamp"`
	Status        EntryStatus `json:"status"`
}

// RunRecord tracks one synchronization run, keyed by the content hash of
// the entire input specification.
type RunRecord struct {
	ContentHash      string    `json:"content_hash"`
	Status           RunStatus `json:"status"`
	FailureReason    string    `json:"failure_reason,omitempty"`
	CreatedRemoteIDs []string  `json:"created_remote_ids"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at,omitzero"`
}

// Ledger is the persisted idempotency ledger. Single-writer per run;
// concurrent runs against the same store must be serialized externally.
type Ledger struct {
	drv  driver.Driver
	path string
}

// Open opens a SQLite-backed ledger at the given path, creating the parent
// directory and running migrations.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	return OpenWithDialect(path, driver.DialectSQLite)
}

// OpenInMemory opens an in-memory SQLite ledger. Each call creates a new
// isolated store; ideal for tests.
func OpenInMemory() (*Ledger, error) {
	return OpenWithDialect(":memory:", driver.DialectSQLite)
}

// OpenWithDialect opens a ledger with a specific dialect.
func OpenWithDialect(dsn string, dialect driver.Dialect) (*Ledger, error) {
	drv, err := driver.New(dialect)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(dsn); err != nil {
		return nil, err
	}
	if err := drv.Migrate(context.Background(), schemaFS); err != nil {
		_ = drv.Close()
		return nil, syncerrors.ErrLedgerCorrupt(dsn, err)
	}
	return &Ledger{drv: drv, path: dsn}, nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.drv.Close()
}

// Path returns the store DSN/path.
func (l *Ledger) Path() string {
	return l.path
}

// LookupRun returns the run record for a content hash, or nil when the hash
// has never been seen.
func (l *Ledger) LookupRun(ctx context.Context, contentHash string) (*RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT content_hash, status, failure_reason, created_remote_ids, started_at, finished_at
		FROM run_records WHERE content_hash = %s`, l.drv.Placeholder(1))
	row := l.drv.QueryRow(ctx, query, contentHash)

	var rec RunRecord
	var createdIDs string
	var startedAt string
	var finishedAt sql.NullString
	if err := row.Scan(&rec.ContentHash, &rec.Status, &rec.FailureReason, &createdIDs, &startedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
	}

	if err := json.Unmarshal([]byte(createdIDs), &rec.CreatedRemoteIDs); err != nil {
		return nil, syncerrors.ErrLedgerCorrupt(l.path, fmt.Errorf("decode created_remote_ids: %w", err))
	}
	if ts, err := time.Parse(time.RFC3339, startedAt); err == nil {
		rec.StartedAt = ts
	}
	if finishedAt.Valid {
		if ts, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
			rec.FinishedAt = ts
		}
	}
	return &rec, nil
}

// Transaction groups the ledger entries of one run. Begin allocates it;
// exactly one of Commit or Rollback finalizes it.
type Transaction struct {
	ID          string
	ContentHash string

	ledger    *Ledger
	finalized bool
}

// Begin starts a transaction for the given content hash and marks the run
// record in-progress. An existing record for the same hash is reset: a
// re-run of previously failed input is a fresh attempt.
func (l *Ledger) Begin(ctx context.Context, contentHash string) (*Transaction, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	query := fmt.Sprintf(`
		INSERT INTO run_records (content_hash, status, failure_reason, created_remote_ids, started_at, finished_at)
		VALUES (%s, %s, '', '[]', %s, NULL)
		ON CONFLICT (content_hash) DO UPDATE SET
			status = %s, failure_reason = '', created_remote_ids = '[]', started_at = %s, finished_at = NULL`,
		l.drv.Placeholder(1), l.drv.Placeholder(2), l.drv.Placeholder(3),
		l.drv.Placeholder(4), l.drv.Placeholder(5))

	if _, err := l.drv.Exec(ctx, query, contentHash, string(RunInProgress), now, string(RunInProgress), now); err != nil {
		return nil, fmt.Errorf("begin run: %w", err)
	}

	return &Transaction{
		ID:          uuid.NewString(),
		ContentHash: contentHash,
		ledger:      l,
	}, nil
}

// Append journals one operation as a pending entry. Must be called before
// the operation's result is treated as durable.
func (t *Transaction) Append(ctx context.Context, entry Entry) error {
	if t.finalized {
		return fmt.Errorf("transaction %s already finalized", t.ID)
	}

	labels, err := json.Marshal(emptyIfNil(entry.Labels))
	if err != nil {
		return fmt.Errorf("encode labels: %w", err)
	}
	deps, err := json.Marshal(emptyIfNil(entry.DependencyIDs))
	if err != nil {
		return fmt.Errorf("encode dependency ids: %w", err)
	}

	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	l := t.ledger
	query := fmt.Sprintf(`
		INSERT INTO ledger_entries
			(transaction_id, task_id, remote_id, content_hash, body_hash, labels, dependency_ids, status, created_at)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		l.drv.Placeholder(1), l.drv.Placeholder(2), l.drv.Placeholder(3),
		l.drv.Placeholder(4), l.drv.Placeholder(5), l.drv.Placeholder(6),
		l.drv.Placeholder(7), l.drv.Placeholder(8), l.drv.Placeholder(9))

	_, err = l.drv.Exec(ctx, query,
		t.ID, entry.TaskID, entry.RemoteID, t.ContentHash, entry.BodyHash,
		string(labels), string(deps), string(EntryPending), ts.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// Commit marks every entry of the transaction committed and the run record
// completed with the ids of remote items created during the run.
func (t *Transaction) Commit(ctx context.Context, createdRemoteIDs []string) error {
	return t.finalize(ctx, EntryCommitted, RunCompleted, "", createdRemoteIDs)
}

// Rollback marks entries rolled-back and the run record failed. It does not
// issue compensating deletes against the remote tracker.
func (t *Transaction) Rollback(ctx context.Context, reason string) error {
	return t.finalize(ctx, EntryRolledBack, RunFailed, reason, nil)
}

func (t *Transaction) finalize(ctx context.Context, entryStatus EntryStatus, runStatus RunStatus, reason string, createdIDs []string) error {
	if t.finalized {
		return fmt.Errorf("transaction %s already finalized", t.ID)
	}
	l := t.ledger

	created, err := json.Marshal(emptyIfNil(createdIDs))
	if err != nil {
		return fmt.Errorf("encode created remote ids: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := l.drv.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin finalize: %w", err)
	}

	entriesQuery := fmt.Sprintf(
		"UPDATE ledger_entries SET status = %s WHERE transaction_id = %s",
		l.drv.Placeholder(1), l.drv.Placeholder(2))
	if _, err := tx.ExecContext(ctx, entriesQuery, string(entryStatus), t.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finalize entries: %w", err)
	}

	runQuery := fmt.Sprintf(`
		UPDATE run_records
		SET status = %s, failure_reason = %s, created_remote_ids = %s, finished_at = %s
		WHERE content_hash = %s`,
		l.drv.Placeholder(1), l.drv.Placeholder(2), l.drv.Placeholder(3),
		l.drv.Placeholder(4), l.drv.Placeholder(5))
	if _, err := tx.ExecContext(ctx, runQuery, string(runStatus), reason, string(created), now, t.ContentHash); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("finalize run record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit finalize: %w", err)
	}
	t.finalized = true
	return nil
}

// Entries returns the entries of one transaction in append order.
func (l *Ledger) Entries(ctx context.Context, transactionID string) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT transaction_id, task_id, remote_id, content_hash, body_hash, labels, dependency_ids, status, created_at
		FROM ledger_entries WHERE transaction_id = %s ORDER BY id`, l.drv.Placeholder(1))
	rows, err := l.drv.Query(ctx, query, transactionID)
	if err != nil {
		return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var labels, deps, createdAt string
		if err := rows.Scan(&e.TransactionID, &e.TaskID, &e.RemoteID, &e.ContentHash,
			&e.BodyHash, &labels, &deps, &e.Status, &createdAt); err != nil {
			return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
		}
		if err := json.Unmarshal([]byte(labels), &e.Labels); err != nil {
			return nil, syncerrors.ErrLedgerCorrupt(l.path, fmt.Errorf("decode labels: %w", err))
		}
		if err := json.Unmarshal([]byte(deps), &e.DependencyIDs); err != nil {
			return nil, syncerrors.ErrLedgerCorrupt(l.path, fmt.Errorf("decode dependency ids: %w", err))
		}
		if ts, err := time.Parse(time.RFC3339, createdAt); err == nil {
			e.Timestamp = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
	}
	return entries, nil
}

// Runs returns every run record, most recent first.
func (l *Ledger) Runs(ctx context.Context) ([]RunRecord, error) {
	rows, err := l.drv.Query(ctx, `
		SELECT content_hash, status, failure_reason, created_remote_ids, started_at, finished_at
		FROM run_records ORDER BY started_at DESC`)
	if err != nil {
		return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
	}
	defer func() { _ = rows.Close() }()

	var runs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var createdIDs, startedAt string
		var finishedAt sql.NullString
		if err := rows.Scan(&rec.ContentHash, &rec.Status, &rec.FailureReason, &createdIDs, &startedAt, &finishedAt); err != nil {
			return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
		}
		if err := json.Unmarshal([]byte(createdIDs), &rec.CreatedRemoteIDs); err != nil {
			return nil, syncerrors.ErrLedgerCorrupt(l.path, fmt.Errorf("decode created_remote_ids: %w", err))
		}
		if ts, err := time.Parse(time.RFC3339, startedAt); err == nil {
			rec.StartedAt = ts
		}
		if finishedAt.Valid {
			if ts, err := time.Parse(time.RFC3339, finishedAt.String); err == nil {
				rec.FinishedAt = ts
			}
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.ErrLedgerCorrupt(l.path, err)
	}
	return runs, nil
}

// Prune deletes entries and run records older than the retention window.
// Returns the number of rows removed.
func (l *Ledger) Prune(ctx context.Context, window time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-window).Format(time.RFC3339)

	entriesQuery := fmt.Sprintf("DELETE FROM ledger_entries WHERE created_at < %s", l.drv.Placeholder(1))
	res, err := l.drv.Exec(ctx, entriesQuery, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune ledger entries: %w", err)
	}
	removed, _ := res.RowsAffected()

	// In-progress records are never pruned: a crashed run's record is what a
	// retry inspects.
	runsQuery := fmt.Sprintf(
		"DELETE FROM run_records WHERE started_at < %s AND status != %s",
		l.drv.Placeholder(1), l.drv.Placeholder(2))
	res, err = l.drv.Exec(ctx, runsQuery, cutoff, string(RunInProgress))
	if err != nil {
		return removed, fmt.Errorf("prune run records: %w", err)
	}
	n, _ := res.RowsAffected()
	return removed + n, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
