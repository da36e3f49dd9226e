// Package queue is the durable offline store: pending deliveries that could
// not be made live, plus the sync-status singleton, kept in SQLite.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/Tiliavir/tab-tracker/internal/model"

	_ "modernc.org/sqlite"
)

// StorageError reports a failed store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ErrUnknownTable is returned for a table name outside model.Tables.
var ErrUnknownTable = errors.New("unknown queue table")

// Store is safe for concurrent use. A Store whose database failed to open is
// still usable: List returns nothing and writes fail with a StorageError.
type Store struct {
	db      *sql.DB
	openErr error
	logger  hclog.Logger
}

// Open opens (creating if needed) the queue database at path. It never
// returns nil; check Err to learn whether the store is degraded.
func Open(path string, logger hclog.Logger) *Store {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Store{logger: logger}
	db, err := open(path)
	if err != nil {
		s.openErr = &StorageError{Op: "open", Err: err}
		logger.Error("offline queue unavailable, running without persistence", "path", path, "error", err)
		return s
	}
	s.db = db
	return s
}

func open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if err := migrate(context.Background(), db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// Err returns the open error of a degraded store, or nil.
func (s *Store) Err() error {
	return s.openErr
}

// Close releases the database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func checkTable(t model.Table) error {
	for _, known := range model.Tables {
		if t == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownTable, t)
}

func (s *Store) usable(op string, table model.Table) error {
	if s.db == nil {
		return s.openErr
	}
	if err := checkTable(table); err != nil {
		return &StorageError{Op: op, Err: err}
	}
	return nil
}

// Enqueue appends e to table and returns the assigned id. e.ID, e.Table and
// e.RetryCount are ignored; new entries start at retry count zero.
func (s *Store) Enqueue(ctx context.Context, table model.Table, e model.QueueEntry) (int64, error) {
	if err := s.usable("enqueue", table); err != nil {
		return 0, err
	}
	if e.QueuedAt.IsZero() {
		e.QueuedAt = time.Now()
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (kind, endpoint, payload, idempotency_key, queued_at, retry_count)
VALUES (?, ?, ?, ?, ?, 0)`, table)
	res, err := s.db.ExecContext(ctx, stmt,
		e.Kind, e.Endpoint, []byte(e.Payload), e.IdempotencyKey, e.QueuedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, &StorageError{Op: "enqueue", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &StorageError{Op: "enqueue", Err: err}
	}
	return id, nil
}

// List returns the entries of table oldest first. Read failures are logged
// and yield an empty result.
func (s *Store) List(ctx context.Context, table model.Table) []model.QueueEntry {
	entries, err := s.list(ctx, table)
	if err != nil {
		s.logger.Warn("listing queue failed", "table", table, "error", err)
		return nil
	}
	return entries
}

func (s *Store) list(ctx context.Context, table model.Table) ([]model.QueueEntry, error) {
	if err := s.usable("list", table); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, kind, endpoint, payload, idempotency_key, queued_at, retry_count
FROM %s ORDER BY id`, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	defer rows.Close()

	var out []model.QueueEntry
	for rows.Next() {
		var (
			e        model.QueueEntry
			payload  []byte
			queuedAt string
		)
		if err := rows.Scan(&e.ID, &e.Kind, &e.Endpoint, &payload, &e.IdempotencyKey, &queuedAt, &e.RetryCount); err != nil {
			return nil, &StorageError{Op: "list", Err: err}
		}
		e.Table = table
		e.Payload = payload
		if t, err := time.Parse(time.RFC3339Nano, queuedAt); err == nil {
			e.QueuedAt = t
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "list", Err: err}
	}
	return out, nil
}

// Remove deletes one entry. Removing an id that is gone is not an error.
func (s *Store) Remove(ctx context.Context, table model.Table, id int64) error {
	if err := s.usable("remove", table); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, table), id); err != nil {
		return &StorageError{Op: "remove", Err: err}
	}
	return nil
}

// IncrementRetry bumps the retry counter of one entry and returns the new value.
func (s *Store) IncrementRetry(ctx context.Context, table model.Table, id int64) (int, error) {
	if err := s.usable("increment retry", table); err != nil {
		return 0, err
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`UPDATE %s SET retry_count = retry_count + 1 WHERE id = ? RETURNING retry_count`, table), id).Scan(&n)
	if err != nil {
		return 0, &StorageError{Op: "increment retry", Err: err}
	}
	return n, nil
}

// Count returns the number of pending entries across all tables.
func (s *Store) Count(ctx context.Context) (int, error) {
	if s.db == nil {
		return 0, s.openErr
	}
	total := 0
	for _, t := range model.Tables {
		var n int
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t)).Scan(&n); err != nil {
			return 0, &StorageError{Op: "count", Err: err}
		}
		total += n
	}
	return total, nil
}

// SetSyncStatus overwrites the sync-status singleton.
func (s *Store) SetSyncStatus(ctx context.Context, st model.SyncStatus) error {
	if s.db == nil {
		return s.openErr
	}
	var last sql.NullString
	if st.LastSyncTime != nil {
		last = sql.NullString{String: st.LastSyncTime.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	const stmt = `
INSERT INTO sync_status (id, pending, last_sync_time, synced, failed, dropped)
VALUES (1, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  pending=excluded.pending,
  last_sync_time=excluded.last_sync_time,
  synced=excluded.synced,
  failed=excluded.failed,
  dropped=excluded.dropped;
`
	_, err := s.db.ExecContext(ctx, stmt, st.Pending, last,
		st.LastSyncResult.Synced, st.LastSyncResult.Failed, st.LastSyncResult.Dropped)
	if err != nil {
		return &StorageError{Op: "set sync status", Err: err}
	}
	return nil
}

// GetSyncStatus returns the stored sync status, or the zero status if none
// was written yet.
func (s *Store) GetSyncStatus(ctx context.Context) (model.SyncStatus, error) {
	if s.db == nil {
		return model.SyncStatus{}, s.openErr
	}
	var (
		st   model.SyncStatus
		last sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pending, last_sync_time, synced, failed, dropped FROM sync_status WHERE id = 1`).
		Scan(&st.Pending, &last, &st.LastSyncResult.Synced, &st.LastSyncResult.Failed, &st.LastSyncResult.Dropped)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncStatus{}, nil
	}
	if err != nil {
		return model.SyncStatus{}, &StorageError{Op: "get sync status", Err: err}
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339Nano, last.String); err == nil {
			st.LastSyncTime = &t
		}
	}
	return st, nil
}

// RefreshPending rewrites only the pending count of the sync status.
func (s *Store) RefreshPending(ctx context.Context) (int, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return 0, err
	}
	st, err := s.GetSyncStatus(ctx)
	if err != nil {
		return n, err
	}
	st.Pending = n
	return n, s.SetSyncStatus(ctx, st)
}
