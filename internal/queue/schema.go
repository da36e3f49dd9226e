package queue

import (
	"context"
	"database/sql"
	"fmt"
)

const pendingTableDDL = `
CREATE TABLE IF NOT EXISTS %s (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  kind TEXT NOT NULL,
  endpoint TEXT NOT NULL,
  payload BLOB NOT NULL,
  idempotency_key TEXT NOT NULL,
  queued_at TEXT NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0
);
`

// migrations[i] upgrades the schema from version i to i+1.
var migrations = []string{
	fmt.Sprintf(pendingTableDDL, "pending_activities") +
		fmt.Sprintf(pendingTableDDL, "pending_events") + `
CREATE TABLE IF NOT EXISTS sync_status (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  pending INTEGER NOT NULL DEFAULT 0,
  last_sync_time TEXT,
  synced INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  dropped INTEGER NOT NULL DEFAULT 0
);
`,
}

// SchemaVersion is the version a fully migrated database reports.
var SchemaVersion = len(migrations)

func migrate(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > len(migrations) {
		return fmt.Errorf("schema version %d is newer than supported %d", version, len(migrations))
	}
	for v := version; v < len(migrations); v++ {
		if err := applyMigration(ctx, db, v); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, from int) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migration %d: %w", from+1, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migrations[from]); err != nil {
		return fmt.Errorf("migration %d: %w", from+1, err)
	}
	// PRAGMA does not take bound parameters.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", from+1)); err != nil {
		return fmt.Errorf("migration %d: set version: %w", from+1, err)
	}
	return tx.Commit()
}
