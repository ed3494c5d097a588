package metastore

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one versioned schema step.
type Migration struct {
	Version string
	Up      string
}

// AllMigrations contains all schema migrations in order.
var AllMigrations = []Migration{
	{Version: "1.0.0", Up: migrationV1Up},
}

const migrationV1Up = `
-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Chunk provenance: one row per committed vector point, same id.
CREATE TABLE IF NOT EXISTS code_chunks (
    id INTEGER PRIMARY KEY,
    ecosystem TEXT NOT NULL,
    package TEXT NOT NULL,
    file_path TEXT NOT NULL,
    chunk_index INTEGER NOT NULL,
    extension TEXT NOT NULL DEFAULT '',
    file_fp TEXT NOT NULL,
    chunk_fp TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_code_chunks_package ON code_chunks(ecosystem, package);
CREATE INDEX IF NOT EXISTS idx_code_chunks_file_fp ON code_chunks(file_fp);
CREATE INDEX IF NOT EXISTS idx_code_chunks_chunk_fp ON code_chunks(chunk_fp);

-- License reference data, seeded out of band.
CREATE TABLE IF NOT EXISTS licenses (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    ecosystem TEXT NOT NULL,
    package TEXT NOT NULL,
    license TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    UNIQUE(ecosystem, package)
);
`

// ApplyMigrations brings the schema up to the latest version. Already
// applied versions are skipped, so reopening an existing store is safe.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	for _, m := range AllMigrations {
		var applied int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_version WHERE version = ?", m.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("check version %s: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.Version, err)
		}
	}
	return nil
}
