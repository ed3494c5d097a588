// Package metastore persists chunk provenance and license reference data in
// SQLite, keyed by the same point id the vector index uses.
package metastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // pure-Go sqlite driver

	"github.com/clearsrc/scadex/internal/domain"
)

// ChunkRow mirrors a committed vector point's identifying fields.
type ChunkRow struct {
	ID   uint64
	Meta domain.ChunkMeta
}

// Store is the SQLite-backed metadata store.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store at path and applies migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent readers during ingestion.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// MaxPointID returns the highest committed point id, or 0 for an empty
// store. Id assignment resumes from one past this value so ids never
// collide across restarts.
func (s *Store) MaxPointID(ctx context.Context) (uint64, error) {
	var maxID sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(id) FROM code_chunks").Scan(&maxID)
	if err != nil {
		return 0, fmt.Errorf("query max id: %w", err)
	}
	if !maxID.Valid {
		return 0, nil
	}
	return uint64(maxID.Int64), nil
}

// InsertChunkBatch commits one ingestion batch in a single transaction.
// INSERT OR REPLACE keeps the write idempotent: retrying a batch with the
// same ids after a crash between the vector upsert and this commit
// converges instead of duplicating.
func (s *Store) InsertChunkBatch(ctx context.Context, rows []ChunkRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO code_chunks
			(id, ecosystem, package, file_path, chunk_index, extension, file_fp, chunk_fp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Meta.Ecosystem, r.Meta.Package, r.Meta.FilePath,
			r.Meta.ChunkIndex, r.Meta.Extension, r.Meta.FileFP, r.Meta.ChunkFP,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert chunk %d: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetChunk resolves a metadata row by point id.
// Returns domain.ErrNotFound when the id has no row.
func (s *Store) GetChunk(ctx context.Context, id uint64) (ChunkRow, error) {
	row := ChunkRow{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT ecosystem, package, file_path, chunk_index, extension, file_fp, chunk_fp
		FROM code_chunks WHERE id = ?`, id,
	).Scan(
		&row.Meta.Ecosystem, &row.Meta.Package, &row.Meta.FilePath,
		&row.Meta.ChunkIndex, &row.Meta.Extension, &row.Meta.FileFP, &row.Meta.ChunkFP,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ChunkRow{}, fmt.Errorf("chunk %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return ChunkRow{}, fmt.Errorf("query chunk %d: %w", id, err)
	}
	return row, nil
}

// CountChunks returns the number of committed metadata rows.
func (s *Store) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM code_chunks").Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// GetLicense looks up the license label for an (ecosystem, package) pair.
// A miss is never an error; the UNKNOWN sentinel is returned instead.
func (s *Store) GetLicense(ctx context.Context, ecosystem, pkg string) (string, error) {
	var license string
	err := s.db.QueryRowContext(ctx,
		"SELECT license FROM licenses WHERE ecosystem = ? AND package = ?",
		ecosystem, pkg,
	).Scan(&license)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.UnknownLicense, nil
	}
	if err != nil {
		return "", fmt.Errorf("query license %s/%s: %w", ecosystem, pkg, err)
	}
	return license, nil
}

// SeedLicenses upserts license reference data, keeping each record's
// provenance tag. Existing (ecosystem, package) mappings are refreshed.
func (s *Store) SeedLicenses(ctx context.Context, records []domain.LicenseRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO licenses (ecosystem, package, license, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(ecosystem, package) DO UPDATE SET
			license = excluded.license,
			source = excluded.source`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.Ecosystem, r.Package, r.License, r.Source); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("seed license %s/%s: %w", r.Ecosystem, r.Package, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit licenses: %w", err)
	}
	return nil
}
