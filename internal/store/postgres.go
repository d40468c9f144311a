package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // postgres driver

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// PostgresStore is a RecordStore backed by a Postgres table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection and ensures the images table exists.
func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}

	s := &PostgresStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure images table: %w", err)
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) ensureTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS images (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			blob_ref TEXT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create images table: %w", err)
	}
	return nil
}

// Insert implements RecordStore.
func (s *PostgresStore) Insert(ctx context.Context, owner, blobRef string, metadata []byte) (Record, error) {
	query := `
		INSERT INTO images (id, owner_id, blob_ref, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, owner_id, blob_ref, COALESCE(metadata, ''), created_at, updated_at
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, uuid.New().String(), owner, blobRef, nullable(metadata)))
}

// Get implements RecordStore.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	query := `
		SELECT id, owner_id, blob_ref, COALESCE(metadata, ''), created_at, updated_at
		FROM images WHERE id = $1
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, id))
}

// UpdateMetadata implements RecordStore.
func (s *PostgresStore) UpdateMetadata(ctx context.Context, id string, metadata []byte) (Record, error) {
	query := `
		UPDATE images SET metadata = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING id, owner_id, blob_ref, COALESCE(metadata, ''), created_at, updated_at
	`
	return s.scanRecord(s.db.QueryRowContext(ctx, query, id, nullable(metadata)))
}

// Delete implements RecordStore.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	if n == 0 {
		return fmt.Errorf("record %s: %w", id, ipipeline.ErrNotFound)
	}
	return nil
}

// List implements RecordStore.
func (s *PostgresStore) List(ctx context.Context, offset, limit int) ([]Record, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}

	query := `
		SELECT id, owner_id, blob_ref, COALESCE(metadata, ''), created_at, updated_at
		FROM images
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var meta string
		if err := rows.Scan(&rec.ID, &rec.Owner, &rec.BlobRef, &meta, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
		}
		if meta != "" {
			rec.Metadata = []byte(meta)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	return records, total, nil
}

func (s *PostgresStore) scanRecord(row *sql.Row) (Record, error) {
	var rec Record
	var meta string
	err := row.Scan(&rec.ID, &rec.Owner, &rec.BlobRef, &meta, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ipipeline.ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	if meta != "" {
		rec.Metadata = []byte(meta)
	}
	return rec, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
