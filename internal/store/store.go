// Package store provides the durable image record table.
package store

import (
	"context"
	"time"
)

// Record is one stored image row. ID, Owner and BlobRef are immutable after
// creation; Metadata is mutated only through merges and UpdatedAt advances on
// every metadata write.
type Record struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	BlobRef   string    `json:"blob_ref"`
	Metadata  []byte    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RecordStore is the durable table of image records.
type RecordStore interface {
	// Insert creates a record and assigns its identity.
	Insert(ctx context.Context, owner, blobRef string, metadata []byte) (Record, error)

	// Get returns the record with the given id.
	Get(ctx context.Context, id string) (Record, error)

	// UpdateMetadata replaces the metadata bytes and advances UpdatedAt.
	UpdateMetadata(ctx context.Context, id string, metadata []byte) (Record, error)

	// Delete removes the record.
	Delete(ctx context.Context, id string) error

	// List returns a window of records ordered by creation time descending
	// (ties broken by id descending) plus the total record count.
	List(ctx context.Context, offset, limit int) ([]Record, int, error)
}
