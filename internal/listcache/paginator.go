// Package listcache keeps a client-side view of paginated record lists
// coherent under optimistic mutations and background enrichment.
package listcache

import (
	"context"
	"fmt"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/store"
)

// Window is one resolved page of records.
type Window struct {
	Records    []store.Record `json:"records"`
	Page       int            `json:"page"`
	TotalPages int            `json:"total_pages"`
	TotalCount int            `json:"total_count"`
}

// Paginator maps page numbers to offset windows over the record store.
// Clamping happens here, never in the store.
type Paginator struct {
	store store.RecordStore
}

// NewPaginator creates a paginator over the record store.
func NewPaginator(recordStore store.RecordStore) *Paginator {
	return &Paginator{store: recordStore}
}

// Page fetches page n of the given size. Page 0 or negative clamps to 1; a
// page past the end clamps to the last page. An empty listing only accepts
// page 1; anything else is ErrOutOfRange.
func (p *Paginator) Page(ctx context.Context, n, size int) (Window, error) {
	if size < 1 {
		return Window{}, fmt.Errorf("invalid page size %d", size)
	}
	if n < 1 {
		n = 1
	}

	records, total, err := p.store.List(ctx, (n-1)*size, size)
	if err != nil {
		return Window{}, err
	}

	totalPages := (total + size - 1) / size
	if totalPages == 0 {
		if n != 1 {
			return Window{}, fmt.Errorf("page %d of empty listing: %w", n, ipipeline.ErrOutOfRange)
		}
		return Window{Page: 1}, nil
	}

	if n > totalPages {
		n = totalPages
		records, total, err = p.store.List(ctx, (n-1)*size, size)
		if err != nil {
			return Window{}, err
		}
	}

	return Window{
		Records:    records,
		Page:       n,
		TotalPages: totalPages,
		TotalCount: total,
	}, nil
}
