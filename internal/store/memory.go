package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
)

// MemoryStore is an in-memory RecordStore used for development and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test hook.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Insert implements RecordStore.
func (m *MemoryStore) Insert(ctx context.Context, owner, blobRef string, metadata []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := m.now().UTC()
	rec := Record{
		ID:        uuid.New().String(),
		Owner:     owner,
		BlobRef:   blobRef,
		Metadata:  append([]byte(nil), metadata...),
		CreatedAt: ts,
		UpdatedAt: ts,
	}
	m.records[rec.ID] = rec
	return rec, nil
}

// Get implements RecordStore.
func (m *MemoryStore) Get(ctx context.Context, id string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %s: %w", id, ipipeline.ErrNotFound)
	}
	return rec, nil
}

// UpdateMetadata implements RecordStore.
func (m *MemoryStore) UpdateMetadata(ctx context.Context, id string, metadata []byte) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return Record{}, fmt.Errorf("record %s: %w", id, ipipeline.ErrNotFound)
	}
	rec.Metadata = append([]byte(nil), metadata...)
	rec.UpdatedAt = m.now().UTC()
	m.records[id] = rec
	return rec, nil
}

// Delete implements RecordStore.
func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return fmt.Errorf("record %s: %w", id, ipipeline.ErrNotFound)
	}
	delete(m.records, id)
	return nil
}

// List implements RecordStore.
func (m *MemoryStore) List(ctx context.Context, offset, limit int) ([]Record, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		all = append(all, rec)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	window := make([]Record, end-offset)
	copy(window, all[offset:end])
	return window, total, nil
}
