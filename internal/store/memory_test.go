package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/store"
)

func TestMemoryStoreInsertGet(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	rec, err := s.Insert(ctx, "user-1", "objects/a.jpg", []byte(`{"originalName":"a.jpg"}`))
	require.NoError(t, err)
	require.NotEmpty(t, rec.ID)
	require.Equal(t, "user-1", rec.Owner)
	require.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec, got)
}

func TestMemoryStoreNotFound(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ipipeline.ErrNotFound)

	_, err = s.UpdateMetadata(ctx, "missing", nil)
	require.ErrorIs(t, err, ipipeline.ErrNotFound)

	err = s.Delete(ctx, "missing")
	require.ErrorIs(t, err, ipipeline.ErrNotFound)
}

func TestMemoryStoreUpdateAdvancesUpdatedAt(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	rec, err := s.Insert(ctx, "user-1", "objects/a.jpg", nil)
	require.NoError(t, err)

	current = base.Add(time.Minute)
	updated, err := s.UpdateMetadata(ctx, rec.ID, []byte(`{"ocrText":"x"}`))
	require.NoError(t, err)
	require.Equal(t, base, updated.CreatedAt)
	require.Equal(t, base.Add(time.Minute), updated.UpdatedAt)
}

func TestMemoryStoreListOrderAndWindow(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	current := base
	s.SetClock(func() time.Time { return current })

	var ids []string
	for i := 0; i < 5; i++ {
		current = base.Add(time.Duration(i) * time.Second)
		rec, err := s.Insert(ctx, "user-1", "objects/x", nil)
		require.NoError(t, err)
		ids = append(ids, rec.ID)
	}

	records, total, err := s.List(ctx, 0, 3)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, records, 3)
	// Newest first.
	require.Equal(t, ids[4], records[0].ID)
	require.Equal(t, ids[3], records[1].ID)
	require.Equal(t, ids[2], records[2].ID)

	records, total, err = s.List(ctx, 3, 3)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Len(t, records, 2)

	records, total, err = s.List(ctx, 10, 3)
	require.NoError(t, err)
	require.Equal(t, 5, total)
	require.Empty(t, records)
}

func TestMemoryStoreListBreaksTiesByIDDesc(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	fixed := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	for i := 0; i < 4; i++ {
		_, err := s.Insert(ctx, "user-1", "objects/x", nil)
		require.NoError(t, err)
	}

	records, _, err := s.List(ctx, 0, 4)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for i := 1; i < len(records); i++ {
		require.Greater(t, records[i-1].ID, records[i].ID)
	}
}
