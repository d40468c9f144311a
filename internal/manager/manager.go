// Package manager orchestrates uploads, deletes and paged listing over the
// record store, blob store and the client-side caches.
package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/blob"
	"github.com/imagevault/pipeline/internal/listcache"
	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/metrics"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/internal/urlcache"
)

// FileUpload is one file in an upload batch.
type FileUpload struct {
	Name        string
	ContentType string
	Data        []byte
}

// Manager ties the stores and caches together for user-initiated actions.
type Manager struct {
	records store.RecordStore
	blobs   blob.Store
	lists   *listcache.Cache
	urls    *urlcache.Cache
	log     *zap.Logger
}

// New creates a manager. urls is the display-TTL signed-URL cache.
func New(records store.RecordStore, blobs blob.Store, lists *listcache.Cache, urls *urlcache.Cache, log *zap.Logger) *Manager {
	return &Manager{
		records: records,
		blobs:   blobs,
		lists:   lists,
		urls:    urls,
		log:     log,
	}
}

// Upload stores each file's bytes and inserts its record with the set-once
// upload metadata. The loop stops at the first failing file; records created
// before the failure are kept and returned alongside the error. Upload is not
// transactional across blob and record: a blob whose record insert fails is
// left behind and logged for operator reconciliation.
func (m *Manager) Upload(ctx context.Context, owner string, files []FileUpload) ([]store.Record, error) {
	var created []store.Record
	for _, f := range files {
		objectName := fmt.Sprintf("images/%s%s", uuid.New().String(), filepath.Ext(f.Name))

		if err := m.blobs.Put(ctx, objectName, bytes.NewReader(f.Data), int64(len(f.Data)), f.ContentType); err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			return created, fmt.Errorf("failed to store %s: %w", f.Name, err)
		}

		bagBytes, err := metadata.Merge(nil, metadata.UploadPatch(f.Name, int64(len(f.Data)), f.ContentType))
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			return created, err
		}

		rec, err := m.records.Insert(ctx, owner, objectName, bagBytes)
		if err != nil {
			metrics.UploadsTotal.WithLabelValues("failed").Inc()
			m.log.Warn("record insert failed after blob write, orphaned blob left behind",
				zap.String("object", objectName),
				zap.String("file", f.Name),
				zap.Error(err))
			return created, fmt.Errorf("failed to insert record for %s: %w", f.Name, err)
		}

		metrics.UploadsTotal.WithLabelValues("succeeded").Inc()
		m.log.Info("image uploaded",
			zap.String("record_id", rec.ID),
			zap.String("object", objectName),
			zap.Int("size", len(f.Data)))
		created = append(created, rec)
	}

	if len(created) > 0 {
		// Result shape is unknown to held page views; force refetch.
		m.lists.Invalidate()
	}
	return created, nil
}

// Delete removes the record's blob and row. The held page view drops the row
// optimistically first; durable failure rolls it back and surfaces the error.
// Both removals are attempted regardless of the other's outcome, and a
// partial failure is reported, never swallowed.
func (m *Manager) Delete(ctx context.Context, page int, recordID string) error {
	rec, err := m.records.Get(ctx, recordID)
	if err != nil {
		return err
	}

	m.lists.MutationIssued(page, recordID)

	blobErr := m.blobs.Remove(ctx, rec.BlobRef)
	recErr := m.records.Delete(ctx, recordID)

	if blobErr != nil || recErr != nil {
		m.lists.MutationFailed(page)
		metrics.DeletesTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("delete record %s: %w", recordID, errors.Join(blobErr, recErr))
	}

	m.lists.MutationSucceeded(page)
	m.urls.Invalidate(rec.BlobRef)
	metrics.DeletesTotal.WithLabelValues("succeeded").Inc()
	m.log.Info("image deleted",
		zap.String("record_id", recordID),
		zap.String("object", rec.BlobRef))
	return nil
}

// List returns the cached page view.
func (m *Manager) List(ctx context.Context, page int) (listcache.Window, error) {
	return m.lists.Get(ctx, page)
}

// DisplayURLs resolves display URLs for every record in the window, keyed by
// blob reference. Names that fail to sign fall back to the backend's public
// URL when it has one; otherwise they are absent and the caller shows a
// placeholder.
func (m *Manager) DisplayURLs(ctx context.Context, w listcache.Window) map[string]string {
	names := make([]string, len(w.Records))
	for i, rec := range w.Records {
		names[i] = rec.BlobRef
	}
	return m.ResolveURLs(ctx, names)
}

// ResolveURLs resolves display URLs for the named blobs, with the same
// per-name fallback behavior as DisplayURLs.
func (m *Manager) ResolveURLs(ctx context.Context, names []string) map[string]string {
	urls := m.urls.ResolveAll(ctx, names)
	for _, name := range names {
		if _, ok := urls[name]; ok {
			continue
		}
		if public := m.blobs.PublicURL(name); public != "" {
			urls[name] = public
		}
	}
	return urls
}

// InvalidateLists drops every held page view. Wired as the job runner's
// success hook.
func (m *Manager) InvalidateLists() {
	m.lists.Invalidate()
}
