package manager_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/listcache"
	"github.com/imagevault/pipeline/internal/manager"
	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/internal/urlcache"
)

// memBlob is an in-memory blob store whose signed URLs are served over an
// httptest server, so the fetch path is exercised end to end.
type memBlob struct {
	mu         sync.Mutex
	objects    map[string][]byte
	srv        *httptest.Server
	failPut    bool
	failRemove bool
	failSign   bool
	noPublic   bool
}

func newMemBlob(t *testing.T) *memBlob {
	b := &memBlob{objects: make(map[string][]byte)}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		data, ok := b.objects[strings.TrimPrefix(r.URL.Path, "/")]
		b.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *memBlob) Put(ctx context.Context, objectName string, r io.Reader, size int64, contentType string) error {
	if b.failPut {
		return fmt.Errorf("%w: blob backend down", ipipeline.ErrUnavailable)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[objectName] = data
	b.mu.Unlock()
	return nil
}

func (b *memBlob) Get(ctx context.Context, objectName string) (io.ReadCloser, error) {
	b.mu.Lock()
	data, ok := b.objects[objectName]
	b.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectName, ipipeline.ErrNotFound)
	}
	return io.NopCloser(strings.NewReader(string(data))), nil
}

func (b *memBlob) Remove(ctx context.Context, objectName string) error {
	if b.failRemove {
		return fmt.Errorf("%w: blob backend down", ipipeline.ErrUnavailable)
	}
	b.mu.Lock()
	delete(b.objects, objectName)
	b.mu.Unlock()
	return nil
}

func (b *memBlob) SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	if b.failSign {
		return "", fmt.Errorf("%w: signer down", ipipeline.ErrUnavailable)
	}
	return fmt.Sprintf("%s/%s", b.srv.URL, objectName), nil
}

func (b *memBlob) PublicURL(objectName string) string {
	if b.noPublic {
		return ""
	}
	return fmt.Sprintf("%s/public/%s", b.srv.URL, objectName)
}

func newManager(t *testing.T, blobs *memBlob) (*manager.Manager, *store.MemoryStore, *listcache.Cache) {
	t.Helper()
	recs := store.NewMemoryStore()
	lists := listcache.New(listcache.NewPaginator(recs), 10, listcache.DefaultFreshFor, zap.NewNop())
	urls := urlcache.New(blobs, time.Hour, zap.NewNop())
	return manager.New(recs, blobs, lists, urls, zap.NewNop()), recs, lists
}

func TestUploadCreatesRecords(t *testing.T) {
	blobs := newMemBlob(t)
	m, recs, _ := newManager(t, blobs)
	ctx := context.Background()

	created, err := m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("aaa")},
		{Name: "b.png", ContentType: "image/png", Data: []byte("bbbb")},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)

	rec, err := recs.Get(ctx, created[0].ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", rec.Owner)
	require.True(t, strings.HasPrefix(rec.BlobRef, "images/"))
	require.True(t, strings.HasSuffix(rec.BlobRef, ".jpg"))
	require.Contains(t, string(rec.Metadata), `"originalName":"a.jpg"`)

	// The blob is readable under the record's reference.
	r, err := blobs.Get(ctx, rec.BlobRef)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.Equal(t, "aaa", string(data))
}

func TestUploadInvalidatesListView(t *testing.T) {
	blobs := newMemBlob(t)
	m, _, _ := newManager(t, blobs)
	ctx := context.Background()

	w, err := m.List(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, w.Records)

	_, err = m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("aaa")},
	})
	require.NoError(t, err)

	// Invalidation makes the new row visible without waiting out freshness.
	w, err = m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, w.Records, 1)
}

func TestUploadStopsAtFirstFailure(t *testing.T) {
	blobs := newMemBlob(t)
	m, _, _ := newManager(t, blobs)
	ctx := context.Background()

	created, err := m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "ok.jpg", ContentType: "image/jpeg", Data: []byte("x")},
	})
	require.NoError(t, err)
	require.Len(t, created, 1)

	blobs.failPut = true
	created, err = m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "fails.jpg", ContentType: "image/jpeg", Data: []byte("y")},
		{Name: "never-reached.jpg", ContentType: "image/jpeg", Data: []byte("z")},
	})
	require.Error(t, err)
	require.Empty(t, created)
}

func TestDeleteOptimisticThenReconciled(t *testing.T) {
	blobs := newMemBlob(t)
	m, recs, _ := newManager(t, blobs)
	ctx := context.Background()

	created, err := m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("a")},
		{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("b")},
		{Name: "c.jpg", ContentType: "image/jpeg", Data: []byte("c")},
	})
	require.NoError(t, err)

	w, err := m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, w.Records, 3)

	target := created[1]
	require.NoError(t, m.Delete(ctx, 1, target.ID))

	w, err = m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, w.Records, 2)

	_, err = recs.Get(ctx, target.ID)
	require.ErrorIs(t, err, ipipeline.ErrNotFound)
	_, err = blobs.Get(ctx, target.BlobRef)
	require.ErrorIs(t, err, ipipeline.ErrNotFound)
}

func TestDeleteFailureRollsBack(t *testing.T) {
	blobs := newMemBlob(t)
	m, _, lists := newManager(t, blobs)
	ctx := context.Background()

	created, err := m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("a")},
		{Name: "b.jpg", ContentType: "image/jpeg", Data: []byte("b")},
		{Name: "c.jpg", ContentType: "image/jpeg", Data: []byte("c")},
	})
	require.NoError(t, err)

	before, err := m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, before.Records, 3)

	blobs.failRemove = true
	err = m.Delete(ctx, 1, created[1].ID)
	require.Error(t, err)
	require.ErrorIs(t, err, ipipeline.ErrUnavailable)

	// The snapshot was restored verbatim.
	require.Equal(t, listcache.Ready, lists.State(1))
	after, err := m.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, after.Records, 3)
}

func TestDeleteMissingRecord(t *testing.T) {
	blobs := newMemBlob(t)
	m, _, _ := newManager(t, blobs)
	err := m.Delete(context.Background(), 1, "missing")
	require.ErrorIs(t, err, ipipeline.ErrNotFound)
}

func TestDisplayURLsFallBackToPublic(t *testing.T) {
	blobs := newMemBlob(t)
	m, _, _ := newManager(t, blobs)
	ctx := context.Background()

	_, err := m.Upload(ctx, "user-1", []manager.FileUpload{
		{Name: "a.jpg", ContentType: "image/jpeg", Data: []byte("a")},
	})
	require.NoError(t, err)

	w, err := m.List(ctx, 1)
	require.NoError(t, err)

	blobs.failSign = true
	urls := m.DisplayURLs(ctx, w)
	require.Len(t, urls, 1)
	require.Contains(t, urls[w.Records[0].BlobRef], "/public/")

	// Without a public URL the entry is absent: caller shows a placeholder.
	blobs.noPublic = true
	m2, _, _ := newManager(t, blobs)
	urls = m2.DisplayURLs(ctx, w)
	require.Empty(t, urls)
}
