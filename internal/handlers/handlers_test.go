package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/jobs"
	"github.com/imagevault/pipeline/internal/listcache"
	"github.com/imagevault/pipeline/internal/manager"
	"github.com/imagevault/pipeline/internal/metadata"
	"github.com/imagevault/pipeline/internal/store"
	"github.com/imagevault/pipeline/internal/urlcache"
	"github.com/imagevault/pipeline/pkg/pipeline"
)

// stubBlob is a map-backed blob store with deterministic signed URLs.
type stubBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newStubBlob() *stubBlob {
	return &stubBlob{objects: make(map[string][]byte)}
}

func (b *stubBlob) Put(_ context.Context, name string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = data
	return nil
}

func (b *stubBlob) Get(_ context.Context, name string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[name]
	if !ok {
		return nil, fmt.Errorf("get %s: not found", name)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *stubBlob) Remove(_ context.Context, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, name)
	return nil
}

func (b *stubBlob) SignURL(_ context.Context, name string, _ time.Duration) (string, error) {
	return "https://blobs.test/" + name + "?sig=abc", nil
}

func (b *stubBlob) PublicURL(name string) string {
	return "https://blobs.test/" + name
}

// slowJob blocks until released so conflict behavior can be observed.
type slowJob struct {
	kind    string
	entered chan struct{}
	release chan struct{}
}

func (j *slowJob) Kind() string { return j.kind }

func (j *slowJob) Run(ctx context.Context, _ store.Record) (metadata.Patch, error) {
	close(j.entered)
	select {
	case <-j.release:
		return metadata.Patch{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore, *jobs.Runner) {
	t.Helper()
	log := zap.NewNop()

	records := store.NewMemoryStore()
	blobs := newStubBlob()
	lists := listcache.New(listcache.NewPaginator(records), 20, 5*time.Minute, log)
	urls := urlcache.New(blobs, time.Hour, log)
	mgr := manager.New(records, blobs, lists, urls, log)

	runner := jobs.NewRunner(records, time.Minute, log)

	h := New(mgr, runner, log)
	mux := http.NewServeMux()
	h.Routes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, records, runner
}

func multipartBody(t *testing.T, owner string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("owner", owner))
	for name, data := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestUploadAndList(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "alice", map[string][]byte{
		"cat.png": []byte("png-bytes"),
	})
	resp, err := http.Post(srv.URL+"/v1/images", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.Len(t, created.Records, 1)
	assert.Equal(t, "alice", created.Records[0].Owner)
	assert.Contains(t, created.Records[0].BlobRef, "images/")

	listResp, err := http.Get(srv.URL + "/v1/images?page=1")
	require.NoError(t, err)
	defer listResp.Body.Close()
	require.Equal(t, http.StatusOK, listResp.StatusCode)

	var listing listResponse
	require.NoError(t, json.NewDecoder(listResp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.TotalCount)
	assert.Equal(t, 1, listing.TotalPages)
	require.Len(t, listing.Records, 1)
	assert.Contains(t, listing.URLs[listing.Records[0].BlobRef], "sig=abc")

	var bag map[string]any
	require.NoError(t, json.Unmarshal(listing.Records[0].Metadata, &bag))
	assert.Equal(t, "cat.png", bag[pipeline.FieldOriginalName])
}

func TestUploadRequiresFiles(t *testing.T) {
	srv, _, _ := newTestServer(t)

	body, contentType := multipartBody(t, "alice", nil)
	resp, err := http.Post(srv.URL+"/v1/images", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListClampsPage(t *testing.T) {
	srv, records, _ := newTestServer(t)

	_, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/v1/images?page=99")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var listing listResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Page)
}

func TestListOutOfRangeOnEmptyLibrary(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/images?page=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteImage(t *testing.T) {
	srv, records, _ := newTestServer(t)

	rec, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/images/"+rec.ID+"?page=1", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	_, err = records.Get(context.Background(), rec.ID)
	require.Error(t, err)
}

func TestDeleteMissingImage(t *testing.T) {
	srv, _, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/images/nope", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestProcessAcceptedAndStatus(t *testing.T) {
	srv, records, runner := newTestServer(t)

	job := &slowJob{kind: pipeline.JobOCR, entered: make(chan struct{}), release: make(chan struct{})}
	runner.Register(job)

	rec, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	reqBody, err := json.Marshal(pipeline.ProcessRequest{RecordID: rec.ID, Job: pipeline.JobOCR})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/process", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted pipeline.ProcessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
	require.NotEmpty(t, accepted.RunID)

	<-job.entered

	statusResp, err := http.Get(srv.URL + "/v1/runs/" + accepted.RunID)
	require.NoError(t, err)
	defer statusResp.Body.Close()
	require.Equal(t, http.StatusOK, statusResp.StatusCode)

	var status pipeline.RunStatus
	require.NoError(t, json.NewDecoder(statusResp.Body).Decode(&status))
	assert.Equal(t, rec.ID, status.RecordID)
	assert.Equal(t, pipeline.RunRunning, status.State)

	close(job.release)
}

func TestProcessConflictWhileRunning(t *testing.T) {
	srv, records, runner := newTestServer(t)

	job := &slowJob{kind: pipeline.JobOCR, entered: make(chan struct{}), release: make(chan struct{})}
	runner.Register(job)

	rec, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	reqBody, err := json.Marshal(pipeline.ProcessRequest{RecordID: rec.ID, Job: pipeline.JobOCR})
	require.NoError(t, err)

	first, err := http.Post(srv.URL+"/v1/process", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	first.Body.Close()
	require.Equal(t, http.StatusAccepted, first.StatusCode)

	<-job.entered

	second, err := http.Post(srv.URL+"/v1/process", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusConflict, second.StatusCode)

	close(job.release)
}

func TestProcessUnknownJob(t *testing.T) {
	srv, records, _ := newTestServer(t)

	rec, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	reqBody, err := json.Marshal(pipeline.ProcessRequest{RecordID: rec.ID, Job: "sharpen"})
	require.NoError(t, err)
	resp, err := http.Post(srv.URL+"/v1/process", "application/json", bytes.NewReader(reqBody))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestProcessValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/v1/process", "application/json", bytes.NewReader([]byte(`{"job":"ocr"}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResolveURLsBatch(t *testing.T) {
	srv, records, _ := newTestServer(t)

	_, err := records.Insert(context.Background(), "alice", "images/a.png", nil)
	require.NoError(t, err)

	body := []byte(`{"names":["images/a.png","images/b.png"]}`)
	resp, err := http.Post(srv.URL+"/v1/urls", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got urlsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Contains(t, got.URLs["images/a.png"], "sig=abc")
	assert.Contains(t, got.URLs["images/b.png"], "sig=abc")
}

func TestRunStatusNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/runs/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
