package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	ipipeline "github.com/imagevault/pipeline/internal/pipeline"
	"github.com/imagevault/pipeline/internal/urlcache"
)

// BlobFetcher fetches blob bytes for jobs. The blob reference is resolved to
// a short-lived signed URL first, then fetched over HTTP.
type BlobFetcher struct {
	urls       *urlcache.Cache
	httpClient *http.Client
}

// NewBlobFetcher creates a fetcher over a signed-URL cache. The cache should
// use a short one-shot TTL; the URL is consumed immediately.
func NewBlobFetcher(urls *urlcache.Cache, timeout time.Duration) *BlobFetcher {
	return &BlobFetcher{
		urls:       urls,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch returns the raw bytes of the object.
func (f *BlobFetcher) Fetch(ctx context.Context, objectName string) ([]byte, error) {
	url, err := f.urls.Resolve(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve blob url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ipipeline.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("object %s: %w", objectName, ipipeline.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("blob fetch failed with status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read blob bytes: %w", err)
	}
	return data, nil
}
