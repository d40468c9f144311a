package urlcache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/urlcache"
)

type countingSigner struct {
	calls map[string]int
	fail  map[string]bool
}

func newCountingSigner() *countingSigner {
	return &countingSigner{calls: make(map[string]int), fail: make(map[string]bool)}
}

func (s *countingSigner) SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, error) {
	s.calls[objectName]++
	if s.fail[objectName] {
		return "", fmt.Errorf("signing %s: backend down", objectName)
	}
	return fmt.Sprintf("https://blobs.test/%s?v=%d", objectName, s.calls[objectName]), nil
}

func TestResolveCachesWithinTTL(t *testing.T) {
	signer := newCountingSigner()
	cache := urlcache.New(signer, time.Hour, zap.NewNop())

	base := time.Now()
	cache.SetClock(func() time.Time { return base })

	first, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)

	cache.SetClock(func() time.Time { return base.Add(30 * time.Minute) })
	second, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, signer.calls["a.jpg"])
}

func TestResolveReSignsAfterExpiry(t *testing.T) {
	signer := newCountingSigner()
	cache := urlcache.New(signer, time.Hour, zap.NewNop())

	base := time.Now()
	cache.SetClock(func() time.Time { return base })
	first, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)

	cache.SetClock(func() time.Time { return base.Add(time.Hour) })
	second, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)

	require.NotEqual(t, first, second)
	require.Equal(t, 2, signer.calls["a.jpg"])
}

func TestResolveNoNegativeCaching(t *testing.T) {
	signer := newCountingSigner()
	signer.fail["a.jpg"] = true
	cache := urlcache.New(signer, time.Hour, zap.NewNop())

	_, err := cache.Resolve(context.Background(), "a.jpg")
	require.Error(t, err)

	// The failure is retried on next access, not remembered.
	signer.fail["a.jpg"] = false
	url, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)
	require.NotEmpty(t, url)
	require.Equal(t, 2, signer.calls["a.jpg"])
}

func TestResolveAllDegradesPerName(t *testing.T) {
	signer := newCountingSigner()
	signer.fail["broken.jpg"] = true
	cache := urlcache.New(signer, time.Hour, zap.NewNop())

	urls := cache.ResolveAll(context.Background(), []string{"a.jpg", "broken.jpg", "b.jpg"})

	require.Len(t, urls, 2)
	require.Contains(t, urls, "a.jpg")
	require.Contains(t, urls, "b.jpg")
	require.NotContains(t, urls, "broken.jpg")
}

func TestInvalidateDropsEntry(t *testing.T) {
	signer := newCountingSigner()
	cache := urlcache.New(signer, time.Hour, zap.NewNop())

	_, err := cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)

	cache.Invalidate("a.jpg")

	_, err = cache.Resolve(context.Background(), "a.jpg")
	require.NoError(t, err)
	require.Equal(t, 2, signer.calls["a.jpg"])
}
