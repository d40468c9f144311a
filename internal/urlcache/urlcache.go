// Package urlcache caches signed blob URLs until they expire.
package urlcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/metrics"
)

// Signer issues a time-limited read URL for an object. Satisfied by
// blob.Store.
type Signer interface {
	SignURL(ctx context.Context, objectName string, ttl time.Duration) (string, error)
}

type entry struct {
	url       string
	expiresAt time.Time
}

// Cache maps object names to signed URLs with a fixed TTL. A lookup at or
// past an entry's expiry is a miss, never a stale hit. Failed resolutions are
// not cached: the next access retries.
type Cache struct {
	mu      sync.Mutex
	signer  Signer
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
	log     *zap.Logger
}

// New creates a cache signing URLs with the given TTL.
func New(signer Signer, ttl time.Duration, log *zap.Logger) *Cache {
	return &Cache{
		signer:  signer,
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
		log:     log,
	}
}

// SetClock overrides the cache's clock. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Resolve returns the cached URL for the object, signing a fresh one on miss
// or expiry.
func (c *Cache) Resolve(ctx context.Context, objectName string) (string, error) {
	c.mu.Lock()
	if e, ok := c.entries[objectName]; ok && c.now().Before(e.expiresAt) {
		c.mu.Unlock()
		metrics.SignedURLLookups.WithLabelValues("hit").Inc()
		return e.url, nil
	}
	now := c.now()
	c.mu.Unlock()

	metrics.SignedURLLookups.WithLabelValues("miss").Inc()

	url, err := c.signer.SignURL(ctx, objectName, c.ttl)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[objectName] = entry{url: url, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return url, nil
}

// ResolveAll resolves each object name independently. Names that fail to
// resolve are absent from the result map; callers treat a missing entry as
// "show placeholder". A single failure never aborts the batch.
func (c *Cache) ResolveAll(ctx context.Context, objectNames []string) map[string]string {
	urls := make(map[string]string, len(objectNames))
	for _, name := range objectNames {
		url, err := c.Resolve(ctx, name)
		if err != nil {
			c.log.Warn("signed url resolution failed",
				zap.String("object", name),
				zap.Error(err))
			continue
		}
		urls[name] = url
	}
	return urls
}

// Invalidate drops the cached entry for an object, if any. Called when the
// object is deleted.
func (c *Cache) Invalidate(objectName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, objectName)
}
