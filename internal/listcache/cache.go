package listcache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/imagevault/pipeline/internal/store"
)

// EntryState is the lifecycle of one cached page.
type EntryState int

const (
	// Idle means no entry is held for the page.
	Idle EntryState = iota
	// Fetching means an authoritative fetch is in flight.
	Fetching
	// Ready means the page is held and considered fresh for the freshness
	// window.
	Ready
	// Patched means an optimistic mutation is applied on top of a Ready
	// page, with the pre-patch snapshot stored for rollback.
	Patched
)

// DefaultFreshFor is how long a Ready page is served without refetching.
// Mutations invalidate explicitly, so the staleness window trades real-time
// accuracy for fewer redundant reads.
const DefaultFreshFor = 5 * time.Minute

type entry struct {
	state     EntryState
	window    Window
	fetchedAt time.Time
	snapshot  *Window
	done      chan struct{} // closed when a Fetching entry resolves
}

// Cache is the per-page list cache with optimistic mutation support.
type Cache struct {
	mu        sync.Mutex
	paginator *Paginator
	pageSize  int
	freshFor  time.Duration
	entries   map[int]*entry
	// gen is bumped on every invalidation. A fetch that started under an
	// older generation read the store before the mutation, so its result
	// must not be cached as fresh.
	gen uint64
	now func() time.Time
	log *zap.Logger
}

// New creates a cache over the paginator.
func New(paginator *Paginator, pageSize int, freshFor time.Duration, log *zap.Logger) *Cache {
	if freshFor <= 0 {
		freshFor = DefaultFreshFor
	}
	return &Cache{
		paginator: paginator,
		pageSize:  pageSize,
		freshFor:  freshFor,
		entries:   make(map[int]*entry),
		now:       time.Now,
		log:       log,
	}
}

// SetClock overrides the cache's clock. Test hook.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// State returns the lifecycle state held for a page.
func (c *Cache) State(page int) EntryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[page]
	if !ok {
		return Idle
	}
	return e.state
}

// Get returns the page view, fetching from the store when the page is
// missing or stale. A Patched page is served as patched; reconciliation
// happens through the mutation events.
func (c *Cache) Get(ctx context.Context, page int) (Window, error) {
	if page < 1 {
		page = 1
	}
	for {
		c.mu.Lock()
		e, ok := c.entries[page]

		if ok && e.state == Fetching {
			done := e.done
			c.mu.Unlock()
			select {
			case <-done:
			case <-ctx.Done():
				return Window{}, ctx.Err()
			}
			continue
		}

		if ok && e.state == Patched {
			w := copyWindow(e.window)
			c.mu.Unlock()
			return w, nil
		}

		if ok && e.state == Ready && c.now().Sub(e.fetchedAt) < c.freshFor {
			w := copyWindow(e.window)
			c.mu.Unlock()
			return w, nil
		}

		// Idle or stale: become the fetcher.
		fetching := &entry{state: Fetching, done: make(chan struct{})}
		c.entries[page] = fetching
		fetchGen := c.gen
		c.mu.Unlock()

		w, err := c.paginator.Page(ctx, page, c.pageSize)

		c.mu.Lock()
		close(fetching.done)
		if err != nil {
			delete(c.entries, page)
			c.mu.Unlock()
			return Window{}, err
		}
		if fetchGen != c.gen {
			// An invalidation raced this fetch: the rows may predate the
			// mutation. Serve them to this caller, but force the next read
			// back to the store.
			delete(c.entries, page)
			c.mu.Unlock()
			return copyWindow(w), nil
		}
		c.entries[page] = &entry{state: Ready, window: w, fetchedAt: c.now()}
		c.mu.Unlock()
		return copyWindow(w), nil
	}
}

// MutationIssued applies an optimistic delete of the record to the held page
// view, snapshotting the pre-patch view first. A page that is not Ready is
// left alone; the eventual invalidation covers it.
func (c *Cache) MutationIssued(page int, recordID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[page]
	if !ok || (e.state != Ready && e.state != Patched) {
		return
	}
	if e.snapshot == nil {
		snap := copyWindow(e.window)
		e.snapshot = &snap
	}

	kept := make([]store.Record, 0, len(e.window.Records))
	for _, rec := range e.window.Records {
		if rec.ID != recordID {
			kept = append(kept, rec)
		}
	}
	e.window.Records = kept
	e.state = Patched
}

// MutationSucceeded reconciles after a durable mutation: the optimistic view
// is dropped and every page is invalidated, forcing an authoritative refetch
// on next read.
func (c *Cache) MutationSucceeded(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

// MutationFailed rolls the page back to the pre-patch snapshot verbatim.
func (c *Cache) MutationFailed(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[page]
	if !ok || e.state != Patched || e.snapshot == nil {
		return
	}
	e.window = *e.snapshot
	e.snapshot = nil
	e.state = Ready
	c.log.Warn("optimistic mutation rolled back", zap.Int("page", page))
}

// Invalidate drops every held page. Called on upload or enrichment success,
// where the result shape is unknown client-side.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidateLocked()
}

func (c *Cache) invalidateLocked() {
	c.gen++
	for page, e := range c.entries {
		// Leave in-flight fetches so their waiters keep a done channel; the
		// generation bump keeps their result from being cached as fresh.
		if e.state == Fetching {
			continue
		}
		delete(c.entries, page)
	}
}

func copyWindow(w Window) Window {
	out := w
	out.Records = make([]store.Record, len(w.Records))
	copy(out.Records, w.Records)
	return out
}
