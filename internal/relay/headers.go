package relay

import (
	"context"
	"sync"
	"sync/atomic"
)

// HeaderCache holds the stream's identification and comment pages so that a
// listener joining mid-broadcast can be primed before live data. It is
// written once per process: the first header page offered is stashed, the
// second commits both, and every later offer is ignored.
type HeaderCache struct {
	mu      sync.Mutex // serializes writers
	pending []byte
	ready   chan struct{}

	snapshot atomic.Pointer[[]byte]
}

// NewHeaderCache creates an empty HeaderCache.
func NewHeaderCache() *HeaderCache {
	return &HeaderCache{ready: make(chan struct{})}
}

// Offer hands a header page to the cache. It returns true when this call
// committed the cache.
func (c *HeaderCache) Offer(page []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snapshot.Load() != nil {
		return false
	}

	if c.pending == nil {
		c.pending = append([]byte(nil), page...)
		return false
	}

	joined := make([]byte, 0, len(c.pending)+len(page))
	joined = append(joined, c.pending...)
	joined = append(joined, page...)

	c.snapshot.Store(&joined)
	c.pending = nil
	close(c.ready)
	return true
}

// Snapshot returns the committed header bytes, or nil while the cache is
// still empty. Callers must not modify the returned slice.
func (c *HeaderCache) Snapshot() []byte {
	if p := c.snapshot.Load(); p != nil {
		return *p
	}
	return nil
}

// Filled reports whether the cache has been committed.
func (c *HeaderCache) Filled() bool {
	return c.snapshot.Load() != nil
}

// Ready returns a channel that is closed once the cache is committed.
func (c *HeaderCache) Ready() <-chan struct{} {
	return c.ready
}

// Wait blocks until the cache is committed or ctx is done.
func (c *HeaderCache) Wait(ctx context.Context) ([]byte, error) {
	select {
	case <-c.ready:
		return c.Snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
