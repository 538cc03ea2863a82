package verify

import "sync"

// resultCache memoizes verification results keyed by a hash of the sidecar
// content. Safe for concurrent readers and writers; batch verification runs
// many goroutines over one cache.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]Result
}

func newResultCache() *resultCache {
	return &resultCache{entries: make(map[string]Result)}
}

func (c *resultCache) get(key string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *resultCache) put(key string, r Result) {
	c.mu.Lock()
	c.entries[key] = r
	c.mu.Unlock()
}

func (c *resultCache) clear() {
	c.mu.Lock()
	c.entries = make(map[string]Result)
	c.mu.Unlock()
}

func (c *resultCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
