package reviewer

import (
	"sync"
	"time"
)

// memoryCache is a bounded FIFO cache used when no persistent cache is
// available or it fails.
type memoryCache struct {
	mu      sync.Mutex
	max     int
	order   []string
	entries map[string]memEntry
	now     func() time.Time
}

type memEntry struct {
	value   string
	expires time.Time
}

func newMemoryCache(max int) *memoryCache {
	return &memoryCache{
		max:     max,
		entries: make(map[string]memEntry),
		now:     time.Now,
	}
}

func (c *memoryCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		return "", false
	}
	return e.value, true
}

func (c *memoryCache) set(key, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		for len(c.order) >= c.max {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = memEntry{value: value, expires: c.now().Add(ttl)}
}

func (c *memoryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
