package crosssource

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/majordome-ai/majordome/pkg/models"
)

// resultCache is a small TTL cache over merged search responses. Entries
// expire strictly by TTL; there is no manual invalidation. When full, the
// oldest entry is evicted.
type resultCache struct {
	ttl time.Duration
	max int

	mu      sync.Mutex
	entries map[string]cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	response models.SearchResponse
	storedAt time.Time
}

func newResultCache(ttl time.Duration, max int) *resultCache {
	return &resultCache{
		ttl:     ttl,
		max:     max,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

// cacheKey normalizes the query and fixes the enabled-source set so the same
// logical search hits the same entry regardless of argument order or casing.
func cacheKey(query string, sources []models.Source) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	names := make([]string, len(sources))
	for i, s := range sources {
		names[i] = string(s)
	}
	sort.Strings(names)
	return normalized + "|" + strings.Join(names, ",")
}

func (c *resultCache) get(key string) (models.SearchResponse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return models.SearchResponse{}, false
	}
	if c.now().Sub(entry.storedAt) >= c.ttl {
		delete(c.entries, key)
		return models.SearchResponse{}, false
	}
	return entry.response, true
}

func (c *resultCache) put(key string, response models.SearchResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) >= c.max {
		var oldestKey string
		var oldestAt time.Time
		for k, e := range c.entries {
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.storedAt
			}
		}
		delete(c.entries, oldestKey)
	}
	c.entries[key] = cacheEntry{response: response, storedAt: now}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
