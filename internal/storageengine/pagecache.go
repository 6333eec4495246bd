package storageengine

import (
	"sync"
	"time"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// pageCacheKey identifies a cache entry: a page materialized as of a
// specific read point. Different read points of the same page are
// independent entries -- the cache is trivially MVCC.
type pageCacheKey struct {
	pageId types.PageId
	lsn    types.Lsn
}

type pageCacheEntry struct {
	page       types.Page
	lastAccess time.Time
}

// pageCache is a capacity-bounded, approximately-LRU cache keyed by
// (page_id, read_point). Modeled on the teacher's internal/cache/memory.go:
// a mutex-guarded map with oldest-LastAccess eviction, generalized from a
// string key to a native Go struct key.
type pageCache struct {
	mu       sync.Mutex
	entries  map[pageCacheKey]pageCacheEntry
	capacity int
}

func newPageCache(capacity int) *pageCache {
	return &pageCache{entries: make(map[pageCacheKey]pageCacheEntry), capacity: capacity}
}

func (c *pageCache) get(pageId types.PageId, lsn types.Lsn) (types.Page, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pageCacheKey{pageId, lsn}
	entry, ok := c.entries[key]
	if !ok {
		return types.Page{}, false
	}
	entry.lastAccess = time.Now()
	c.entries[key] = entry
	return entry.page, true
}

func (c *pageCache) insert(pageId types.PageId, lsn types.Lsn, page types.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := pageCacheKey{pageId, lsn}
	if _, exists := c.entries[key]; !exists && c.capacity > 0 && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = pageCacheEntry{page: page, lastAccess: time.Now()}
}

func (c *pageCache) evictOldestLocked() {
	var oldestKey pageCacheKey
	var oldestTime time.Time
	first := true
	for k, v := range c.entries {
		if first || v.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastAccess
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}
