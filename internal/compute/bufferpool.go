package compute

import (
	"sync"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// cachedPage is one entry in a BufferPool: a page as observed at a
// particular read point, plus an access counter used for eviction.
type cachedPage struct {
	page        types.Page
	readPoint   types.Lsn
	accessCount uint64
}

// BufferPool is the compute-side read cache. Unlike the storage tier's
// page cache (keyed by exact (page_id, read_point), MVCC-strict), a
// BufferPool entry is valid for ANY requested LSN at or below the LSN
// it was captured at -- a slightly stale read is acceptable here, since
// compute re-derives its read_point from storage on demand. Grounded on
// the teacher's internal/cache/memory.go guard-mutex-plus-map shape,
// generalized with an approximate-LFU eviction policy matching
// buffer_pool.rs's min-access-count rule.
type BufferPool struct {
	mu       sync.Mutex
	pages    map[types.PageId]*cachedPage
	capacity int
}

// NewBufferPool creates a buffer pool holding at most capacity pages.
func NewBufferPool(capacity int) *BufferPool {
	return &BufferPool{
		pages:    make(map[types.PageId]*cachedPage),
		capacity: capacity,
	}
}

// Get returns the cached page for pageId if present and its captured
// read_point is >= minLsn (i.e. it reflects at least as much history as
// the caller needs).
func (b *BufferPool) Get(pageId types.PageId, minLsn types.Lsn) (types.Page, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entry, ok := b.pages[pageId]
	if !ok || entry.readPoint < minLsn {
		return types.Page{}, false
	}
	entry.accessCount++
	return entry.page, true
}

// Insert adds or replaces pageId's cached entry. If at capacity and
// pageId isn't already present, the least-accessed entry is evicted.
func (b *BufferPool) Insert(pageId types.PageId, readPoint types.Lsn, page types.Page) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.pages[pageId]; !exists && b.capacity > 0 && len(b.pages) >= b.capacity {
		b.evictLeastAccessedLocked()
	}

	b.pages[pageId] = &cachedPage{page: page, readPoint: readPoint, accessCount: 1}
}

// Invalidate drops pageId's cached entry, if any.
func (b *BufferPool) Invalidate(pageId types.PageId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pages, pageId)
}

// Len returns the current number of cached pages.
func (b *BufferPool) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

func (b *BufferPool) evictLeastAccessedLocked() {
	var evictId types.PageId
	var minCount uint64
	first := true
	for id, entry := range b.pages {
		if first || entry.accessCount < minCount {
			evictId = id
			minCount = entry.accessCount
			first = false
		}
	}
	if !first {
		delete(b.pages, evictId)
	}
}
