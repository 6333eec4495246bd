package storageengine

import (
	"context"
	"log"
	"sync"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// Engine is the storage tier: it owns the WAL backend and every piece of
// in-memory state derived from it, all behind one mutual-exclusion
// guard, per spec "one big guard, deliberately." At most one AppendRedo
// or GetPage call completes at a time.
type Engine struct {
	mu sync.Mutex

	backend    Backend
	pageIndex  map[types.PageId]types.Lsn
	lsnOffsets map[types.Lsn]Location
	nextLsn    types.Lsn
	durability types.DurabilityState
	cache      *pageCache
}

// PageCacheCapacity is the number of (page_id, read_point) entries the
// storage-side page cache holds; every Engine uses this fixed value.
const PageCacheCapacity = 1024

// newEngine builds an Engine from recovered state and an open backend.
func newEngine(backend Backend, pageIndex map[types.PageId]types.Lsn, lsnOffsets map[types.Lsn]Location, durability types.DurabilityState) *Engine {
	nextLsn := durability.Vdl + 1
	return &Engine{
		backend:    backend,
		pageIndex:  pageIndex,
		lsnOffsets: lsnOffsets,
		nextLsn:    nextLsn,
		durability: durability,
		cache:      newPageCache(PageCacheCapacity),
	}
}

// AppendRedo assigns LSNs and prev_lsn links to records (which together
// constitute one or more MTRs), durably appends them, and advances the
// watermarks. Returns the new VDL.
func (e *Engine) AppendRedo(ctx context.Context, records []types.RedoRecord) (types.Lsn, error) {
	for _, r := range records {
		if int(r.Offset)+len(r.Data) > types.PageSize {
			return 0, &types.PageOverflowError{Offset: r.Offset, Len: len(r.Data)}
		}
	}
	if len(records) == 0 {
		e.mu.Lock()
		vdl := e.durability.Vdl
		e.mu.Unlock()
		return vdl, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Pre-compute prev_lsn from the pre-batch page_index, but track a
	// local pending map so records within this batch that touch the same
	// page correctly chain to each other (the second record's prev_lsn
	// is the first record's just-assigned lsn). See DESIGN.md Decision 1:
	// original_source's reference engine does not do this and is
	// untested on this path; this spec requires it explicitly.
	pending := make(map[types.PageId]types.Lsn, len(records))
	assigned := make([]types.RedoRecord, len(records))
	highestCpl := types.Lsn(0)
	hasCpl := false

	for i, r := range records {
		lsn := e.nextLsn
		e.nextLsn++

		prev, ok := pending[r.PageId]
		if !ok {
			prev = e.pageIndex[r.PageId]
		}

		r.Lsn = lsn
		r.PrevLsn = prev
		assigned[i] = r
		pending[r.PageId] = lsn

		if r.IsMtrEnd {
			highestCpl = lsn
			hasCpl = true
		}
	}

	locations, err := e.backend.AppendBatch(assigned)
	if err != nil {
		return 0, err
	}
	if err := e.backend.Sync(); err != nil {
		return 0, err
	}

	for i, r := range assigned {
		e.lsnOffsets[r.Lsn] = locations[i]
	}
	for pageId, lsn := range pending {
		e.pageIndex[pageId] = lsn
	}

	e.durability.Vcl = assigned[len(assigned)-1].Lsn
	if hasCpl && highestCpl > e.durability.Vdl {
		e.durability.Vdl = highestCpl
	}

	return e.durability.Vdl, nil
}

// GetPage materializes page_id as of read_point by chain-walking and
// replaying its redo records.
func (e *Engine) GetPage(ctx context.Context, pageId types.PageId, readPoint types.Lsn) (types.Page, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if readPoint > e.durability.Vdl {
		return types.Page{}, &types.LsnBeyondDurableError{Requested: readPoint, Durable: e.durability.Vdl}
	}

	if page, ok := e.cache.get(pageId, readPoint); ok {
		return page, nil
	}

	latestLsn, ok := e.pageIndex[pageId]
	if !ok {
		return types.Page{}, &types.PageNotFoundError{PageId: pageId, Lsn: readPoint}
	}

	records, err := e.collectChain(pageId, latestLsn, readPoint)
	if err != nil {
		return types.Page{}, err
	}
	if len(records) == 0 {
		// Every record for this page has lsn > readPoint: per spec §9's
		// open question, this is PageNotFound, not a zeroed page.
		return types.Page{}, &types.PageNotFoundError{PageId: pageId, Lsn: readPoint}
	}

	page, err := materialize(pageId, records)
	if err != nil {
		return types.Page{}, err
	}

	e.cache.insert(pageId, readPoint, page)
	return page, nil
}

// collectChain walks pageId's prev_lsn chain backwards from startLsn,
// collecting records with lsn <= readPoint (skipping, but still
// following the link of, records with lsn > readPoint), and returns them
// oldest-first.
func (e *Engine) collectChain(pageId types.PageId, startLsn, readPoint types.Lsn) ([]types.RedoRecord, error) {
	reader := e.backend.NewChainReader()
	defer reader.Close()

	var collected []types.RedoRecord
	lsn := startLsn
	expectedNextLsn := startLsn + 1 // strictly decreasing hop to hop
	for lsn != 0 {
		loc, ok := e.lsnOffsets[lsn]
		if !ok {
			return nil, &types.CorruptionError{Message: "lsn missing from location index during chain walk"}
		}

		record, err := reader.ReadAt(loc)
		if err != nil {
			return nil, err
		}

		// Defensive validation per spec §9's open question (decided:
		// implemented). A record whose page_id doesn't match or whose
		// lsn isn't strictly less than the previous hop indicates a
		// corrupted chain.
		if record.PageId != pageId {
			return nil, &types.CorruptionError{Message: "chain walk encountered record for a different page"}
		}
		if record.Lsn >= expectedNextLsn {
			return nil, &types.CorruptionError{Message: "chain walk lsn did not strictly decrease"}
		}
		expectedNextLsn = record.Lsn

		if record.Lsn <= readPoint {
			collected = append(collected, record)
		}
		lsn = record.PrevLsn
	}

	// Reverse to oldest-first.
	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

// GetDurabilityState returns a snapshot of the VCL/VDL watermarks.
func (e *Engine) GetDurabilityState(ctx context.Context) (types.DurabilityState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.durability, nil
}

// Close releases the underlying WAL backend's file handles.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend.Close()
}

// CoolColdSegments cools the segmented backend's sealed hot segments, if
// this engine was opened against a segmented WAL store. It is a no-op
// (logged) for the single-file variant, which has no tiers.
func (e *Engine) CoolColdSegments(ctx context.Context, keepHot int) ([]uint32, error) {
	e.mu.Lock()
	backend, ok := e.backend.(*SegmentedBackend)
	e.mu.Unlock()
	if !ok {
		log.Printf("storageengine: CoolColdSegments called on a non-segmented engine, ignoring")
		return nil, nil
	}
	return backend.CoolSegments(ctx, keepHot)
}
