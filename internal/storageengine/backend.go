// Package storageengine implements the storage tier: it owns the WAL
// store and the in-memory indexes, assigns LSNs, advances the
// durability watermarks, materializes pages by chain-walk + redo replay,
// and fronts reads with an LSN-keyed page cache. This is the component
// that implements the public StorageApi contract.
package storageengine

import (
	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// Location is a physical record location, opaque to the engine core.
// SegmentId is 0 for the single-file variant (which has exactly one
// implicit segment).
type Location struct {
	SegmentId uint32
	Offset    int64
}

// Backend abstracts over the single-file and segmented WAL store
// variants so the storage engine's append/read/recovery logic is
// written once.
type Backend interface {
	AppendBatch(records []types.RedoRecord) ([]Location, error)
	Sync() error
	NewChainReader() ChainReader
	Close() error
}

// ChainReader reads individual records by Location while walking a
// page's prev_lsn chain. It opens at most one underlying segment/file
// reader at a time and reuses it across consecutive reads that land in
// the same segment, per spec: "entering a cold segment triggers the
// configured cold-tier latency exactly once per visit."
type ChainReader interface {
	ReadAt(loc Location) (types.RedoRecord, error)
	Close() error
}
