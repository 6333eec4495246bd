package storageengine

import (
	"context"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// SegmentedBackend adapts walstore.SegmentStore to the Backend
// interface.
type SegmentedBackend struct {
	store *walstore.SegmentStore
}

// NewSegmentedBackend wraps an already-open segmented WAL store.
func NewSegmentedBackend(store *walstore.SegmentStore) *SegmentedBackend {
	return &SegmentedBackend{store: store}
}

func (b *SegmentedBackend) AppendBatch(records []types.RedoRecord) ([]Location, error) {
	locs, err := b.store.AppendBatch(records)
	if err != nil {
		return nil, err
	}

	locations := make([]Location, len(locs))
	for i, l := range locs {
		locations[i] = Location{SegmentId: l.SegmentId, Offset: l.FileOffset}
	}

	// Patch the LSN range of any segment(s) this batch sealed into by
	// rotation; UpdateSealedLsnRange is a no-op for ids not present in
	// the manifest (i.e. the still-active segment).
	if len(records) > 0 {
		bySegment := make(map[uint32][2]types.Lsn)
		for i, l := range locs {
			r, ok := bySegment[l.SegmentId]
			if !ok {
				bySegment[l.SegmentId] = [2]types.Lsn{records[i].Lsn, records[i].Lsn}
				continue
			}
			if records[i].Lsn < r[0] {
				r[0] = records[i].Lsn
			}
			if records[i].Lsn > r[1] {
				r[1] = records[i].Lsn
			}
			bySegment[l.SegmentId] = r
		}
		for segId, r := range bySegment {
			_ = b.store.UpdateSealedLsnRange(segId, r[0], r[1])
		}
	}

	return locations, nil
}

func (b *SegmentedBackend) Sync() error { return b.store.Sync() }

func (b *SegmentedBackend) Close() error { return b.store.Close() }

// CoolSegments exposes the segmented store's cooling operation for hosts
// that want to run it on a schedule; it is not part of the core Backend
// contract since the single-file variant has no notion of tiers.
func (b *SegmentedBackend) CoolSegments(ctx context.Context, keepHot int) ([]uint32, error) {
	return b.store.CoolSegments(ctx, keepHot)
}

func (b *SegmentedBackend) NewChainReader() ChainReader {
	return &segmentedChainReader{store: b.store}
}

type segmentedChainReader struct {
	store        *walstore.SegmentStore
	openSegId    uint32
	openSegIdSet bool
	reader       *walstore.SingleFileStore
}

func (r *segmentedChainReader) ReadAt(loc Location) (types.RedoRecord, error) {
	if !r.openSegIdSet || r.openSegId != loc.SegmentId {
		if r.reader != nil {
			_ = r.reader.Close()
		}
		reader, _, err := r.store.OpenSegmentReader(loc.SegmentId)
		if err != nil {
			return types.RedoRecord{}, err
		}
		r.reader = reader
		r.openSegId = loc.SegmentId
		r.openSegIdSet = true
	}

	entry, ok, err := r.reader.ReadAt(loc.Offset)
	if err != nil {
		return types.RedoRecord{}, err
	}
	if !ok {
		return types.RedoRecord{}, &types.CorruptionError{Message: "record location points past end of segment"}
	}
	return walcodec.ToRecord(entry.Header, entry.Data), nil
}

func (r *segmentedChainReader) Close() error {
	if r.reader != nil {
		return r.reader.Close()
	}
	return nil
}
