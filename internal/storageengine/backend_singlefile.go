package storageengine

import (
	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// SingleFileBackend adapts walstore.SingleFileStore to the Backend
// interface.
type SingleFileBackend struct {
	store *walstore.SingleFileStore
}

// NewSingleFileBackend wraps an already-open single-file WAL store.
func NewSingleFileBackend(store *walstore.SingleFileStore) *SingleFileBackend {
	return &SingleFileBackend{store: store}
}

func (b *SingleFileBackend) AppendBatch(records []types.RedoRecord) ([]Location, error) {
	size, err := b.store.Size()
	if err != nil {
		return nil, err
	}

	locations := make([]Location, len(records))
	offset := size
	for i, r := range records {
		locations[i] = Location{Offset: offset}
		offset += int64(walcodec.HeaderSize) + int64(len(r.Data))
	}

	if err := b.store.AppendBatch(records); err != nil {
		return nil, err
	}
	return locations, nil
}

func (b *SingleFileBackend) Sync() error { return b.store.Sync() }

func (b *SingleFileBackend) Close() error { return b.store.Close() }

func (b *SingleFileBackend) NewChainReader() ChainReader {
	return &singleFileChainReader{store: b.store}
}

type singleFileChainReader struct {
	store *walstore.SingleFileStore
}

func (r *singleFileChainReader) ReadAt(loc Location) (types.RedoRecord, error) {
	entry, ok, err := r.store.ReadAt(loc.Offset)
	if err != nil {
		return types.RedoRecord{}, err
	}
	if !ok {
		return types.RedoRecord{}, &types.CorruptionError{Message: "record location points past end of wal"}
	}
	return walcodec.ToRecord(entry.Header, entry.Data), nil
}

func (r *singleFileChainReader) Close() error { return nil }
