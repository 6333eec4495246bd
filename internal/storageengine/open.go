package storageengine

import (
	"time"

	"github.com/linux/projects/storage/mini-aurora/internal/recovery"
	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// OpenSingleFile opens (or creates) a single-file-backed storage engine
// at path, running recovery first.
func OpenSingleFile(path string) (*Engine, error) {
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		return nil, err
	}

	result, err := recovery.RecoverSingleFile(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pageIndex := result.PageIndex
	lsnOffsets := make(map[types.Lsn]Location, len(result.LsnOffsets))
	for lsn, offset := range result.LsnOffsets {
		lsnOffsets[lsn] = Location{Offset: offset}
	}

	backend := NewSingleFileBackend(store)
	return newEngine(backend, pageIndex, lsnOffsets, result.Durability), nil
}

// SegmentedConfig configures a segmented-WAL-backed storage engine.
type SegmentedConfig struct {
	BaseDir          string
	SegmentSizeBytes int64
	ColdLatency      time.Duration
	Mirror           walstore.ColdMirror // optional
}

// OpenSegmented opens (or creates) a segmented-WAL-backed storage
// engine, running recovery first.
func OpenSegmented(cfg SegmentedConfig) (*Engine, error) {
	store, err := walstore.OpenSegmented(walstore.SegmentConfig{
		BaseDir:         cfg.BaseDir,
		MaxSegmentBytes: cfg.SegmentSizeBytes,
		ColdLatency:     cfg.ColdLatency,
		Mirror:          cfg.Mirror,
	})
	if err != nil {
		return nil, err
	}

	result, err := recovery.RecoverSegmented(store)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pageIndex := result.PageIndex
	lsnOffsets := make(map[types.Lsn]Location, len(result.LsnOffsets))
	for lsn, loc := range result.LsnOffsets {
		lsnOffsets[lsn] = Location{SegmentId: loc.SegmentId, Offset: loc.FileOffset}
	}

	backend := NewSegmentedBackend(store)
	return newEngine(backend, pageIndex, lsnOffsets, result.Durability), nil
}
