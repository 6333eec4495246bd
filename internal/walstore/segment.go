package walstore

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
)

// LsnLocation is the segmented-variant analogue of a byte offset: which
// segment a record lives in, and where within that segment.
type LsnLocation struct {
	SegmentId  uint32
	FileOffset int64
}

// ColdMirror is an optional, strictly non-authoritative sink that cooled
// segments are copied to (e.g. object storage). The manifest and the
// local cold/ directory remain the source of truth for reads; the mirror
// is never consulted to satisfy a read.
type ColdMirror interface {
	Upload(ctx context.Context, segmentId uint32, path string) error
}

// ColdMirrorFetcher is an optional capability of a ColdMirror: a mirror
// that can also return a cooled segment's bytes, for restoring a cold/
// directory that has been lost. Checked via a type assertion since most
// mirror uses (including tests) only need Upload.
type ColdMirrorFetcher interface {
	Fetch(ctx context.Context, segmentId uint32) ([]byte, error)
}

// SegmentConfig configures a segmented WAL store.
type SegmentConfig struct {
	BaseDir         string
	MaxSegmentBytes int64
	ColdLatency     time.Duration
	Mirror          ColdMirror // optional
}

// SegmentStore manages multiple WAL segment files with hot/cold tiering,
// backed by a JSON manifest.
type SegmentStore struct {
	mu sync.Mutex

	hotDir, coldDir, baseDir string
	manifest                 Manifest

	activeWriter       *SingleFileStore
	activeSegmentId    uint32
	activeFirstLsnSet  bool
	activeFirstLsn     types.Lsn
	activeBytesWritten int64

	maxSegmentBytes int64
	coldLatency     time.Duration
	mirror          ColdMirror
}

// OpenSegmented opens or creates a segmented WAL under cfg.BaseDir.
func OpenSegmented(cfg SegmentConfig) (*SegmentStore, error) {
	hotDir := filepath.Join(cfg.BaseDir, "hot")
	coldDir := filepath.Join(cfg.BaseDir, "cold")
	if err := os.MkdirAll(hotDir, 0o755); err != nil {
		return nil, &types.IoError{Err: err}
	}
	if err := os.MkdirAll(coldDir, 0o755); err != nil {
		return nil, &types.IoError{Err: err}
	}

	manifest, err := loadManifest(cfg.BaseDir)
	if err != nil {
		return nil, err
	}

	if fetcher, ok := cfg.Mirror.(ColdMirrorFetcher); ok {
		if err := restoreMissingColdSegments(context.Background(), coldDir, manifest, fetcher); err != nil {
			return nil, err
		}
	}

	activeId := manifest.ActiveSegmentId
	activePath := filepath.Join(hotDir, segmentFilename(activeId))
	writer, err := OpenSingleFile(activePath)
	if err != nil {
		return nil, err
	}
	size, err := writer.Size()
	if err != nil {
		return nil, err
	}

	return &SegmentStore{
		hotDir:             hotDir,
		coldDir:            coldDir,
		baseDir:            cfg.BaseDir,
		manifest:           manifest,
		activeWriter:       writer,
		activeSegmentId:    activeId,
		activeBytesWritten: size,
		maxSegmentBytes:    cfg.MaxSegmentBytes,
		coldLatency:        cfg.ColdLatency,
		mirror:             cfg.Mirror,
	}, nil
}

// restoreMissingColdSegments repopulates coldDir with any segment the
// manifest marks as cold but whose file is absent locally -- the
// disaster-recovery case where cold/ has been lost but the mirror and
// the manifest survived. Runs once at open, before recovery scans any
// segment, so a missing cold file never masquerades as the end of the
// log.
func restoreMissingColdSegments(ctx context.Context, coldDir string, m Manifest, fetcher ColdMirrorFetcher) error {
	for _, seg := range m.Segments {
		if seg.Tier != TierCold {
			continue
		}
		path := filepath.Join(coldDir, seg.Filename)
		if _, err := os.Stat(path); err == nil {
			continue
		} else if !os.IsNotExist(err) {
			return &types.IoError{Err: err}
		}

		data, err := fetcher.Fetch(ctx, seg.Id)
		if err != nil {
			return fmt.Errorf("walstore: restore segment %d from mirror: %w", seg.Id, err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return &types.IoError{Err: err}
		}
		log.Printf("walstore: restored segment %d from cold mirror into %s", seg.Id, path)
	}
	return nil
}

// AppendBatch appends records to the active segment, rotating before any
// record of the batch that would overflow it. It never rotates a segment
// that has had zero bytes written (an empty active segment always
// accepts at least one record, keeping rotation monotone and avoiding
// zero-byte sealed segments). Returns one location per record.
func (s *SegmentStore) AppendBatch(records []types.RedoRecord) ([]LsnLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	locations := make([]LsnLocation, 0, len(records))
	for _, r := range records {
		entrySize := int64(walcodec.HeaderSize) + int64(len(r.Data))
		if s.activeBytesWritten > 0 && s.activeBytesWritten+entrySize > s.maxSegmentBytes {
			if err := s.rotateLocked(); err != nil {
				return nil, err
			}
		}

		fileOffset := s.activeBytesWritten
		if !s.activeFirstLsnSet {
			s.activeFirstLsn = r.Lsn
			s.activeFirstLsnSet = true
		}

		locations = append(locations, LsnLocation{SegmentId: s.activeSegmentId, FileOffset: fileOffset})

		if err := s.activeWriter.Append(r); err != nil {
			return nil, err
		}
		s.activeBytesWritten += entrySize
	}

	return locations, nil
}

// Sync fsyncs the active segment.
func (s *SegmentStore) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeWriter.Sync()
}

// UpdateSealedLsnRange patches a sealed segment's recorded LSN range
// (rotate() seals with a placeholder range since it doesn't know the
// batch's bounds; the caller patches it once append_redo knows them).
func (s *SegmentStore) UpdateSealedLsnRange(segmentId uint32, first, last types.Lsn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.manifest.Segments {
		if s.manifest.Segments[i].Id == segmentId {
			s.manifest.Segments[i].LsnRange = [2]uint64{uint64(first), uint64(last)}
			return saveManifest(s.baseDir, s.manifest)
		}
	}
	return nil
}

// rotateLocked seals the active segment and opens a new one. Caller
// holds s.mu.
func (s *SegmentStore) rotateLocked() error {
	sealedId := s.activeSegmentId

	if err := s.activeWriter.Sync(); err != nil {
		return err
	}
	if err := s.activeWriter.Close(); err != nil {
		return &types.IoError{Err: err}
	}

	firstLsn := s.activeFirstLsn
	sealed := SegmentMeta{
		Id:        sealedId,
		Filename:  segmentFilename(sealedId),
		Tier:      TierHot,
		LsnRange:  [2]uint64{uint64(firstLsn), uint64(firstLsn)},
		SizeBytes: s.activeBytesWritten,
		Sealed:    true,
	}
	s.manifest.Segments = append(s.manifest.Segments, sealed)

	newId := sealedId + 1
	s.manifest.ActiveSegmentId = newId
	if err := saveManifest(s.baseDir, s.manifest); err != nil {
		return err
	}

	newPath := filepath.Join(s.hotDir, segmentFilename(newId))
	writer, err := OpenSingleFile(newPath)
	if err != nil {
		return err
	}

	s.activeWriter = writer
	s.activeSegmentId = newId
	s.activeFirstLsnSet = false
	s.activeBytesWritten = 0

	log.Printf("walstore: sealed segment %d, active segment now %d", sealedId, newId)
	return nil
}

// OpenSegmentReader opens a reader for the given segment id and reports
// its current tier. Cold reads inject the configured latency once per
// call, simulating a remote tier.
func (s *SegmentStore) OpenSegmentReader(segmentId uint32) (*SingleFileStore, Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if segmentId == s.activeSegmentId {
		path := filepath.Join(s.hotDir, segmentFilename(segmentId))
		r, err := OpenSingleFile(path)
		return r, TierHot, err
	}

	for _, seg := range s.manifest.Segments {
		if seg.Id == segmentId {
			var path string
			switch seg.Tier {
			case TierHot:
				path = filepath.Join(s.hotDir, seg.Filename)
			case TierCold:
				path = filepath.Join(s.coldDir, seg.Filename)
				if s.coldLatency > 0 {
					time.Sleep(s.coldLatency)
				}
			}
			r, err := OpenSingleFile(path)
			return r, seg.Tier, err
		}
	}

	return nil, "", &types.OtherError{Message: fmt.Sprintf("segment %d not found", segmentId)}
}

// CoolSegments moves the oldest sealed hot segments into cold/, keeping
// the keepHot most recent sealed segments in hot/. If a ColdMirror is
// configured, it also uploads the cooled segment's bytes there as a
// non-authoritative durability mirror.
func (s *SegmentStore) CoolSegments(ctx context.Context, keepHot int) ([]uint32, error) {
	s.mu.Lock()
	var sealedHotIdx []int
	for i, seg := range s.manifest.Segments {
		if seg.Sealed && seg.Tier == TierHot {
			sealedHotIdx = append(sealedHotIdx, i)
		}
	}
	if len(sealedHotIdx) <= keepHot {
		s.mu.Unlock()
		return nil, nil
	}

	toCool := len(sealedHotIdx) - keepHot
	var cooled []uint32
	var coolPaths []string
	for _, idx := range sealedHotIdx[:toCool] {
		seg := s.manifest.Segments[idx]
		src := filepath.Join(s.hotDir, seg.Filename)
		dst := filepath.Join(s.coldDir, seg.Filename)
		if err := os.Rename(src, dst); err != nil {
			s.mu.Unlock()
			return nil, &types.IoError{Err: err}
		}
		s.manifest.Segments[idx].Tier = TierCold
		cooled = append(cooled, seg.Id)
		coolPaths = append(coolPaths, dst)
	}

	if err := saveManifest(s.baseDir, s.manifest); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	mirror := s.mirror
	s.mu.Unlock()

	log.Printf("walstore: cooled %d segment(s) to cold tier", len(cooled))

	if mirror != nil {
		for i, id := range cooled {
			if err := mirror.Upload(ctx, id, coolPaths[i]); err != nil {
				log.Printf("walstore: cold-mirror upload of segment %d failed: %v", id, err)
			}
		}
	}

	return cooled, nil
}

// Manifest returns a copy of the current manifest (for recovery/inspection).
func (s *SegmentStore) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.manifest
}

// BaseDir, HotDir, ColdDir expose the store's directory layout.
func (s *SegmentStore) BaseDir() string  { return s.baseDir }
func (s *SegmentStore) HotDir() string   { return s.hotDir }
func (s *SegmentStore) ColdDir() string  { return s.coldDir }
func (s *SegmentStore) ActiveId() uint32 { s.mu.Lock(); defer s.mu.Unlock(); return s.activeSegmentId }

// Close closes the active segment writer.
func (s *SegmentStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeWriter.Close()
}

// ReplaceManifestAndActive is used by recovery to install a truncated
// manifest (with segments strictly after the VDL segment removed) and
// reopen the active writer against a possibly-shrunk active segment
// file. It must only be called immediately after OpenSegmented, before
// any appends.
func (s *SegmentStore) ReplaceManifestAndActive(m Manifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := saveManifest(s.baseDir, m); err != nil {
		return err
	}
	s.manifest = m
	s.activeSegmentId = m.ActiveSegmentId

	if err := s.activeWriter.Close(); err != nil {
		return &types.IoError{Err: err}
	}
	path := filepath.Join(s.hotDir, segmentFilename(s.activeSegmentId))
	writer, err := OpenSingleFile(path)
	if err != nil {
		return err
	}
	size, err := writer.Size()
	if err != nil {
		return err
	}
	s.activeWriter = writer
	s.activeBytesWritten = size
	s.activeFirstLsnSet = false
	return nil
}
