package walstore

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

func segRecord(lsn, pageId uint64, mtrId uint64, isEnd bool, data []byte) types.RedoRecord {
	return types.RedoRecord{
		Lsn:      types.Lsn(lsn),
		PageId:   types.PageId(pageId),
		Data:     data,
		MtrId:    mtrId,
		IsMtrEnd: isEnd,
	}
}

// fakeMirror is a ColdMirror + ColdMirrorFetcher that stores uploaded
// bytes in memory, letting tests exercise both the upload and the
// restore path without a real S3 bucket.
type fakeMirror struct {
	mu   sync.Mutex
	data map[uint32][]byte
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{data: make(map[uint32][]byte)}
}

func (m *fakeMirror) Upload(ctx context.Context, segmentId uint32, path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[segmentId] = b
	return nil
}

func (m *fakeMirror) Fetch(ctx context.Context, segmentId uint32) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[segmentId]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func TestSegmentStoreRotatesBeforeOverflow(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 200})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	var lastSegment uint32
	for i := uint64(1); i <= 20; i++ {
		locs, err := store.AppendBatch([]types.RedoRecord{
			segRecord(i, 1, i, true, []byte("payload-bytes-to-force-rotation")),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		lastSegment = locs[0].SegmentId
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	if lastSegment <= 1 {
		t.Fatalf("expected writes to have rotated past the initial segment 1, stayed at %d", lastSegment)
	}
	if store.ActiveId() != lastSegment {
		t.Fatalf("active id = %d, want %d", store.ActiveId(), lastSegment)
	}

	manifest := store.Manifest()
	if len(manifest.Segments) == 0 {
		t.Fatalf("expected sealed segments in manifest after rotation")
	}
	for _, seg := range manifest.Segments {
		if !seg.Sealed {
			t.Fatalf("segment %d in manifest but not sealed", seg.Id)
		}
		if seg.Tier != TierHot {
			t.Fatalf("segment %d tier = %v, want hot before cooling", seg.Id, seg.Tier)
		}
	}
}

func TestSegmentStoreNeverRotatesAnEmptySegment(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 4})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	// A single record larger than MaxSegmentBytes must still be accepted
	// into the (empty) active segment rather than looping forever trying
	// to make room.
	locs, err := store.AppendBatch([]types.RedoRecord{
		segRecord(1, 1, 1, true, []byte("this payload alone exceeds MaxSegmentBytes")),
	})
	if err != nil {
		t.Fatalf("append into empty segment: %v", err)
	}
	if locs[0].SegmentId != 1 || locs[0].FileOffset != 0 {
		t.Fatalf("got %+v, want segment 1 offset 0", locs[0])
	}
}

func TestCoolSegmentsMovesOldestSealedAndUploadsToMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := newFakeMirror()
	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 100, Mirror: mirror})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for i := uint64(1); i <= 12; i++ {
		if _, err := store.AppendBatch([]types.RedoRecord{
			segRecord(i, 1, i, true, []byte("enough-bytes-to-rotate-segments")),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	cooled, err := store.CoolSegments(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cooled) == 0 {
		t.Fatalf("expected at least one segment to cool")
	}

	manifest := store.Manifest()
	for _, id := range cooled {
		found := false
		for _, seg := range manifest.Segments {
			if seg.Id != id {
				continue
			}
			found = true
			if seg.Tier != TierCold {
				t.Fatalf("segment %d tier = %v, want cold", id, seg.Tier)
			}
			if _, err := os.Stat(filepath.Join(store.ColdDir(), seg.Filename)); err != nil {
				t.Fatalf("cooled segment %d missing from cold dir: %v", id, err)
			}
			if _, err := os.Stat(filepath.Join(store.HotDir(), seg.Filename)); !os.IsNotExist(err) {
				t.Fatalf("cooled segment %d should no longer exist in hot dir", id)
			}
		}
		if !found {
			t.Fatalf("cooled segment %d not present in manifest", id)
		}
	}

	mirror.mu.Lock()
	uploadedCount := len(mirror.data)
	mirror.mu.Unlock()
	if uploadedCount != len(cooled) {
		t.Fatalf("mirror received %d uploads, want %d", uploadedCount, len(cooled))
	}
}

func TestCoolSegmentsIsNoOpWhenNothingSealedBeyondKeepHot(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 1 << 20})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.AppendBatch([]types.RedoRecord{segRecord(1, 1, 1, true, []byte("x"))}); err != nil {
		t.Fatal(err)
	}

	cooled, err := store.CoolSegments(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if cooled != nil {
		t.Fatalf("expected no-op with a single active segment, got %v", cooled)
	}
}

func TestOpenSegmentReaderInjectsColdLatencyOnlyForColdTier(t *testing.T) {
	dir := t.TempDir()
	latency := 15 * time.Millisecond
	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 100, ColdLatency: latency})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	for i := uint64(1); i <= 10; i++ {
		if _, err := store.AppendBatch([]types.RedoRecord{
			segRecord(i, 1, i, true, []byte("payload-bytes-to-force-rotation")),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	r, tier, err := store.OpenSegmentReader(store.ActiveId())
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	if tier != TierHot {
		t.Fatalf("active segment tier = %v, want hot", tier)
	}
	if elapsed := time.Since(start); elapsed >= latency {
		t.Fatalf("opening the active (hot) segment took %v, should not pay cold latency", elapsed)
	}

	if _, err := store.CoolSegments(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	manifest := store.Manifest()
	var coldId uint32
	for _, seg := range manifest.Segments {
		if seg.Tier == TierCold {
			coldId = seg.Id
			break
		}
	}

	start = time.Now()
	r, tier, err = store.OpenSegmentReader(coldId)
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	if tier != TierCold {
		t.Fatalf("segment %d tier = %v, want cold", coldId, tier)
	}
	if elapsed := time.Since(start); elapsed < latency {
		t.Fatalf("opening a cold segment took %v, want at least %v", elapsed, latency)
	}
}

func TestOpenSegmentedRestoresMissingColdSegmentFromMirror(t *testing.T) {
	dir := t.TempDir()
	mirror := newFakeMirror()

	store, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 100, Mirror: mirror})
	if err != nil {
		t.Fatal(err)
	}
	for i := uint64(1); i <= 10; i++ {
		if _, err := store.AppendBatch([]types.RedoRecord{
			segRecord(i, 1, i, true, []byte("payload-bytes-to-force-rotation")),
		}); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}
	cooled, err := store.CoolSegments(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(cooled) == 0 {
		t.Fatalf("expected a cooled segment to set up the disaster scenario")
	}
	lostId := cooled[0]
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate losing the local cold/ directory.
	coldPath := filepath.Join(dir, "cold")
	entries, err := os.ReadDir(coldPath)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(coldPath, e.Name())); err != nil {
			t.Fatal(err)
		}
	}

	reopened, err := OpenSegmented(SegmentConfig{BaseDir: dir, MaxSegmentBytes: 100, Mirror: mirror})
	if err != nil {
		t.Fatalf("reopen after cold/ loss: %v", err)
	}
	defer reopened.Close()

	restoredPath := filepath.Join(coldPath, segmentFilename(lostId))
	if _, err := os.Stat(restoredPath); err != nil {
		t.Fatalf("expected segment %d to be restored from the mirror at %s: %v", lostId, restoredPath, err)
	}
}
