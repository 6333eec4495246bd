package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

func record(lsn, pageId, prevLsn types.Lsn, mtrId uint64, isEnd bool) types.RedoRecord {
	return types.RedoRecord{
		Lsn:      lsn,
		PageId:   types.PageId(pageId),
		Data:     []byte{byte(lsn), byte(lsn), byte(lsn), byte(lsn)},
		PrevLsn:  prevLsn,
		MtrId:    mtrId,
		IsMtrEnd: isEnd,
	}
}

func TestCleanRecovery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}

	records := []types.RedoRecord{
		record(1, 1, 0, 1, false),
		record(2, 2, 0, 1, false),
		record(3, 1, 1, 1, true),
	}
	if err := store.AppendBatch(records); err != nil {
		t.Fatal(err)
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	result, err := RecoverSingleFile(store)
	if err != nil {
		t.Fatal(err)
	}
	if result.Durability.Vcl != 3 || result.Durability.Vdl != 3 {
		t.Fatalf("got durability %+v, want vcl=vdl=3", result.Durability)
	}
	if result.PageIndex[1] != 3 {
		t.Fatalf("page_index[1] = %d, want 3", result.PageIndex[1])
	}
	if result.PageIndex[2] != 2 {
		t.Fatalf("page_index[2] = %d, want 2", result.PageIndex[2])
	}
}

func TestRecoveryIncompleteMtr(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}

	records := []types.RedoRecord{
		record(1, 1, 0, 1, false),
		record(2, 2, 0, 1, false),
		record(3, 1, 1, 1, true), // CPL for MTR 1
		record(4, 3, 0, 2, false),
		record(5, 1, 3, 2, false), // no CPL -- incomplete MTR
	}
	if err := store.AppendBatch(records); err != nil {
		t.Fatal(err)
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	result, err := RecoverSingleFile(store)
	if err != nil {
		t.Fatal(err)
	}
	if result.Durability.Vcl != 3 {
		t.Fatalf("vcl = %d, want 3 (all present through incomplete mtr is still discarded by truncation)", result.Durability.Vcl)
	}
	if result.Durability.Vdl != 3 {
		t.Fatalf("vdl = %d, want 3", result.Durability.Vdl)
	}
	if len(result.LsnOffsets) != 3 {
		t.Fatalf("lsn_offsets has %d entries, want 3", len(result.LsnOffsets))
	}
	if _, ok := result.LsnOffsets[4]; ok {
		t.Fatalf("lsn 4 should not survive recovery")
	}
	if _, ok := result.LsnOffsets[5]; ok {
		t.Fatalf("lsn 5 should not survive recovery")
	}
}

func TestRecoveryTruncatedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}

	records := []types.RedoRecord{
		record(1, 1, 0, 1, true),
		record(2, 2, 0, 2, true),
	}
	if err := store.AppendBatch(records); err != nil {
		t.Fatal(err)
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	entrySize := int64(walcodec.HeaderSize) + 4
	if err := os.Truncate(path, entrySize+10); err != nil {
		t.Fatal(err)
	}

	store2, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}
	result, err := RecoverSingleFile(store2)
	if err != nil {
		t.Fatal(err)
	}
	if result.Durability.Vcl != 1 || result.Durability.Vdl != 1 {
		t.Fatalf("got %+v, want vcl=vdl=1", result.Durability)
	}
	if len(result.LsnOffsets) != 1 {
		t.Fatalf("lsn_offsets has %d entries, want 1", len(result.LsnOffsets))
	}
}

func TestRecoveryGapInLsns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := store.AppendBatch([]types.RedoRecord{
		record(1, 1, 0, 1, true),
		record(2, 2, 0, 2, true),
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	// Skip LSN 3, write LSN 4.
	if err := store.Append(record(4, 1, 1, 3, true)); err != nil {
		t.Fatal(err)
	}
	if err := store.Sync(); err != nil {
		t.Fatal(err)
	}

	result, err := RecoverSingleFile(store)
	if err != nil {
		t.Fatal(err)
	}
	if result.Durability.Vcl != 2 || result.Durability.Vdl != 2 {
		t.Fatalf("got %+v, want vcl=vdl=2", result.Durability)
	}
}

func TestRecoveryEmptyWal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")
	store, err := walstore.OpenSingleFile(path)
	if err != nil {
		t.Fatal(err)
	}

	result, err := RecoverSingleFile(store)
	if err != nil {
		t.Fatal(err)
	}
	if result.Durability.Vcl != 0 || result.Durability.Vdl != 0 {
		t.Fatalf("got %+v, want vcl=vdl=0", result.Durability)
	}
	if len(result.PageIndex) != 0 {
		t.Fatalf("page_index should be empty, got %d entries", len(result.PageIndex))
	}
}
