package recovery

import (
	"sort"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// SingleFileResult is the outcome of recovering a single-file WAL.
type SingleFileResult struct {
	Durability types.DurabilityState
	PageIndex  map[types.PageId]types.Lsn
	LsnOffsets map[types.Lsn]int64
}

// RecoverSingleFile performs the six-step recovery algorithm against a
// single-file WAL store that is already open. On return the underlying
// file has been truncated at the byte offset immediately after the VDL
// record.
func RecoverSingleFile(store *walstore.SingleFileStore) (SingleFileResult, error) {
	decoded, err := store.ScanAll()
	if err != nil {
		return SingleFileResult{}, err
	}

	entries := make([]scannedEntry, 0, len(decoded))
	offsets := make([]int64, 0, len(decoded))
	lsnSet := make(map[types.Lsn]bool, len(decoded))
	var lsnsAscending []types.Lsn
	var cplsAscending []types.Lsn

	for _, d := range decoded {
		entries = append(entries, scannedEntry{lsn: d.Header.Lsn, pageId: d.Header.PageId, isMtrEnd: d.Header.IsMtrEnd()})
		offsets = append(offsets, d.FileOffset)
		if !lsnSet[d.Header.Lsn] {
			lsnSet[d.Header.Lsn] = true
			lsnsAscending = append(lsnsAscending, d.Header.Lsn)
		}
		if d.Header.IsMtrEnd() {
			cplsAscending = append(cplsAscending, d.Header.Lsn)
		}
	}
	sort.Slice(lsnsAscending, func(i, j int) bool { return lsnsAscending[i] < lsnsAscending[j] })
	sort.Slice(cplsAscending, func(i, j int) bool { return cplsAscending[i] < cplsAscending[j] })

	vcl := computeVcl(lsnsAscending)
	vdl := computeVdl(cplsAscending, vcl)

	truncateAt := findEndOfEntry(decoded, vdl)
	if err := store.Truncate(truncateAt); err != nil {
		return SingleFileResult{}, err
	}

	pageIndex := make(map[types.PageId]types.Lsn)
	lsnOffsets := make(map[types.Lsn]int64)
	for i, e := range entries {
		if e.lsn > vdl {
			break
		}
		lsnOffsets[e.lsn] = offsets[i]
		if e.lsn > pageIndex[e.pageId] {
			pageIndex[e.pageId] = e.lsn
		}
	}

	return SingleFileResult{
		Durability: types.DurabilityState{Vcl: vdl, Vdl: vdl},
		PageIndex:  pageIndex,
		LsnOffsets: lsnOffsets,
	}, nil
}

// findEndOfEntry returns the file offset immediately past the entry
// whose LSN equals targetLsn, or 0 if targetLsn is 0 (nothing survives).
func findEndOfEntry(decoded []walstore.DecodedEntry, targetLsn types.Lsn) int64 {
	if targetLsn == 0 {
		return 0
	}
	for i, d := range decoded {
		if d.Header.Lsn == targetLsn {
			if i+1 < len(decoded) {
				return decoded[i+1].FileOffset
			}
			return d.FileOffset + int64(walcodec.HeaderSize) + int64(len(d.Data))
		}
	}
	return 0
}
