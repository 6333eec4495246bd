// Package recovery implements the WAL recovery algorithm shared by both
// WAL store variants: scan the log, decide the durable prefix (VCL/VDL),
// truncate whatever lies beyond it, and rebuild the in-memory indexes
// the storage engine needs at open time.
package recovery

import (
	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// scannedEntry is the minimal per-record information recovery needs,
// independent of which WAL store variant produced it.
type scannedEntry struct {
	lsn      types.Lsn
	pageId   types.PageId
	isMtrEnd bool
}

// computeVcl returns the largest N such that every LSN in 1..=N appears
// in lsns, which must be supplied in ascending order with no duplicates.
func computeVcl(lsnsAscending []types.Lsn) types.Lsn {
	expected := types.Lsn(1)
	for _, lsn := range lsnsAscending {
		if lsn != expected {
			break
		}
		expected++
	}
	return expected - 1
}

// computeVdl returns the largest value in cpls (ascending, deduplicated)
// that is <= vcl, or 0 if none qualifies.
func computeVdl(cplsAscending []types.Lsn, vcl types.Lsn) types.Lsn {
	var vdl types.Lsn
	for _, cpl := range cplsAscending {
		if cpl > vcl {
			break
		}
		vdl = cpl
	}
	return vdl
}
