package recovery

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
	"github.com/linux/projects/storage/mini-aurora/internal/walcodec"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// SegmentedResult is the outcome of recovering a segmented WAL.
type SegmentedResult struct {
	Durability types.DurabilityState
	PageIndex  map[types.PageId]types.Lsn
	LsnOffsets map[types.Lsn]walstore.LsnLocation
}

type segScannedEntry struct {
	scannedEntry
	location   walstore.LsnLocation
	decodedLen int // header + data size, to compute the end offset
}

// RecoverSegmented scans every segment (sealed segments in id order,
// then the active segment last), computes VCL/VDL, truncates the
// segment containing VDL at the byte offset after the VDL record,
// deletes and drops from the manifest any segment strictly after it,
// and rebuilds the page/LSN indexes from the surviving records.
//
// This extends what original_source's SegmentManager::recover implements:
// the reference never truncates the active segment or removes segments
// beyond the VDL's segment. Both are required by this spec (see
// DESIGN.md, Decision 2) since a crash can otherwise leave LSNs above
// VDL on disk in a later segment.
func RecoverSegmented(store *walstore.SegmentStore) (SegmentedResult, error) {
	manifest := store.Manifest()

	segmentIds := make([]uint32, 0, len(manifest.Segments)+1)
	for _, seg := range manifest.Segments {
		segmentIds = append(segmentIds, seg.Id)
	}
	segmentIds = append(segmentIds, manifest.ActiveSegmentId)

	var all []segScannedEntry
	for _, segId := range segmentIds {
		reader, _, err := store.OpenSegmentReader(segId)
		if err != nil {
			// A referenced segment file missing from disk is treated as
			// end of trustworthy log for everything from here on, same
			// as a corrupt record would be.
			break
		}
		decoded, err := reader.ScanAll()
		_ = reader.Close()
		if err != nil {
			return SegmentedResult{}, err
		}
		for _, d := range decoded {
			all = append(all, segScannedEntry{
				scannedEntry: scannedEntry{lsn: d.Header.Lsn, pageId: d.Header.PageId, isMtrEnd: d.Header.IsMtrEnd()},
				location:     walstore.LsnLocation{SegmentId: segId, FileOffset: d.FileOffset},
				decodedLen:   walcodec.HeaderSize + len(d.Data),
			})
		}
	}

	lsnSet := make(map[types.Lsn]bool, len(all))
	var lsnsAscending, cplsAscending []types.Lsn
	for _, e := range all {
		if !lsnSet[e.lsn] {
			lsnSet[e.lsn] = true
			lsnsAscending = append(lsnsAscending, e.lsn)
		}
		if e.isMtrEnd {
			cplsAscending = append(cplsAscending, e.lsn)
		}
	}
	sort.Slice(lsnsAscending, func(i, j int) bool { return lsnsAscending[i] < lsnsAscending[j] })
	sort.Slice(cplsAscending, func(i, j int) bool { return cplsAscending[i] < cplsAscending[j] })

	vcl := computeVcl(lsnsAscending)
	vdl := computeVdl(cplsAscending, vcl)

	if err := truncateBeyondVdl(store, manifest, all, vdl); err != nil {
		return SegmentedResult{}, err
	}

	pageIndex := make(map[types.PageId]types.Lsn)
	lsnOffsets := make(map[types.Lsn]walstore.LsnLocation)
	for _, e := range all {
		if e.lsn > vdl {
			break
		}
		lsnOffsets[e.lsn] = e.location
		if e.lsn > pageIndex[e.pageId] {
			pageIndex[e.pageId] = e.lsn
		}
	}

	return SegmentedResult{
		Durability: types.DurabilityState{Vcl: vdl, Vdl: vdl},
		PageIndex:  pageIndex,
		LsnOffsets: lsnOffsets,
	}, nil
}

// truncateBeyondVdl truncates the segment holding the VDL record at the
// byte offset following it, deletes every segment strictly after that
// one, and installs a corrected manifest with the VDL's segment as the
// (reopened) active segment.
func truncateBeyondVdl(store *walstore.SegmentStore, manifest walstore.Manifest, all []segScannedEntry, vdl types.Lsn) error {
	var vdlSegmentId uint32
	var truncateOffset int64

	if vdl == 0 {
		// Nothing survives; the lowest-numbered segment becomes the
		// (empty) active segment.
		vdlSegmentId = lowestSegmentId(manifest)
		truncateOffset = 0
	} else {
		for i, e := range all {
			if e.lsn == vdl {
				vdlSegmentId = e.location.SegmentId
				if i+1 < len(all) && all[i+1].location.SegmentId == e.location.SegmentId {
					truncateOffset = all[i+1].location.FileOffset
				} else {
					truncateOffset = e.location.FileOffset + int64(e.decodedLen)
				}
				break
			}
		}
	}

	// Locate the VDL segment's current path (it may be sealed/hot,
	// sealed/cold, or the active segment) before we mutate the manifest.
	vdlPath, vdlWasActive := segmentPath(store, manifest, vdlSegmentId)

	// Delete every segment strictly after the VDL segment, sealed or
	// active, and drop sealed ones from the manifest.
	var survivors []walstore.SegmentMeta
	for _, seg := range manifest.Segments {
		if seg.Id > vdlSegmentId {
			path := filepath.Join(tierDir(store, seg.Tier), seg.Filename)
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return &types.IoError{Err: err}
			}
			continue
		}
		if seg.Id == vdlSegmentId {
			// The VDL segment becomes active again; it is represented
			// only via ActiveSegmentId, not as a manifest entry.
			continue
		}
		survivors = append(survivors, seg)
	}
	if manifest.ActiveSegmentId > vdlSegmentId && !vdlWasActive {
		activePath := filepath.Join(store.HotDir(), walstore.SegmentFilename(manifest.ActiveSegmentId))
		if err := os.Remove(activePath); err != nil && !os.IsNotExist(err) {
			return &types.IoError{Err: err}
		}
	}

	// If the VDL segment was cooled to cold/, move it back to hot/ since
	// the active segment must always live in the hot tier.
	hotPath := filepath.Join(store.HotDir(), walstore.SegmentFilename(vdlSegmentId))
	if vdlPath != hotPath {
		if err := os.Rename(vdlPath, hotPath); err != nil {
			return &types.IoError{Err: err}
		}
	}

	// Truncate the (now-hot, now-active) VDL segment at the computed offset.
	f, err := walstore.OpenSingleFile(hotPath)
	if err != nil {
		return err
	}
	if err := f.Truncate(truncateOffset); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return &types.IoError{Err: err}
	}

	newManifest := walstore.Manifest{Segments: survivors, ActiveSegmentId: vdlSegmentId}
	return store.ReplaceManifestAndActive(newManifest)
}

func lowestSegmentId(m walstore.Manifest) uint32 {
	lowest := m.ActiveSegmentId
	for _, seg := range m.Segments {
		if seg.Id < lowest {
			lowest = seg.Id
		}
	}
	return lowest
}

func tierDir(store *walstore.SegmentStore, tier walstore.Tier) string {
	if tier == walstore.TierCold {
		return store.ColdDir()
	}
	return store.HotDir()
}

// segmentPath returns the current on-disk path of segmentId and whether
// it is the manifest's active segment.
func segmentPath(store *walstore.SegmentStore, m walstore.Manifest, segmentId uint32) (string, bool) {
	if segmentId == m.ActiveSegmentId {
		return filepath.Join(store.HotDir(), walstore.SegmentFilename(segmentId)), true
	}
	for _, seg := range m.Segments {
		if seg.Id == segmentId {
			return filepath.Join(tierDir(store, seg.Tier), seg.Filename), false
		}
	}
	return filepath.Join(store.HotDir(), walstore.SegmentFilename(segmentId)), false
}
