package walstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/linux/projects/storage/mini-aurora/internal/types"
)

// Tier is a segment's placement: Hot (local, fast) or Cold (cooled,
// reads incur an artificial latency).
type Tier string

const (
	TierHot  Tier = "Hot"
	TierCold Tier = "Cold"
)

// SegmentMeta describes one sealed (or active) segment file.
type SegmentMeta struct {
	Id        uint32    `json:"id"`
	Filename  string    `json:"filename"`
	Tier      Tier      `json:"tier"`
	LsnRange  [2]uint64 `json:"lsn_range"`
	SizeBytes int64     `json:"size_bytes"`
	Sealed    bool      `json:"sealed"`
}

// Manifest is the durable JSON catalog of segments and the active
// segment id. It is the source of truth for segment tier and sealed-ness;
// tier is never derived from filesystem layout alone.
type Manifest struct {
	Segments        []SegmentMeta `json:"segments"`
	ActiveSegmentId uint32        `json:"active_segment_id"`
}

func newManifest() Manifest {
	return Manifest{ActiveSegmentId: 1}
}

func manifestPath(baseDir string) string {
	return filepath.Join(baseDir, "manifest.json")
}

func loadManifest(baseDir string) (Manifest, error) {
	path := manifestPath(baseDir)
	bytes, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newManifest(), nil
		}
		return Manifest{}, &types.IoError{Err: err}
	}
	var m Manifest
	if err := json.Unmarshal(bytes, &m); err != nil {
		return Manifest{}, &types.CorruptionError{Message: fmt.Sprintf("malformed manifest: %v", err)}
	}
	return m, nil
}

// saveManifest persists m atomically: serialize to manifest.json.tmp,
// then rename onto manifest.json. A reader of a live system always sees
// either the previous manifest or the new one, never a partial write.
func saveManifest(baseDir string, m Manifest) error {
	path := manifestPath(baseDir)
	tmpPath := path + ".tmp"

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return &types.OtherError{Message: "marshaling manifest", Err: err}
	}
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &types.IoError{Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &types.IoError{Err: err}
	}
	return nil
}

// segmentFilename formats a segment id into its on-disk filename:
// wal_NNNNNN.seg, a 6-digit zero-padded id.
func segmentFilename(id uint32) string {
	return fmt.Sprintf("wal_%06d.seg", id)
}

// SegmentFilename is the exported form of segmentFilename, used by the
// recovery package to locate segment files directly.
func SegmentFilename(id uint32) string {
	return segmentFilename(id)
}
