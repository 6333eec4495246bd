// Package config holds the storage host's runtime configuration, mirroring
// original_source's StoragePreset/TieredConfig split between the
// single-file and segmented WAL store variants.
package config

import "time"

// Backend selects which walstore variant the storage engine runs on.
type Backend string

const (
	// BackendSingleFile is the plain append-only single-file WAL.
	BackendSingleFile Backend = "single-file"
	// BackendSegmented is the hot/cold segmented WAL with tiering.
	BackendSegmented Backend = "segmented"
)

// Config is the storage host's full runtime configuration.
type Config struct {
	Port      int
	DataDir   string
	Backend   Backend
	Segmented SegmentedOptions

	CacheCapacity      int
	BufferPoolCapacity int

	// Auth, optional: when APIKey is empty, authentication stays disabled.
	APIKey string

	// ColdStore, optional: when Bucket is empty, no S3 mirror is wired.
	ColdStore ColdStoreOptions
}

// SegmentedOptions configures the segmented WAL store, analogous to
// original_source's TieredConfig.
type SegmentedOptions struct {
	SegmentSizeBytes int64
	ColdLatency      time.Duration
}

// ColdStoreOptions configures the optional S3 mirror for cooled segments.
type ColdStoreOptions struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	Prefix    string
}

// Defaults returns the storage host's baseline configuration, which
// cmd/storagehost starts from before overwriting its fields with the
// parsed flag values.
func Defaults() Config {
	return Config{
		Port:               8080,
		DataDir:            "./storagehost-data",
		Backend:            BackendSingleFile,
		CacheCapacity:      1024,
		BufferPoolCapacity: 1024,
		Segmented: SegmentedOptions{
			SegmentSizeBytes: 64 << 20, // 64 MiB
			ColdLatency:      0,
		},
	}
}
