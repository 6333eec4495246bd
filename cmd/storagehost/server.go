package main

import (
	"context"
	"log"
	"time"

	"github.com/linux/projects/storage/mini-aurora/internal/auth"
	"github.com/linux/projects/storage/mini-aurora/internal/coldstore"
	"github.com/linux/projects/storage/mini-aurora/internal/compute"
	"github.com/linux/projects/storage/mini-aurora/internal/config"
	"github.com/linux/projects/storage/mini-aurora/internal/storageengine"
	"github.com/linux/projects/storage/mini-aurora/internal/walstore"
)

// Host wires together the storage contract (an *storageengine.Engine
// via a *compute.ComputeEngine) and the auth middleware that guards it,
// for exposure over HTTP.
type Host struct {
	compute *compute.ComputeEngine
	engine  *storageengine.Engine
	auth    *auth.Middleware
	cfg     config.Config
}

// NewHost builds a Host from cfg, opening the configured WAL store
// variant and running recovery.
func NewHost(cfg config.Config) (*Host, error) {
	var engine *storageengine.Engine
	var err error

	switch cfg.Backend {
	case config.BackendSegmented:
		var mirror walstore.ColdMirror
		if cfg.ColdStore.Bucket != "" {
			mirror, err = coldstore.NewS3Mirror(context.Background(), coldstore.Config{
				Endpoint:  cfg.ColdStore.Endpoint,
				Bucket:    cfg.ColdStore.Bucket,
				Region:    cfg.ColdStore.Region,
				AccessKey: cfg.ColdStore.AccessKey,
				SecretKey: cfg.ColdStore.SecretKey,
				Prefix:    cfg.ColdStore.Prefix,
			})
			if err != nil {
				return nil, err
			}
		}
		engine, err = storageengine.OpenSegmented(storageengine.SegmentedConfig{
			BaseDir:          cfg.DataDir,
			SegmentSizeBytes: cfg.Segmented.SegmentSizeBytes,
			ColdLatency:      cfg.Segmented.ColdLatency,
			Mirror:           mirror,
		})
	default:
		engine, err = storageengine.OpenSingleFile(cfg.DataDir + "/wal.log")
	}
	if err != nil {
		return nil, err
	}

	return &Host{
		compute: compute.NewComputeEngine(engine, cfg.BufferPoolCapacity),
		engine:  engine,
		auth:    auth.New(cfg.APIKey),
		cfg:     cfg,
	}, nil
}

// runCoolingTicker periodically cools sealed hot segments, for
// deployments that prefer a background sweep over driving
// /maintenance/cool externally. A no-op tick on a single-file-backed
// engine logs and does nothing, per Engine.CoolColdSegments.
func (h *Host) runCoolingTicker(interval time.Duration, keepHot int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		cooled, err := h.engine.CoolColdSegments(context.Background(), keepHot)
		if err != nil {
			log.Printf("storagehost: background cool tick failed: %v", err)
			continue
		}
		if len(cooled) > 0 {
			log.Printf("storagehost: background cool tick cooled segments %v", cooled)
		}
	}
}
