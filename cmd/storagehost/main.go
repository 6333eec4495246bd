package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"flag"

	"github.com/linux/projects/storage/mini-aurora/internal/config"
)

var (
	port      = flag.Int("port", 8080, "The server port")
	dataDir   = flag.String("data-dir", "./storagehost-data", "Data directory for the WAL store")
	backend   = flag.String("backend", "single-file", "WAL store backend: single-file or segmented")
	cacheSize = flag.Int("cache-size", 1024, "Page cache capacity (stored in the host config only; the storage engine's page cache always holds storageengine.PageCacheCapacity entries)")
	bufPool   = flag.Int("buffer-pool-size", 1024, "Compute-side buffer pool capacity")

	segmentBytes = flag.Int64("segment-bytes", 64<<20, "Maximum bytes per segment (segmented backend only)")
	coldLatency  = flag.Duration("cold-latency", 0, "Artificial latency injected on cold-tier reads (segmented backend only)")

	coolInterval = flag.Duration("cool-interval", 0, "If nonzero, periodically cool sealed hot segments on this interval (segmented backend only)")
	coolKeepHot  = flag.Int("cool-keep-hot", 1, "Number of sealed hot segments to keep uncooled by the background cool tick")

	s3Endpoint  = flag.String("s3-endpoint", "", "Cold-store S3 endpoint (e.g. http://minio:9000)")
	s3Bucket    = flag.String("s3-bucket", "", "Cold-store S3 bucket; empty disables the cold mirror")
	s3Region    = flag.String("s3-region", "us-east-1", "Cold-store S3 region")
	s3AccessKey = flag.String("s3-access-key", "", "Cold-store S3 access key")
	s3SecretKey = flag.String("s3-secret-key", "", "Cold-store S3 secret key")
	s3Prefix    = flag.String("s3-prefix", "", "Cold-store S3 key prefix")

	apiKey = flag.String("api-key", "", "API key for authentication (optional)")
)

func main() {
	flag.Parse()

	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		log.Fatalf("failed to create data directory: %v", err)
	}

	cfg := config.Defaults()
	cfg.Port = *port
	cfg.DataDir = *dataDir
	cfg.CacheCapacity = *cacheSize
	cfg.BufferPoolCapacity = *bufPool
	cfg.APIKey = *apiKey
	cfg.Segmented = config.SegmentedOptions{
		SegmentSizeBytes: *segmentBytes,
		ColdLatency:      *coldLatency,
	}
	cfg.ColdStore = config.ColdStoreOptions{
		Endpoint:  *s3Endpoint,
		Bucket:    *s3Bucket,
		Region:    *s3Region,
		AccessKey: *s3AccessKey,
		SecretKey: *s3SecretKey,
		Prefix:    *s3Prefix,
	}

	switch *backend {
	case "segmented":
		cfg.Backend = config.BackendSegmented
	default:
		cfg.Backend = config.BackendSingleFile
	}

	host, err := NewHost(cfg)
	if err != nil {
		log.Fatalf("failed to start storage host: %v", err)
	}

	mux := http.NewServeMux()
	host.RegisterHandlers(mux)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	log.Printf("storagehost starting...")
	log.Printf("  port: %d", *port)
	log.Printf("  data directory: %s", *dataDir)
	log.Printf("  backend: %s", *backend)
	if host.auth.IsEnabled() {
		log.Printf("  authentication: enabled")
	}

	if *coolInterval > 0 {
		log.Printf("  cold-tiering: every %s, keeping %d hot segment(s)", *coolInterval, *coolKeepHot)
		go host.runCoolingTicker(*coolInterval, *coolKeepHot)
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}
