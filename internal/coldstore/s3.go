// Package coldstore mirrors cooled WAL segments to S3-compatible object
// storage. It is an optional, non-authoritative backup of the segmented
// WAL store's cold/ directory: the manifest and local cold-tier files
// remain the source of truth, per spec. Adapted from page-server's
// per-page S3 backend to operate on whole segment files instead.
package coldstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Mirror uploads and fetches cooled segment files against an
// S3-compatible bucket. It satisfies walstore.ColdMirror's Upload
// signature structurally, so walstore never needs to import this
// package.
type S3Mirror struct {
	client *s3.Client
	bucket string
	prefix string
}

// Config configures an S3Mirror.
type Config struct {
	Endpoint  string // e.g. https://s3.amazonaws.com, or a MinIO endpoint
	Bucket    string
	Region    string
	AccessKey string // optional; falls back to the default credential chain
	SecretKey string
	Prefix    string // optional key prefix for all uploaded objects
}

// NewS3Mirror builds an S3Mirror, ensuring the configured bucket exists.
func NewS3Mirror(ctx context.Context, cfg Config) (*S3Mirror, error) {
	var awsCfg aws.Config
	var err error

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		awsCfg, err = config.LoadDefaultConfig(ctx,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKey, cfg.SecretKey, "",
			)),
			config.WithRegion(cfg.Region),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	}
	if err != nil {
		return nil, fmt.Errorf("coldstore: failed to load AWS config: %w", err)
	}

	clientOptions := []func(*s3.Options){
		func(o *s3.Options) { o.UsePathStyle = true },
	}
	if cfg.Endpoint != "" {
		clientOptions = append(clientOptions, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, clientOptions...)

	if err := ensureBucketExists(ctx, client, cfg.Bucket); err != nil {
		return nil, fmt.Errorf("coldstore: failed to ensure bucket exists: %w", err)
	}

	return &S3Mirror{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

func ensureBucketExists(ctx context.Context, client *s3.Client, bucket string) error {
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)}); err == nil {
		return nil
	}
	if _, err := client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	return nil
}

func (m *S3Mirror) segmentKey(segmentId uint32) string {
	key := fmt.Sprintf("segments/wal_%06d.seg", segmentId)
	if m.prefix != "" {
		key = filepath.Join(m.prefix, key)
	}
	return key
}

// Upload reads path (a cooled segment file) and stores its bytes under
// the segment's key. Satisfies walstore.ColdMirror.
func (m *S3Mirror) Upload(ctx context.Context, segmentId uint32, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("coldstore: open %s: %w", path, err)
	}
	defer f.Close()

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(m.bucket),
		Key:         aws.String(m.segmentKey(segmentId)),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"segment-id": fmt.Sprintf("%d", segmentId),
		},
	})
	if err != nil {
		return fmt.Errorf("coldstore: upload segment %d: %w", segmentId, err)
	}
	return nil
}

// Fetch downloads segmentId's mirrored bytes, for disaster recovery
// when the local cold/ directory has been lost. Satisfies
// walstore.ColdMirrorFetcher; called by walstore.OpenSegmented to
// repopulate cold/ entries the manifest still references but that are
// missing on disk.
func (m *S3Mirror) Fetch(ctx context.Context, segmentId uint32) ([]byte, error) {
	result, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(m.segmentKey(segmentId)),
	})
	if err != nil {
		return nil, fmt.Errorf("coldstore: fetch segment %d: %w", segmentId, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("coldstore: read segment %d body: %w", segmentId, err)
	}
	return data, nil
}
