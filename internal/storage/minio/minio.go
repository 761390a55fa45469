// Package minio provides a storage backend on the MinIO client.
package minio

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/fruitsalade/projectfiles/internal/logging"
	"github.com/fruitsalade/projectfiles/internal/metrics"
)

// Config holds MinIO connection settings. Endpoint is host[:port], no scheme.
type Config struct {
	Endpoint     string `yaml:"endpoint"`
	Bucket       string `yaml:"bucket"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Region       string `yaml:"region"`
	UseSSL       bool   `yaml:"use_ssl"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// Backend implements storage.Backend and storage.Presigner on MinIO.
type Backend struct {
	client *minio.Client
	bucket string
}

// New connects to MinIO and checks the bucket.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("new minio client: %w", err)
	}

	b := &Backend{client: client, bucket: cfg.Bucket}
	if err := b.ensureBucket(ctx, cfg.CreateBucket, cfg.Region); err != nil {
		logging.Error("bucket check failed", zap.String("bucket", cfg.Bucket), zap.Error(err))
	}
	return b, nil
}

func record(op string, start time.Time, err error) {
	metrics.RecordObjectOperation("minio", op, time.Since(start), err == nil)
}

func (b *Backend) ensureBucket(ctx context.Context, create bool, region string) (err error) {
	start := time.Now()
	defer func() { record("head_bucket", start, err) }()

	ok, err := b.client.BucketExists(ctx, b.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", b.bucket, err)
	}
	if ok || !create {
		return nil
	}
	if err = b.client.MakeBucket(ctx, b.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", b.bucket, err)
	}
	logging.Info("created MinIO bucket", zap.String("bucket", b.bucket))
	return nil
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == http.StatusNotFound || resp.Code == "NoSuchKey"
}

// GetObject retrieves an object with range support. The object is stat'ed
// first so a missing key fails here rather than on the first Read.
func (b *Backend) GetObject(ctx context.Context, key string, offset, length int64) (rc io.ReadCloser, n int64, err error) {
	start := time.Now()
	defer func() { record("get_object", start, err) }()

	opts := minio.GetObjectOptions{}
	if length > 0 {
		err = opts.SetRange(offset, offset+length-1)
	} else if offset > 0 {
		err = opts.SetRange(offset, 0)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("range for %s: %w", key, err)
	}

	obj, err := b.client.GetObject(ctx, b.bucket, key, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("get object %s: %w", key, err)
	}
	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		if isNotFound(err) {
			return nil, 0, fmt.Errorf("get object %s: %w: %w", key, fs.ErrNotExist, err)
		}
		return nil, 0, fmt.Errorf("stat object %s: %w", key, err)
	}

	// Size comes from the response Content-Length, so it is the range length.
	return obj, info.Size, nil
}

// PutObject uploads content. size -1 streams with multipart.
func (b *Backend) PutObject(ctx context.Context, key string, body io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { record("put_object", start, err) }()

	if _, err = b.client.PutObject(ctx, b.bucket, key, body, size, minio.PutObjectOptions{}); err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	logging.Debug("minio put object", zap.String("key", key), zap.Int64("size", size))
	return nil
}

// DeleteObject removes an object. MinIO treats a missing key as success.
func (b *Backend) DeleteObject(ctx context.Context, key string) (err error) {
	start := time.Now()
	defer func() { record("delete_object", start, err) }()

	if err = b.client.RemoveObject(ctx, b.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object %s: %w", key, err)
	}
	return nil
}

// ObjectExists stats the object. Only a not-found answer maps to false.
func (b *Backend) ObjectExists(ctx context.Context, key string) (ok bool, err error) {
	start := time.Now()
	defer func() { record("head_object", start, err) }()

	_, err = b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat object %s: %w", key, err)
	}
	return true, nil
}

// PresignPut returns a URL the client can PUT the object to directly.
func (b *Backend) PresignPut(ctx context.Context, key string, ttl time.Duration) (string, error) {
	start := time.Now()
	u, err := b.client.PresignedPutObject(ctx, b.bucket, key, ttl)
	record("presign_put", start, err)
	if err != nil {
		return "", fmt.Errorf("presign put %s: %w", key, err)
	}
	return u.String(), nil
}

// Type returns "minio".
func (b *Backend) Type() string { return "minio" }

// Close is a no-op; the MinIO client holds no open handles.
func (b *Backend) Close() error { return nil }
