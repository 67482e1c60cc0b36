package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Store writes objects under the publish prefix and returns their location.
type Store interface {
	Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error)
}

// Bucket is the MinIO-backed publish bucket.
type Bucket struct {
	client *minio.Client
	cfg    Config
}

func Open(cfg Config) (*Bucket, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Bucket{client: client, cfg: cfg}, nil
}

// Location is the s3:// URL of name inside the bucket.
func (b *Bucket) Location(name string) string {
	return "s3://" + b.cfg.BucketPublish + "/" + b.cfg.Key(name)
}

func (b *Bucket) Put(ctx context.Context, name string, body io.Reader, size int64, contentType string) (string, error) {
	if b == nil || b.client == nil {
		return "", errors.New("bucket not opened")
	}
	key := b.cfg.Key(name)
	if _, err := b.client.PutObject(ctx, b.cfg.BucketPublish, key, body, size, minio.PutObjectOptions{ContentType: contentType}); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return b.Location(name), nil
}

// Ensure creates the bucket when it does not exist.
func (b *Bucket) Ensure(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.cfg.BucketPublish)
	if err != nil {
		return fmt.Errorf("publish bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, b.cfg.BucketPublish, minio.MakeBucketOptions{Region: b.cfg.Region}); err != nil {
		return fmt.Errorf("make publish bucket: %w", err)
	}
	return nil
}

// Check is a readiness probe: the bucket must exist.
func (b *Bucket) Check(ctx context.Context) error {
	exists, err := b.client.BucketExists(ctx, b.cfg.BucketPublish)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("publish bucket %s missing", b.cfg.BucketPublish)
	}
	return nil
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
}
