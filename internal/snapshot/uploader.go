// Package snapshot publishes consistent copies of the vector index to
// S3-compatible storage. When no bucket is configured the NoopUploader is
// used and every operation is skipped, keeping the index local-only.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/hyperengineering/librarian/internal/config"
)

// ErrNotConfigured is returned when S3 snapshot storage is not configured.
var ErrNotConfigured = errors.New("snapshot storage not configured")

// Uploader uploads index snapshots and generates pre-signed download URLs.
type Uploader interface {
	// Upload stores the snapshot at filePath as both the generation's object
	// and the collection's current object. It returns the current object key.
	Upload(ctx context.Context, collection, generation, filePath string) (string, error)

	// PresignedURL returns a pre-signed URL for the current snapshot.
	// Returns ErrNotConfigured when S3 is not configured.
	PresignedURL(ctx context.Context, collection string) (url string, expiry time.Time, err error)
}

// s3Client defines the minimal minio.Client operations used by S3Uploader.
type s3Client interface {
	FPutObject(ctx context.Context, bucket, objectName, filePath string) error
	PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error)
}

// minioClientWrapper wraps *minio.Client to satisfy the s3Client interface.
type minioClientWrapper struct {
	client *minio.Client
}

func (w *minioClientWrapper) FPutObject(ctx context.Context, bucket, objectName, filePath string) error {
	_, err := w.client.FPutObject(ctx, bucket, objectName, filePath, minio.PutObjectOptions{
		ContentType: "application/vnd.sqlite3",
	})
	return err
}

func (w *minioClientWrapper) PresignedGetObject(ctx context.Context, bucket, objectName string, expiry time.Duration) (*url.URL, error) {
	return w.client.PresignedGetObject(ctx, bucket, objectName, expiry, nil)
}

// S3Uploader uploads snapshots to S3-compatible storage.
type S3Uploader struct {
	client    s3Client
	bucket    string
	prefix    string
	urlExpiry time.Duration
}

// Upload implements Uploader.
func (u *S3Uploader) Upload(ctx context.Context, collection, generation, filePath string) (string, error) {
	genKey := generationKey(u.prefix, collection, generation)
	if err := u.client.FPutObject(ctx, u.bucket, genKey, filePath); err != nil {
		return "", fmt.Errorf("upload snapshot to S3: %w", err)
	}

	key := currentKey(u.prefix, collection)
	if err := u.client.FPutObject(ctx, u.bucket, key, filePath); err != nil {
		return "", fmt.Errorf("upload current snapshot to S3: %w", err)
	}
	return key, nil
}

// PresignedURL returns a pre-signed GET URL for the current snapshot.
func (u *S3Uploader) PresignedURL(ctx context.Context, collection string) (string, time.Time, error) {
	presigned, err := u.client.PresignedGetObject(ctx, u.bucket, currentKey(u.prefix, collection), u.urlExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate pre-signed URL: %w", err)
	}
	return presigned.String(), time.Now().Add(u.urlExpiry), nil
}

// NoopUploader is used when S3 storage is not configured.
type NoopUploader struct{}

// Upload is a no-op when S3 is not configured.
func (u *NoopUploader) Upload(ctx context.Context, collection, generation, filePath string) (string, error) {
	return "", nil
}

// PresignedURL returns ErrNotConfigured when S3 is not configured.
func (u *NoopUploader) PresignedURL(ctx context.Context, collection string) (string, time.Time, error) {
	return "", time.Time{}, ErrNotConfigured
}

// NewUploader creates the appropriate Uploader based on configuration.
// Returns NoopUploader when bucket is empty, S3Uploader otherwise.
func NewUploader(cfg config.SnapshotConfig) (Uploader, error) {
	if cfg.Bucket == "" {
		return &NoopUploader{}, nil
	}

	useSSL := true
	if cfg.UseSSL != nil {
		useSSL = *cfg.UseSSL
	}
	endpoint := stripScheme(cfg.Endpoint, &useSSL)

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create S3 client: %w", err)
	}

	return &S3Uploader{
		client:    &minioClientWrapper{client: client},
		bucket:    cfg.Bucket,
		prefix:    cfg.Prefix,
		urlExpiry: time.Duration(cfg.URLExpiry),
	}, nil
}

// stripScheme removes an http:// or https:// prefix from endpoint, which
// minio expects as host[:port]. An explicit scheme decides useSSL.
func stripScheme(endpoint string, useSSL *bool) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		*useSSL = true
		return strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		*useSSL = false
		return strings.TrimPrefix(endpoint, "http://")
	default:
		return endpoint
	}
}

// currentKey is {prefix}/{collection}/snapshot/current.db.
func currentKey(prefix, collection string) string {
	return path.Join(prefix, collection, "snapshot", "current.db")
}

// generationKey is {prefix}/{collection}/snapshot/{generation}.db.
func generationKey(prefix, collection, generation string) string {
	return path.Join(prefix, collection, "snapshot", generation+".db")
}

// Snapshotter writes a consistent copy of the index to a file.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Publish snapshots the index into a temporary file and uploads it. With a
// NoopUploader nothing is written. It returns the current object key.
func Publish(ctx context.Context, idx Snapshotter, uploader Uploader, collection, generation string) (string, error) {
	if _, ok := uploader.(*NoopUploader); ok {
		return "", nil
	}

	dir, err := os.MkdirTemp("", "librarian-snapshot-")
	if err != nil {
		return "", fmt.Errorf("create snapshot directory: %w", err)
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, generation+".db")
	if err := idx.Snapshot(ctx, file); err != nil {
		return "", fmt.Errorf("snapshot index: %w", err)
	}

	key, err := uploader.Upload(ctx, collection, generation, file)
	if err != nil {
		return "", err
	}

	slog.Info("index snapshot published",
		"component", "snapshot",
		"collection", collection,
		"generation", generation,
		"key", key,
	)
	return key, nil
}
