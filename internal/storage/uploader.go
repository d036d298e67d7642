// Package storage uploads finished export files to an S3-compatible bucket.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"buildguard-desktop/internal/config"
)

// Uploader copies local export files into one bucket
type Uploader struct {
	client *minio.Client
	bucket string
	prefix string
	now    func() time.Time
}

// NewUploader creates an uploader for the configured bucket
func NewUploader(cfg config.StorageConfig) (*Uploader, error) {
	endpoint, err := cleanEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket is required")
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, err
	}

	return &Uploader{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
		now:    time.Now,
	}, nil
}

// Upload puts the file at localPath into the bucket and returns its
// location as s3://bucket/key
func (u *Uploader) Upload(ctx context.Context, localPath string) (string, error) {
	key := ObjectKey(u.prefix, filepath.Base(localPath), u.now())

	info, err := u.client.FPutObject(ctx, u.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType(localPath),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", filepath.Base(localPath), err)
	}

	zap.S().Infof("Uploaded %s to s3://%s/%s (%d bytes)", localPath, u.bucket, key, info.Size)
	return "s3://" + u.bucket + "/" + key, nil
}

// ObjectKey places a file under prefix/YYYY/MM/DD/
func ObjectKey(prefix, filename string, at time.Time) string {
	return path.Join(prefix, at.UTC().Format("2006/01/02"), filename)
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return "text/csv"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// cleanEndpoint reduces a URL to the host:port form minio expects
func cleanEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("endpoint cannot be empty")
	}

	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if strings.Contains(endpoint, "/") {
			return "", fmt.Errorf("endpoint contains path but no protocol")
		}
		return endpoint, nil
	}

	parsed, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse endpoint URL: %w", err)
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", fmt.Errorf("endpoint URL cannot have a path (got %s)", parsed.Path)
	}
	return parsed.Host, nil
}
