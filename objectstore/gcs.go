package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"

	"github.com/devrayat000/media-pipeline/config"
)

// GCSPublisher writes to a Google Cloud Storage bucket using application
// default credentials.
type GCSPublisher struct {
	client *storage.Client
	bucket string
}

func NewGCSPublisher(ctx context.Context, cfg config.Config) (*GCSPublisher, error) {
	if cfg.GCSBucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET_NAME must be set")
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCS client: %w", err)
	}
	return &GCSPublisher{client: client, bucket: cfg.GCSBucket}, nil
}

func (p *GCSPublisher) PublishDir(ctx context.Context, localDir, prefix string) error {
	return walkAndPut(ctx, localDir, prefix, p.put)
}

func (p *GCSPublisher) PublishFile(ctx context.Context, localPath, key string) error {
	return p.put(ctx, localPath, key, ContentType(localPath))
}

func (p *GCSPublisher) put(ctx context.Context, localPath, key, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if contentType == "application/vnd.apple.mpegurl" {
		w.CacheControl = "no-cache"
	}
	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func (p *GCSPublisher) Close() error {
	return p.client.Close()
}
