package objectstore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/devrayat000/media-pipeline/config"
)

// MinioPublisher writes to an S3-compatible bucket.
type MinioPublisher struct {
	client *minio.Client
	bucket string
}

func NewMinioPublisher(cfg config.Config) (*MinioPublisher, error) {
	if cfg.S3Endpoint == "" || cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_ENDPOINT and S3_BUCKET must be set")
	}

	client, err := minio.New(cfg.S3Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		Secure: cfg.S3UseSSL,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 128,
			IdleConnTimeout:     90 * time.Second,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MinIO: %w", err)
	}
	return &MinioPublisher{client: client, bucket: cfg.S3Bucket}, nil
}

func (p *MinioPublisher) PublishDir(ctx context.Context, localDir, prefix string) error {
	return walkAndPut(ctx, localDir, prefix, p.put)
}

func (p *MinioPublisher) PublishFile(ctx context.Context, localPath, key string) error {
	return p.put(ctx, localPath, key, ContentType(localPath))
}

func (p *MinioPublisher) put(ctx context.Context, localPath, key, contentType string) error {
	_, err := p.client.FPutObject(ctx, p.bucket, key, localPath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
