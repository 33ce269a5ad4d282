package objectstore

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/devrayat000/media-pipeline/config"
)

// Publisher mirrors local media artifacts to an object store.
type Publisher interface {
	PublishDir(ctx context.Context, localDir, prefix string) error
	PublishFile(ctx context.Context, localPath, key string) error
}

// NewPublisher builds the configured publisher. It returns nil, nil when
// mirroring is disabled.
func NewPublisher(ctx context.Context, cfg config.Config) (Publisher, error) {
	switch strings.ToLower(cfg.ObjectStore) {
	case "", "none":
		return nil, nil
	case "minio", "s3":
		p, err := NewMinioPublisher(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "gcs":
		p, err := NewGCSPublisher(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown object store %q", cfg.ObjectStore)
	}
}

// ContentType maps HLS artifact extensions to their MIME types.
func ContentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

type putFunc func(ctx context.Context, localPath, key, contentType string) error

// walkAndPut uploads every regular file under localDir with keys rooted at
// prefix. Playlists go last so a reader never sees a manifest before its
// segments.
func walkAndPut(ctx context.Context, localDir, prefix string, put putFunc) error {
	var files, playlists []string
	err := filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		if strings.EqualFold(filepath.Ext(p), ".m3u8") {
			playlists = append(playlists, p)
		} else {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk %s: %w", localDir, err)
	}

	for _, p := range append(files, playlists...) {
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		key := path.Join(prefix, filepath.ToSlash(rel))
		if err := put(ctx, p, key, ContentType(p)); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
	}
	return nil
}
