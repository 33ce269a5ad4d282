package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/metrics"
	"github.com/devrayat000/media-pipeline/models"
)

var (
	ErrUnsupportedType  = errors.New("unsupported media type")
	ErrTooLarge         = errors.New("upload exceeds size limit")
	ErrNotVideo         = errors.New("media item is not a video")
	ErrInvalidTimestamp = errors.New("timestamp must not be negative")
	ErrSourceMissing    = errors.New("original file not found")
)

var extensions = map[string]models.MediaKind{
	".mp4":  models.KindVideo,
	".avi":  models.KindVideo,
	".mov":  models.KindVideo,
	".mkv":  models.KindVideo,
	".webm": models.KindVideo,
	".mp3":  models.KindAudio,
	".wav":  models.KindAudio,
	".ogg":  models.KindAudio,
	".m4a":  models.KindAudio,
	".flac": models.KindAudio,
}

// KindForFilename classifies an upload by its extension.
func KindForFilename(name string) (models.MediaKind, bool) {
	kind, ok := extensions[strings.ToLower(filepath.Ext(name))]
	return kind, ok
}

type Store interface {
	CreateMedia(ctx context.Context, item *models.MediaItem) error
	GetMedia(ctx context.Context, id string) (*models.MediaItem, error)
	GetMediaWithVariants(ctx context.Context, id string) (*models.MediaItem, error)
	SetStatus(ctx context.Context, id string, status models.MediaStatus, errMsg *string) error
	SetFileSize(ctx context.Context, id string, size int64) error
	SetThumbnail(ctx context.Context, id, path string) error
	DeleteMedia(ctx context.Context, id string) error
	CountByStatus(ctx context.Context) (db.StatusCounts, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, job models.MediaJob) error
}

type Thumbnailer interface {
	FromVideoFrame(ctx context.Context, mediaID, sourcePath string, timestamp, duration *float64) (string, error)
	FromUpload(mediaID string, data []byte, contentType string) (string, error)
	LocalPath(publicPath string) (string, bool)
	IsShared(publicPath string) bool
}

type Options struct {
	MediaRoot      string
	MaxUploadBytes int64
}

// Service is the ingestion boundary: it stores uploads, hands them to the
// queue and performs the explicit per-item edits.
type Service struct {
	store   Store
	queue   Enqueuer
	thumbs  Thumbnailer
	metrics *metrics.Metrics
	opts    Options
	log     *slog.Logger
}

func NewService(store Store, queue Enqueuer, thumbs Thumbnailer, m *metrics.Metrics, opts Options, log *slog.Logger) *Service {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 2 << 30
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, queue: queue, thumbs: thumbs, metrics: m, opts: opts, log: log}
}

// Accept stores body as a new item and enqueues it. Nothing is left behind
// when any step fails.
func (s *Service) Accept(ctx context.Context, filename string, body io.Reader) (*models.MediaItem, error) {
	kind, ok := KindForFilename(filename)
	if !ok {
		s.metrics.IncUploadRejected("unsupported_type")
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, filepath.Ext(filename))
	}

	id := uuid.NewString()
	ext := strings.ToLower(filepath.Ext(filename))
	item := &models.MediaItem{
		ID:               id,
		Filename:         id + ext,
		OriginalFilename: filepath.Base(filename),
		Kind:             kind,
		Status:           models.StatusUploading,
	}
	if err := s.store.CreateMedia(ctx, item); err != nil {
		return nil, err
	}

	dest := filepath.Join(s.opts.MediaRoot, "original", item.Filename)
	fail := func(err error) (*models.MediaItem, error) {
		cleanup := context.WithoutCancel(ctx)
		os.Remove(dest)
		if derr := s.store.DeleteMedia(cleanup, id); derr != nil {
			s.log.Error("failed to remove rejected upload", "media_id", id, "error", derr)
		}
		return nil, err
	}

	size, err := s.write(body, dest)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			s.metrics.IncUploadRejected("too_large")
		}
		return fail(err)
	}
	if err := s.store.SetFileSize(ctx, id, size); err != nil {
		return fail(err)
	}
	if err := s.store.SetStatus(ctx, id, models.StatusProcessing, nil); err != nil {
		return fail(err)
	}
	if err := s.queue.Enqueue(ctx, models.MediaJob{MediaID: id, SourcePath: dest}); err != nil {
		return fail(fmt.Errorf("enqueue %s: %w", id, err))
	}

	item.FileSize = size
	item.Status = models.StatusProcessing
	s.log.Info("upload accepted", "media_id", id, "kind", kind, "bytes", size)
	return item, nil
}

// write streams body to dest, refusing anything over the size limit.
func (s *Service) write(body io.Reader, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create upload dir: %w", err)
	}

	tmp := dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create upload file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(body, s.opts.MaxUploadBytes+1))
	cerr := f.Close()
	if err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("write upload: %w", err)
	}
	if n > s.opts.MaxUploadBytes {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: max %d bytes", ErrTooLarge, s.opts.MaxUploadBytes)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("store upload: %w", err)
	}
	return n, nil
}

// Status returns an item with its variants.
func (s *Service) Status(ctx context.Context, id string) (*models.MediaItem, error) {
	return s.store.GetMediaWithVariants(ctx, id)
}

// Overview summarises the library.
func (s *Service) Overview(ctx context.Context) (db.StatusCounts, error) {
	return s.store.CountByStatus(ctx)
}

// SetThumbnailAt regenerates a video thumbnail from the frame at timestamp.
func (s *Service) SetThumbnailAt(ctx context.Context, id string, timestamp float64) (string, error) {
	if timestamp < 0 {
		return "", ErrInvalidTimestamp
	}
	item, err := s.store.GetMedia(ctx, id)
	if err != nil {
		return "", err
	}
	if item.Kind != models.KindVideo {
		return "", ErrNotVideo
	}
	source, err := s.originalPath(item)
	if err != nil {
		return "", err
	}

	path, err := s.thumbs.FromVideoFrame(ctx, id, source, &timestamp, item.Duration)
	if err != nil {
		return "", err
	}
	if err := s.store.SetThumbnail(ctx, id, path); err != nil {
		return "", err
	}
	return path, nil
}

// SetThumbnailUpload replaces an item's thumbnail with a user-supplied image.
func (s *Service) SetThumbnailUpload(ctx context.Context, id string, data []byte, contentType string) (string, error) {
	if _, err := s.store.GetMedia(ctx, id); err != nil {
		return "", err
	}
	path, err := s.thumbs.FromUpload(id, data, contentType)
	if err != nil {
		return "", err
	}
	if err := s.store.SetThumbnail(ctx, id, path); err != nil {
		return "", err
	}
	return path, nil
}

// Delete removes an item's files and row. The shared audio thumbnail stays.
func (s *Service) Delete(ctx context.Context, id string) error {
	item, err := s.store.GetMedia(ctx, id)
	if err != nil {
		return err
	}
	log := s.log.With("media_id", id)

	if source, err := s.originalPath(item); err == nil {
		if err := os.Remove(source); err != nil {
			log.Warn("error deleting original file", "error", err)
		}
	}
	if err := os.RemoveAll(filepath.Join(s.opts.MediaRoot, "hls", id)); err != nil {
		log.Warn("error deleting HLS directory", "error", err)
	}
	if item.ThumbnailPath != nil && !s.thumbs.IsShared(*item.ThumbnailPath) {
		if local, ok := s.thumbs.LocalPath(*item.ThumbnailPath); ok {
			if err := os.Remove(local); err != nil && !os.IsNotExist(err) {
				log.Warn("error deleting thumbnail", "error", err)
			}
		}
	}

	if err := s.store.DeleteMedia(ctx, id); err != nil {
		return err
	}
	log.Info("media deleted")
	return nil
}

func (s *Service) originalPath(item *models.MediaItem) (string, error) {
	path := filepath.Join(s.opts.MediaRoot, "original", item.Filename)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %s", ErrSourceMissing, item.Filename)
	}
	return path, nil
}
