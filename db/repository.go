package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrayat000/media-pipeline/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MediaRepository persists media items and their variants.
type MediaRepository struct {
	db *gorm.DB
}

func NewMediaRepository(gormDB *gorm.DB) *MediaRepository {
	return &MediaRepository{db: gormDB}
}

// Metadata carries the probed attributes of a source file. Nil fields are
// left untouched.
type Metadata struct {
	Duration *float64
	Width    *int
	Height   *int
	Codec    *string
	Bitrate  *int64
}

// StatusCounts is the per-status overview of the library.
type StatusCounts struct {
	Total         int64   `json:"total_media"`
	Videos        int64   `json:"total_videos"`
	Audio         int64   `json:"total_audio"`
	Processing    int64   `json:"processing"`
	Ready         int64   `json:"ready"`
	Failed        int64   `json:"failed"`
	TotalSize     int64   `json:"total_size_bytes"`
	TotalDuration float64 `json:"total_duration_seconds"`
}

// CreateMedia inserts a new media record, assigning an ID when empty.
func (r *MediaRepository) CreateMedia(ctx context.Context, item *models.MediaItem) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if err := gorm.G[models.MediaItem](r.db).Create(ctx, item); err != nil {
		return fmt.Errorf("create media %s: %w", item.ID, err)
	}
	return nil
}

// GetMedia retrieves a media item without its variants.
func (r *MediaRepository) GetMedia(ctx context.Context, id string) (*models.MediaItem, error) {
	item, err := gorm.G[models.MediaItem](r.db).Where("id = ?", id).First(ctx)
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", id, notFound(err))
	}
	return &item, nil
}

// GetMediaWithVariants retrieves a media item and its variants ordered by bitrate.
func (r *MediaRepository) GetMediaWithVariants(ctx context.Context, id string) (*models.MediaItem, error) {
	var item models.MediaItem
	err := r.db.WithContext(ctx).
		Preload("Variants", func(tx *gorm.DB) *gorm.DB { return tx.Order("bitrate DESC") }).
		Where("id = ?", id).
		First(&item).Error
	if err != nil {
		return nil, fmt.Errorf("get media %s: %w", id, notFound(err))
	}
	return &item, nil
}

// SetStatus moves an item to status. A nil errMsg clears any previous error.
func (r *MediaRepository) SetStatus(ctx context.Context, id string, status models.MediaStatus, errMsg *string) error {
	return r.update(ctx, id, map[string]any{
		"status":        status,
		"error_message": errMsg,
	})
}

// SetFileSize records the stored size of the original upload.
func (r *MediaRepository) SetFileSize(ctx context.Context, id string, size int64) error {
	return r.update(ctx, id, map[string]any{"file_size": size})
}

// UpdateMetadata writes whichever probe fields were recovered.
func (r *MediaRepository) UpdateMetadata(ctx context.Context, id string, meta Metadata) error {
	fields := map[string]any{}
	if meta.Duration != nil {
		fields["duration"] = *meta.Duration
	}
	if meta.Width != nil {
		fields["width"] = *meta.Width
	}
	if meta.Height != nil {
		fields["height"] = *meta.Height
	}
	if meta.Codec != nil {
		fields["codec"] = *meta.Codec
	}
	if meta.Bitrate != nil {
		fields["bitrate"] = *meta.Bitrate
	}
	if len(fields) == 0 {
		return nil
	}
	return r.update(ctx, id, fields)
}

// SetThumbnail stores the public thumbnail path of an item.
func (r *MediaRepository) SetThumbnail(ctx context.Context, id, path string) error {
	return r.update(ctx, id, map[string]any{"thumbnail_path": path})
}

// Rename changes the display filename.
func (r *MediaRepository) Rename(ctx context.Context, id, filename string) error {
	return r.update(ctx, id, map[string]any{"original_filename": filename})
}

func (r *MediaRepository) update(ctx context.Context, id string, fields map[string]any) error {
	res := r.db.WithContext(ctx).Model(&models.MediaItem{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update media %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update media %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpsertVariant inserts a variant or overwrites the existing row with the same
// (media, quality) pair, so reprocessing never duplicates quality labels.
func (r *MediaRepository) UpsertVariant(ctx context.Context, v *models.Variant) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "media_id"}, {Name: "quality"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "bitrate", "file_size", "width", "height"}),
	}).Create(v).Error
	if err != nil {
		return fmt.Errorf("upsert variant %s/%s: %w", v.MediaID, v.Quality, err)
	}
	return nil
}

// ListVariants returns every persisted variant of a media item, highest bitrate first.
func (r *MediaRepository) ListVariants(ctx context.Context, mediaID string) ([]models.Variant, error) {
	variants, err := gorm.G[models.Variant](r.db).Where("media_id = ?", mediaID).Order("bitrate DESC").Find(ctx)
	if err != nil {
		return nil, fmt.Errorf("list variants %s: %w", mediaID, err)
	}
	return variants, nil
}

// DeleteVariant removes the (media, quality) row if present.
func (r *MediaRepository) DeleteVariant(ctx context.Context, mediaID, quality string) error {
	err := r.db.WithContext(ctx).Where("media_id = ? AND quality = ?", mediaID, quality).Delete(&models.Variant{}).Error
	if err != nil {
		return fmt.Errorf("delete variant %s/%s: %w", mediaID, quality, err)
	}
	return nil
}

// DeleteMedia removes an item together with its variants.
func (r *MediaRepository) DeleteMedia(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("media_id = ?", id).Delete(&models.Variant{}).Error; err != nil {
			return fmt.Errorf("delete variants %s: %w", id, err)
		}
		res := tx.Where("id = ?", id).Delete(&models.MediaItem{})
		if res.Error != nil {
			return fmt.Errorf("delete media %s: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("delete media %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

// CountByStatus summarises the library.
func (r *MediaRepository) CountByStatus(ctx context.Context) (StatusCounts, error) {
	var counts StatusCounts
	var rows []struct {
		Kind   models.MediaKind
		Status models.MediaStatus
		N      int64
		Size   int64
		Secs   float64
	}
	err := r.db.WithContext(ctx).Model(&models.MediaItem{}).
		Select("media_type AS kind, status, COUNT(*) AS n, COALESCE(SUM(file_size), 0) AS size, COALESCE(SUM(duration), 0) AS secs").
		Group("media_type, status").
		Scan(&rows).Error
	if err != nil {
		return counts, fmt.Errorf("count media: %w", err)
	}
	for _, row := range rows {
		counts.Total += row.N
		counts.TotalSize += row.Size
		counts.TotalDuration += row.Secs
		switch row.Kind {
		case models.KindVideo:
			counts.Videos += row.N
		case models.KindAudio:
			counts.Audio += row.N
		}
		switch row.Status {
		case models.StatusProcessing:
			counts.Processing += row.N
		case models.StatusReady:
			counts.Ready += row.N
		case models.StatusFailed:
			counts.Failed += row.N
		}
	}
	return counts, nil
}

// IsNotFound reports whether err came from a lookup that matched nothing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
