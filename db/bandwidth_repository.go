package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrayat000/media-pipeline/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BandwidthRepository stores raw delivery records, hourly buckets and the
// ingestion cursor.
type BandwidthRepository struct {
	db *gorm.DB
}

func NewBandwidthRepository(gormDB *gorm.DB) *BandwidthRepository {
	return &BandwidthRepository{db: gormDB}
}

// RecordBatch inserts raw records and folds each one into its hourly bucket,
// all inside one transaction.
func (r *BandwidthRepository) RecordBatch(ctx context.Context, records []models.BandwidthRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(&records, 500).Error; err != nil {
			return fmt.Errorf("insert bandwidth records: %w", err)
		}
		for _, rec := range records {
			if err := addToBucket(tx, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func bucketKey(tx *gorm.DB, mediaID *string, ip string, sessionID *string, hour time.Time) *gorm.DB {
	q := tx.Model(&models.BandwidthBucket{}).
		Where("ip_address = ?", ip).
		Where(clause.Eq{Column: clause.Column{Name: "hour"}, Value: hour})
	if mediaID == nil {
		q = q.Where("media_id IS NULL")
	} else {
		q = q.Where("media_id = ?", *mediaID)
	}
	if sessionID == nil {
		q = q.Where("session_id IS NULL")
	} else {
		q = q.Where("session_id = ?", *sessionID)
	}
	return q
}

func addToBucket(tx *gorm.DB, rec models.BandwidthRecord) error {
	hour := rec.Hour()

	var bucket models.BandwidthBucket
	err := bucketKey(tx, rec.MediaID, rec.IPAddress, rec.SessionID, hour).First(&bucket).Error
	switch {
	case err == nil:
		err = tx.Model(&bucket).Updates(map[string]any{
			"total_bytes":   gorm.Expr("total_bytes + ?", rec.BytesSent),
			"request_count": gorm.Expr("request_count + ?", 1),
		}).Error
		if err != nil {
			return fmt.Errorf("update bandwidth bucket: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		bucket = models.BandwidthBucket{
			MediaID:      rec.MediaID,
			IPAddress:    rec.IPAddress,
			SessionID:    rec.SessionID,
			Hour:         hour,
			TotalBytes:   rec.BytesSent,
			RequestCount: 1,
		}
		if err := tx.Create(&bucket).Error; err != nil {
			return fmt.Errorf("create bandwidth bucket: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find bandwidth bucket: %w", err)
	}
}

// FindBucket returns the bucket for an exact key, mainly for reporting and tests.
func (r *BandwidthRepository) FindBucket(ctx context.Context, mediaID *string, ip string, sessionID *string, hour time.Time) (*models.BandwidthBucket, error) {
	var bucket models.BandwidthBucket
	err := bucketKey(r.db.WithContext(ctx), mediaID, ip, sessionID, hour.UTC().Truncate(time.Hour)).First(&bucket).Error
	if err != nil {
		return nil, fmt.Errorf("find bucket: %w", notFound(err))
	}
	return &bucket, nil
}

// Summary aggregates buckets whose hour is at or after since.
func (r *BandwidthRepository) Summary(ctx context.Context, since time.Time, limit int) (models.BandwidthSummary, error) {
	since = since.UTC()
	summary := models.BandwidthSummary{
		Since:      since,
		TopClients: []models.ClientUsage{},
		TopMedia:   []models.MediaUsage{},
	}
	base := func() *gorm.DB {
		return r.db.WithContext(ctx).Model(&models.BandwidthBucket{}).
			Where(clause.Gte{Column: clause.Column{Name: "hour"}, Value: since})
	}

	if err := base().Select("COALESCE(SUM(total_bytes), 0)").Scan(&summary.TotalBytes).Error; err != nil {
		return summary, fmt.Errorf("sum bandwidth: %w", err)
	}

	err := base().
		Select("ip_address, SUM(total_bytes) AS total_bytes, SUM(request_count) AS request_count").
		Group("ip_address").
		Order("total_bytes DESC").
		Limit(limit).
		Scan(&summary.TopClients).Error
	if err != nil {
		return summary, fmt.Errorf("bandwidth by ip: %w", err)
	}

	err = base().
		Where("media_id IS NOT NULL").
		Select("media_id, SUM(total_bytes) AS total_bytes, SUM(request_count) AS request_count").
		Group("media_id").
		Order("total_bytes DESC").
		Limit(limit).
		Scan(&summary.TopMedia).Error
	if err != nil {
		return summary, fmt.Errorf("bandwidth by media: %w", err)
	}

	return summary, nil
}

// PurgeRecords deletes raw records older than before. Buckets are kept.
func (r *BandwidthRepository) PurgeRecords(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where(clause.Lt{Column: clause.Column{Name: "timestamp"}, Value: before.UTC()}).
		Delete(&models.BandwidthRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("purge bandwidth records: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// CountRecords returns the number of raw records stored.
func (r *BandwidthRepository) CountRecords(ctx context.Context) (int64, error) {
	return gorm.G[models.BandwidthRecord](r.db).Count(ctx, "*")
}

// GetCursor returns the saved byte offset for name, or 0 when none exists.
func (r *BandwidthRepository) GetCursor(ctx context.Context, name string) (int64, error) {
	cursor, err := gorm.G[models.IngestCursor](r.db).Where("name = ?", name).First(ctx)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get cursor %s: %w", name, err)
	}
	return cursor.Offset, nil
}

// SaveCursor persists the byte offset for name.
func (r *BandwidthRepository) SaveCursor(ctx context.Context, name string, offset int64) error {
	cursor := models.IngestCursor{Name: name, Offset: offset, UpdatedAt: time.Now().UTC()}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"byte_offset", "updated_at"}),
	}).Create(&cursor).Error
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", name, err)
	}
	return nil
}
