package bandwidth

import (
	"context"
	"time"

	"github.com/devrayat000/media-pipeline/models"
)

// TopN bounds the client and media rankings in a summary.
const TopN = 10

// Store is the bucket persistence. *db.BandwidthRepository satisfies it.
type Store interface {
	RecordBatch(ctx context.Context, records []models.BandwidthRecord) error
	Summary(ctx context.Context, since time.Time, limit int) (models.BandwidthSummary, error)
	PurgeRecords(ctx context.Context, before time.Time) (int64, error)
	GetCursor(ctx context.Context, name string) (int64, error)
	SaveCursor(ctx context.Context, name string, offset int64) error
}

// Aggregator folds raw delivery records into hourly buckets and answers
// summary queries over them.
type Aggregator struct {
	store Store
	now   func() time.Time
}

func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store, now: time.Now}
}

// Record stores raw records and adds them to their buckets in one transaction.
func (a *Aggregator) Record(ctx context.Context, records []models.BandwidthRecord) error {
	if len(records) == 0 {
		return nil
	}
	return a.store.RecordBatch(ctx, records)
}

// Summarize reports totals over buckets whose hour is within the window.
func (a *Aggregator) Summarize(ctx context.Context, window time.Duration) (models.BandwidthSummary, error) {
	return a.store.Summary(ctx, a.now().UTC().Add(-window), TopN)
}

// Purge deletes raw records older than the retention. Buckets are kept.
func (a *Aggregator) Purge(ctx context.Context, olderThan time.Duration) (int64, error) {
	return a.store.PurgeRecords(ctx, a.now().UTC().Add(-olderThan))
}
