package bandwidth

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/devrayat000/media-pipeline/metrics"
)

// CursorName keys the persisted cursor for the access log.
const CursorName = "nginx-bandwidth"

type TrackerOptions struct {
	LogPath   string
	Interval  time.Duration
	Retention time.Duration
}

// Tracker runs ingestion on a ticker, waking early when the log is written.
// The cursor lives in the store and is saved only after its records commit.
type Tracker struct {
	ingestor   *Ingestor
	aggregator *Aggregator
	store      Store
	metrics    *metrics.Metrics
	opts       TrackerOptions
	log        *slog.Logger
}

func NewTracker(ingestor *Ingestor, aggregator *Aggregator, store Store, m *metrics.Metrics, opts TrackerOptions, log *slog.Logger) *Tracker {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{ingestor: ingestor, aggregator: aggregator, store: store, metrics: m, opts: opts, log: log}
}

// RunOnce drains the log from the stored cursor and returns how many records
// were committed.
func (t *Tracker) RunOnce(ctx context.Context) (int, error) {
	cursor, err := t.store.GetCursor(ctx, CursorName)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}

	total := 0
	for {
		batch, err := t.ingestor.Ingest(t.opts.LogPath, cursor)
		if err != nil {
			return total, err
		}
		if batch.Cursor == cursor && len(batch.Records) == 0 {
			return total, nil
		}

		if err := t.aggregator.Record(ctx, batch.Records); err != nil {
			return total, fmt.Errorf("record batch: %w", err)
		}
		if err := t.store.SaveCursor(ctx, CursorName, batch.Cursor); err != nil {
			return total, fmt.Errorf("save cursor: %w", err)
		}
		t.metrics.ObserveIngest(len(batch.Records), batch.Skipped, batch.Bytes())
		total += len(batch.Records)
		cursor = batch.Cursor

		if !batch.More {
			return total, nil
		}
	}
}

// Run blocks until ctx is done.
func (t *Tracker) Run(ctx context.Context) error {
	wake := t.watch(ctx)
	ticker := time.NewTicker(t.opts.Interval)
	defer ticker.Stop()

	t.tick(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.tick(ctx, true)
		case <-wake:
			t.tick(ctx, false)
		}
	}
}

func (t *Tracker) tick(ctx context.Context, purge bool) {
	n, err := t.RunOnce(ctx)
	if err != nil {
		t.log.Error("bandwidth ingestion failed", "error", err)
	} else if n > 0 {
		t.log.Info("processed bandwidth log entries", "count", n)
	}

	if !purge || t.opts.Retention <= 0 {
		return
	}
	deleted, err := t.aggregator.Purge(ctx, t.opts.Retention)
	if err != nil {
		t.log.Error("bandwidth purge failed", "error", err)
	} else if deleted > 0 {
		t.log.Info("cleaned up old bandwidth log entries", "count", deleted)
	}
}

// watch signals on writes to the log file. The parent directory is watched so
// rotation and late creation are seen. Without a watcher only the ticker runs.
func (t *Tracker) watch(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.log.Warn("file watcher unavailable, polling only", "error", err)
		return wake
	}
	dir := filepath.Dir(t.opts.LogPath)
	if err := watcher.Add(dir); err != nil {
		t.log.Warn("cannot watch bandwidth log directory, polling only", "dir", dir, "error", err)
		watcher.Close()
		return wake
	}

	target := filepath.Clean(t.opts.LogPath)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				t.log.Warn("file watcher error", "error", err)
			}
		}
	}()
	return wake
}
