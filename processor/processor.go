package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/encoder"
	"github.com/devrayat000/media-pipeline/metrics"
	"github.com/devrayat000/media-pipeline/models"
	"github.com/devrayat000/media-pipeline/objectstore"
	"github.com/devrayat000/media-pipeline/playlist"
	"github.com/devrayat000/media-pipeline/probe"
)

var (
	ErrUnknownKind   = errors.New("unknown media kind")
	ErrSourceMissing = errors.New("source file missing")
)

const maxErrorMessage = 500

// Store is the persistence the processor needs. *db.MediaRepository satisfies it.
type Store interface {
	GetMedia(ctx context.Context, id string) (*models.MediaItem, error)
	SetStatus(ctx context.Context, id string, status models.MediaStatus, errMsg *string) error
	UpdateMetadata(ctx context.Context, id string, meta db.Metadata) error
	SetThumbnail(ctx context.Context, id, path string) error
	UpsertVariant(ctx context.Context, v *models.Variant) error
	DeleteVariant(ctx context.Context, mediaID, quality string) error
	ListVariants(ctx context.Context, mediaID string) ([]models.Variant, error)
}

type Prober interface {
	Probe(ctx context.Context, path string) (probe.Info, error)
}

type Encoder interface {
	Encode(ctx context.Context, source string, spec encoder.Spec, outputDir string) (encoder.Artifact, error)
}

type Thumbnailer interface {
	FromVideoFrame(ctx context.Context, mediaID, sourcePath string, timestamp, duration *float64) (string, error)
	SharedAudioDefault() (string, error)
	LocalPath(publicPath string) (string, bool)
}

// Notifier receives best-effort status pushes.
type Notifier interface {
	PublishStatus(ctx context.Context, event models.StatusEvent) error
}

type Options struct {
	MediaRoot         string
	PublicPrefix      string
	EncodeConcurrency int
}

type Processor struct {
	store     Store
	prober    Prober
	encoder   Encoder
	thumbs    Thumbnailer
	notifier  Notifier
	publisher objectstore.Publisher
	metrics   *metrics.Metrics
	opts      Options
	log       *slog.Logger

	pipelines map[models.MediaKind]Pipeline
}

// New wires a Processor. notifier, publisher and m may be nil.
func New(store Store, prober Prober, enc Encoder, thumbs Thumbnailer, notifier Notifier, publisher objectstore.Publisher, m *metrics.Metrics, opts Options, log *slog.Logger) *Processor {
	if opts.EncodeConcurrency < 1 {
		opts.EncodeConcurrency = 1
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/media"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		store:     store,
		prober:    prober,
		encoder:   enc,
		thumbs:    thumbs,
		notifier:  notifier,
		publisher: publisher,
		metrics:   m,
		opts:      opts,
		log:       log,
		pipelines: map[models.MediaKind]Pipeline{
			models.KindVideo: videoPipeline{thumbs: thumbs},
			models.KindAudio: audioPipeline{thumbs: thumbs},
		},
	}
}

// Process drives one media item to a terminal status. A non-nil error means
// the outcome could not be recorded and the job should be redelivered.
func (p *Processor) Process(ctx context.Context, job models.MediaJob) (models.MediaStatus, error) {
	start := time.Now()
	log := p.log.With("media_id", job.MediaID)

	variants, err := p.run(ctx, log, job)
	if err == nil {
		p.metrics.ObserveJob(string(models.StatusReady), time.Since(start))
		p.notify(ctx, models.StatusEvent{MediaID: job.MediaID, Status: models.StatusReady, Variants: variants})
		log.Info("media ready", "variants", variants, "elapsed", time.Since(start))
		return models.StatusReady, nil
	}

	if ctx.Err() != nil {
		// Shutting down: leave the item in processing for redelivery.
		return models.StatusProcessing, fmt.Errorf("process %s: %w", job.MediaID, ctx.Err())
	}

	log.Error("media processing failed", "error", err)
	msg := truncate(err.Error(), maxErrorMessage)
	if serr := p.store.SetStatus(ctx, job.MediaID, models.StatusFailed, &msg); serr != nil {
		if errors.Is(serr, db.ErrNotFound) {
			return models.StatusFailed, nil
		}
		return models.StatusProcessing, fmt.Errorf("record failure for %s: %w", job.MediaID, serr)
	}
	p.metrics.ObserveJob(string(models.StatusFailed), time.Since(start))
	p.notify(ctx, models.StatusEvent{MediaID: job.MediaID, Status: models.StatusFailed, Message: msg})
	return models.StatusFailed, nil
}

// run executes the steps. Only job-fatal errors are returned.
func (p *Processor) run(ctx context.Context, log *slog.Logger, job models.MediaJob) (int, error) {
	item, err := p.store.GetMedia(ctx, job.MediaID)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrSourceMissing, err)
	}
	pipeline, ok := p.pipelines[item.Kind]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, item.Kind)
	}
	log = log.With("kind", pipeline.Kind())

	// Status only moves forward; a redelivered job for a finished item keeps
	// its terminal status until the new outcome is written.
	switch {
	case item.Status == models.StatusUploading:
		if err := p.store.SetStatus(ctx, item.ID, models.StatusProcessing, nil); err != nil {
			return 0, err
		}
		p.notify(ctx, models.StatusEvent{MediaID: item.ID, Status: models.StatusProcessing, Message: "processing started"})
	case item.Status.IsTerminal():
		log.Info("reprocessing finished item", "status", item.Status)
	default:
		p.notify(ctx, models.StatusEvent{MediaID: item.ID, Status: models.StatusProcessing, Message: "processing started"})
	}

	if err := p.probe(ctx, log, item, job.SourcePath); err != nil {
		return 0, err
	}

	if err := p.encodeAll(ctx, log, item, pipeline.Plan(item), job.SourcePath); err != nil {
		return 0, err
	}

	variants, err := p.store.ListVariants(ctx, item.ID)
	if err != nil {
		return 0, err
	}

	hlsDir := filepath.Join(p.opts.MediaRoot, "hls", item.ID)
	if len(variants) == 0 {
		log.Warn("no variants produced, skipping playlist")
	} else if _, err := playlist.Synthesize(hlsDir, variants); err != nil {
		log.Warn("playlist synthesis failed", "error", err)
	} else if p.publisher != nil {
		if err := p.publisher.PublishDir(ctx, hlsDir, "hls/"+item.ID); err != nil {
			log.Warn("object store mirror failed", "error", err)
		}
	}

	thumb, err := pipeline.Thumbnail(ctx, item, job.SourcePath)
	if err != nil {
		log.Warn("thumbnail generation failed", "error", err)
	} else {
		if err := p.store.SetThumbnail(ctx, item.ID, thumb); err != nil {
			return 0, err
		}
		p.mirrorThumbnail(ctx, log, thumb)
	}

	if err := p.store.SetStatus(ctx, item.ID, models.StatusReady, nil); err != nil {
		return 0, err
	}
	return len(variants), nil
}

// probe records whatever metadata the source yields. Probe failures are
// logged and never fatal.
func (p *Processor) probe(ctx context.Context, log *slog.Logger, item *models.MediaItem, sourcePath string) error {
	info, err := p.prober.Probe(ctx, sourcePath)
	if err != nil {
		log.Warn("probe failed, continuing with partial metadata", "error", err)
	}
	if info.Empty() {
		return nil
	}

	if err := p.store.UpdateMetadata(ctx, item.ID, db.Metadata{
		Duration: info.Duration,
		Width:    info.Width,
		Height:   info.Height,
		Codec:    info.Codec,
		Bitrate:  info.Bitrate,
	}); err != nil {
		return err
	}

	if info.Duration != nil {
		item.Duration = info.Duration
	}
	if info.Width != nil {
		item.Width = info.Width
	}
	if info.Height != nil {
		item.Height = info.Height
	}
	if info.Codec != nil {
		item.Codec = info.Codec
	}
	if info.Bitrate != nil {
		item.Bitrate = info.Bitrate
	}
	return nil
}

// encodeAll attempts every planned rendition. Encode failures only drop that
// rendition; a failed variant write aborts the job.
func (p *Processor) encodeAll(ctx context.Context, log *slog.Logger, item *models.MediaItem, ladder []encoder.Spec, sourcePath string) error {
	log.Info("encoding variants", "planned", len(ladder))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.EncodeConcurrency)

	for _, spec := range ladder {
		g.Go(func() error {
			outDir := filepath.Join(p.opts.MediaRoot, "hls", item.ID, spec.Quality)
			art, err := p.encoder.Encode(gctx, sourcePath, spec, outDir)
			if err != nil {
				log.Warn("variant encode failed", "quality", spec.Quality, "error", err)
				// A row left by an earlier run no longer has output behind it.
				return p.store.DeleteVariant(gctx, item.ID, spec.Quality)
			}

			v := &models.Variant{
				MediaID:  item.ID,
				Quality:  spec.Quality,
				Path:     p.variantPath(item.ID, spec.Quality),
				Bitrate:  art.DeclaredBitrate,
				FileSize: art.Size,
			}
			if art.Width > 0 && art.Height > 0 {
				w, h := art.Width, art.Height
				v.Width, v.Height = &w, &h
			}
			if err := p.store.UpsertVariant(gctx, v); err != nil {
				return err
			}
			log.Info("variant ready", "quality", spec.Quality, "bytes", art.Size)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) variantPath(mediaID, quality string) string {
	return strings.TrimSuffix(p.opts.PublicPrefix, "/") + "/hls/" + mediaID + "/" + quality + "/" + encoder.PlaylistName
}

func (p *Processor) mirrorThumbnail(ctx context.Context, log *slog.Logger, publicPath string) {
	if p.publisher == nil {
		return
	}
	local, ok := p.thumbs.LocalPath(publicPath)
	if !ok {
		return
	}
	if err := p.publisher.PublishFile(ctx, local, "thumbnails/"+filepath.Base(local)); err != nil {
		log.Warn("thumbnail mirror failed", "error", err)
	}
}

func (p *Processor) notify(ctx context.Context, event models.StatusEvent) {
	if p.notifier == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := p.notifier.PublishStatus(ctx, event); err != nil {
		p.log.Warn("status notification failed", "media_id", event.MediaID, "status", event.Status, "error", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
