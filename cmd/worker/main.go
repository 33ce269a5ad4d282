package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/devrayat000/media-pipeline/bandwidth"
	"github.com/devrayat000/media-pipeline/config"
	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/encoder"
	"github.com/devrayat000/media-pipeline/logger"
	"github.com/devrayat000/media-pipeline/metrics"
	"github.com/devrayat000/media-pipeline/models"
	"github.com/devrayat000/media-pipeline/objectstore"
	"github.com/devrayat000/media-pipeline/probe"
	"github.com/devrayat000/media-pipeline/processor"
	"github.com/devrayat000/media-pipeline/pubsub"
	"github.com/devrayat000/media-pipeline/thumbnail"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.InitDB(cfg, log)
	if err != nil {
		log.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}

	rdb, err := pubsub.NewRedisClient(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize Redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	queue, err := pubsub.NewQueue(ctx, cfg, rdb, logger.WithComponent(log, "queue"))
	if err != nil {
		log.Error("failed to initialize job queue", "backend", cfg.QueueBackend, "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	publisher, err := objectstore.NewPublisher(ctx, cfg)
	if err != nil {
		log.Error("failed to initialize object store", "backend", cfg.ObjectStore, "error", err)
		os.Exit(1)
	}
	if c, ok := publisher.(io.Closer); ok {
		defer c.Close()
	}

	met := metrics.New()
	runner := encoder.NewCommandRunner(cfg.EncodeTimeout)
	gateway := encoder.NewGateway(runner, cfg.FFmpegPath, logger.WithComponent(log, "encoder"), met.ObserveEncode)
	thumbs := thumbnail.NewGenerator(runner, thumbnail.Options{
		MediaRoot:    cfg.MediaRoot,
		PublicPrefix: cfg.PublicPrefix,
		FFmpegPath:   cfg.FFmpegPath,
		AudioAsset:   cfg.AudioThumbnailAsset,
		MaxBytes:     cfg.MaxThumbnailBytes,
	}, logger.WithComponent(log, "thumbnail"))

	mediaRepo := db.NewMediaRepository(gormDB)
	proc := processor.New(
		mediaRepo,
		probe.NewProber(runner, cfg.FFprobePath),
		gateway,
		thumbs,
		pubsub.NewNotifier(rdb, logger.WithComponent(log, "notifier")),
		publisher,
		met,
		processor.Options{
			MediaRoot:         cfg.MediaRoot,
			PublicPrefix:      cfg.PublicPrefix,
			EncodeConcurrency: cfg.EncodeConcurrency,
		},
		logger.WithComponent(log, "processor"),
	)

	bandwidthRepo := db.NewBandwidthRepository(gormDB)
	tracker := bandwidth.NewTracker(
		bandwidth.NewIngestor(logger.WithComponent(log, "ingestor")),
		bandwidth.NewAggregator(bandwidthRepo),
		bandwidthRepo,
		met,
		bandwidth.TrackerOptions{
			LogPath:   cfg.BandwidthLogPath,
			Interval:  cfg.BandwidthInterval,
			Retention: cfg.BandwidthRetention,
		},
		logger.WithComponent(log, "bandwidth"),
	)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: met.Handler()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})
	if cfg.BandwidthLogPath != "" {
		g.Go(func() error { return tracker.Run(gctx) })
	}
	g.Go(func() error {
		return queue.Consume(gctx, func(ctx context.Context, job models.MediaJob) error {
			log.Info("received job", "media_id", job.MediaID, "source", job.SourcePath)
			status, err := proc.Process(ctx, job)
			if err != nil {
				log.Error("job left for redelivery", "media_id", job.MediaID, "error", err)
				return err
			}
			log.Info("job finished", "media_id", job.MediaID, "status", status)
			return nil
		})
	})

	log.Info("worker started",
		"queue", cfg.QueueBackend,
		"consumer", cfg.ConsumerName,
		"encode_concurrency", cfg.EncodeConcurrency,
		"metrics_addr", cfg.MetricsAddr,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("worker error", "error", err)
		os.Exit(1)
	}
	log.Info("worker stopped gracefully")
}
