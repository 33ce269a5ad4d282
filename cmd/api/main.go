package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrayat000/media-pipeline/api"
	"github.com/devrayat000/media-pipeline/bandwidth"
	"github.com/devrayat000/media-pipeline/config"
	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/encoder"
	"github.com/devrayat000/media-pipeline/logger"
	"github.com/devrayat000/media-pipeline/metrics"
	"github.com/devrayat000/media-pipeline/pubsub"
	"github.com/devrayat000/media-pipeline/thumbnail"
	"github.com/devrayat000/media-pipeline/upload"
)

const (
	shutdownTimeout  = 10 * time.Second
	thumbnailTimeout = time.Minute
)

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

	met := metrics.New()
	thumbs := thumbnail.NewGenerator(encoder.NewCommandRunner(thumbnailTimeout), thumbnail.Options{
		MediaRoot:    cfg.MediaRoot,
		PublicPrefix: cfg.PublicPrefix,
		FFmpegPath:   cfg.FFmpegPath,
		AudioAsset:   cfg.AudioThumbnailAsset,
		MaxBytes:     cfg.MaxThumbnailBytes,
	}, logger.WithComponent(log, "thumbnail"))

	svc := upload.NewService(db.NewMediaRepository(gormDB), queue, thumbs, met, upload.Options{
		MediaRoot:      cfg.MediaRoot,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger.WithComponent(log, "upload"))

	h := api.NewHandler(
		svc,
		bandwidth.NewAggregator(db.NewBandwidthRepository(gormDB)),
		pubsub.NewNotifier(rdb, logger.WithComponent(log, "notifier")),
		met,
		api.Options{MaxThumbnailBytes: cfg.MaxThumbnailBytes},
		logger.WithComponent(log, "http"),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(h, log, met),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"addr", cfg.HTTPAddr,
		"queue", cfg.QueueBackend,
		"media_root", cfg.MediaRoot,
		"log_level", cfg.LogLevel,
	)

	<-ctx.Done()
	log.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
