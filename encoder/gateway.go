package encoder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Artifact describes the files produced for one rendition.
type Artifact struct {
	Quality         string
	PlaylistPath    string
	Dir             string
	Size            int64
	DeclaredBitrate int
	Width           int
	Height          int
}

// Gateway invokes ffmpeg for individual renditions.
type Gateway struct {
	runner     Runner
	ffmpegPath string
	log        *slog.Logger
	observe    func(quality string, d time.Duration, err error)
}

// NewGateway returns a Gateway. observe may be nil.
func NewGateway(runner Runner, ffmpegPath string, log *slog.Logger, observe func(string, time.Duration, error)) *Gateway {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{runner: runner, ffmpegPath: ffmpegPath, log: log, observe: observe}
}

// Encode transcodes source into outputDir for spec. Any tool failure is
// returned as an error and outputDir is removed, so a partial rendition is
// never left behind; nothing is retried.
func (g *Gateway) Encode(ctx context.Context, source string, spec Spec, outputDir string) (Artifact, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create variant dir: %w", err)
	}

	start := time.Now()
	_, err := g.runner.Run(ctx, g.ffmpegPath, ParamsFor(spec).Args(source, outputDir)...)
	if g.observe != nil {
		g.observe(spec.Quality, time.Since(start), err)
	}
	if err != nil {
		g.discard(outputDir)
		return Artifact{}, fmt.Errorf("encode %s: %w", spec.Quality, err)
	}

	playlist := filepath.Join(outputDir, PlaylistName)
	if _, err := os.Stat(playlist); err != nil {
		g.discard(outputDir)
		return Artifact{}, fmt.Errorf("encode %s: playlist missing: %w", spec.Quality, err)
	}

	size, err := DirSize(outputDir)
	if err != nil {
		return Artifact{}, fmt.Errorf("measure %s: %w", spec.Quality, err)
	}

	g.log.Debug("variant encoded", "quality", spec.Quality, "bytes", size, "elapsed", time.Since(start))

	return Artifact{
		Quality:         spec.Quality,
		PlaylistPath:    playlist,
		Dir:             outputDir,
		Size:            size,
		DeclaredBitrate: spec.DeclaredBitrate(),
		Width:           spec.Width(),
		Height:          spec.Height,
	}, nil
}

func (g *Gateway) discard(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		g.log.Warn("failed to remove partial rendition", "dir", dir, "error", err)
	}
}

// DirSize sums the sizes of the regular files directly inside dir.
func DirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}
