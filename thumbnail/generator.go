package thumbnail

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/devrayat000/media-pipeline/encoder"
)

const (
	MaxWidth    = 640
	MaxHeight   = 360
	JPEGQuality = 85

	// AudioDefaultName is the file shared by every audio item.
	AudioDefaultName = "audio-default.jpg"

	dirName = "thumbnails"
)

var (
	ErrUnsupportedType = errors.New("unsupported image type")
	ErrTooLarge        = errors.New("image exceeds size limit")
	ErrDecode          = errors.New("image could not be decoded")
	ErrNoFrame         = errors.New("no frame extracted")
)

type Options struct {
	MediaRoot    string
	PublicPrefix string
	FFmpegPath   string
	// AudioAsset is the source image copied into place as the shared audio thumbnail.
	AudioAsset string
	MaxBytes   int64
}

// Generator derives thumbnails under {MediaRoot}/thumbnails and returns their
// public paths.
type Generator struct {
	runner encoder.Runner
	opts   Options
	log    *slog.Logger

	audioMu sync.Mutex
}

func NewGenerator(runner encoder.Runner, opts Options, log *slog.Logger) *Generator {
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.PublicPrefix == "" {
		opts.PublicPrefix = "/media"
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 10 << 20
	}
	if log == nil {
		log = slog.Default()
	}
	return &Generator{runner: runner, opts: opts, log: log}
}

// Dir is the local thumbnail directory.
func (g *Generator) Dir() string {
	return filepath.Join(g.opts.MediaRoot, dirName)
}

// LocalPath maps a public thumbnail path back to the file under the media root.
func (g *Generator) LocalPath(publicPath string) (string, bool) {
	prefix := strings.TrimSuffix(g.opts.PublicPrefix, "/") + "/" + dirName + "/"
	if !strings.HasPrefix(publicPath, prefix) {
		return "", false
	}
	name := path.Base(publicPath)
	if name == "." || name == "/" || name == ".." {
		return "", false
	}
	return filepath.Join(g.Dir(), name), true
}

// IsShared reports whether publicPath is the shared audio asset.
func (g *Generator) IsShared(publicPath string) bool {
	return publicPath == g.publicPath(AudioDefaultName)
}

func (g *Generator) publicPath(name string) string {
	return strings.TrimSuffix(g.opts.PublicPrefix, "/") + "/" + dirName + "/" + name
}

func (g *Generator) itemName(mediaID string) string {
	return mediaID + ".jpg"
}

// save fits img inside the thumbnail bounds and writes it as JPEG, replacing
// any previous file atomically.
func (g *Generator) save(img image.Image, name string) (string, error) {
	if err := os.MkdirAll(g.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	dest := filepath.Join(g.Dir(), name)
	tmp := dest + ".tmp.jpg"
	fitted := imaging.Fit(img, MaxWidth, MaxHeight, imaging.Lanczos)
	if err := imaging.Save(fitted, tmp, imaging.JPEGQuality(JPEGQuality)); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write thumbnail: %w", err)
	}
	return g.publicPath(name), nil
}
