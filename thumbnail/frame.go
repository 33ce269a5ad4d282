package thumbnail

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

// MinTimestamp keeps the default frame away from fade-ins on short clips.
const MinTimestamp = 3.0

// DefaultTimestamp picks the frame offset for an automatic thumbnail: the
// midpoint, moved up to MinTimestamp when the source is long enough for it.
func DefaultTimestamp(duration *float64) float64 {
	if duration == nil || *duration <= 0 {
		return MinTimestamp
	}
	mid := *duration / 2
	if mid < MinTimestamp && *duration > MinTimestamp {
		return MinTimestamp
	}
	return mid
}

// FromVideoFrame extracts one frame at timestamp (or the default when nil)
// and stores it as the item's thumbnail.
func (g *Generator) FromVideoFrame(ctx context.Context, mediaID, sourcePath string, timestamp, duration *float64) (string, error) {
	if _, err := os.Stat(sourcePath); err != nil {
		return "", fmt.Errorf("thumbnail source: %w", err)
	}
	if err := os.MkdirAll(g.Dir(), 0o755); err != nil {
		return "", fmt.Errorf("create thumbnail dir: %w", err)
	}

	at := DefaultTimestamp(duration)
	if timestamp != nil {
		at = *timestamp
	}
	if at < 0 {
		at = 0
	}

	frame := filepath.Join(g.Dir(), mediaID+".frame.jpg")
	defer os.Remove(frame)

	err := g.extract(ctx, sourcePath, at, frame)
	if err != nil && timestamp == nil && at > 0 {
		// Unknown or misreported duration: fall back to the first frame.
		g.log.Warn("frame extraction failed, retrying at start", "media_id", mediaID, "timestamp", at, "error", err)
		err = g.extract(ctx, sourcePath, 0, frame)
	}
	if err != nil {
		return "", err
	}

	img, err := imaging.Open(frame)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return g.save(img, g.itemName(mediaID))
}

func (g *Generator) extract(ctx context.Context, sourcePath string, at float64, out string) error {
	os.Remove(out)
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(at, 'f', 3, 64),
		"-i", sourcePath,
		"-frames:v", "1",
		"-f", "image2",
		"-vcodec", "mjpeg",
		out,
	}
	if _, err := g.runner.Run(ctx, g.opts.FFmpegPath, args...); err != nil {
		return fmt.Errorf("extract frame: %w", err)
	}
	// ffmpeg exits cleanly when seeking past the end but writes nothing.
	if info, err := os.Stat(out); err != nil || info.Size() == 0 {
		return fmt.Errorf("extract frame at %.3fs: %w", at, ErrNoFrame)
	}
	return nil
}
