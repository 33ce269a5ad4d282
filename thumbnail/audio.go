package thumbnail

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// SharedAudioDefault returns the shared audio thumbnail, materializing it on
// first use from the configured asset or, without one, from a fixed gradient.
func (g *Generator) SharedAudioDefault() (string, error) {
	g.audioMu.Lock()
	defer g.audioMu.Unlock()

	dest := filepath.Join(g.Dir(), AudioDefaultName)
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return g.publicPath(AudioDefaultName), nil
	}

	if g.opts.AudioAsset != "" {
		err := copyFile(g.opts.AudioAsset, dest)
		if err == nil {
			g.log.Info("installed shared audio thumbnail", "source", g.opts.AudioAsset)
			return g.publicPath(AudioDefaultName), nil
		}
		g.log.Warn("audio thumbnail asset unavailable, rendering default", "source", g.opts.AudioAsset, "error", err)
	}

	return g.save(gradient(MaxWidth, MaxHeight), AudioDefaultName)
}

// gradient renders a diagonal two-tone gradient.
func gradient(w, h int) *image.NRGBA {
	from := color.NRGBA{R: 0x2b, G: 0x1a, B: 0x5e, A: 0xff}
	to := color.NRGBA{R: 0xd9, G: 0x4f, B: 0x8c, A: 0xff}

	img := imaging.New(w, h, from)
	span := w + h - 2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			t := x + y
			img.SetNRGBA(x, y, color.NRGBA{
				R: lerp(from.R, to.R, t, span),
				G: lerp(from.G, to.G, t, span),
				B: lerp(from.B, to.B, t, span),
				A: 0xff,
			})
		}
	}
	return img
}

func lerp(a, b uint8, t, span int) uint8 {
	return uint8(int(a) + (int(b)-int(a))*t/span)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	return os.Rename(tmp, dest)
}
