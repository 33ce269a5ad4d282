package thumbnail

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frameRunner stands in for ffmpeg, writing a solid JPEG to the output path.
type frameRunner struct {
	w, h     int
	failAtSS map[string]bool
	calls    [][]string
}

func (r *frameRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, args)
	if r.failAtSS[args[2]] {
		return nil, errors.New("exit status 1")
	}
	img := imaging.New(r.w, r.h, color.NRGBA{R: 10, G: 200, B: 30, A: 255})
	f, err := os.Create(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return nil, jpeg.Encode(f, img, nil)
}

func newGenerator(t *testing.T, runner *frameRunner) (*Generator, string) {
	root := t.TempDir()
	return NewGenerator(runner, Options{MediaRoot: root}, nil), root
}

func pngBytes(t *testing.T, img image.Image) []byte {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func openThumb(t *testing.T, root, name string) image.Image {
	img, err := imaging.Open(filepath.Join(root, "thumbnails", name))
	require.NoError(t, err)
	return img
}

func TestDefaultTimestamp(t *testing.T) {
	d := func(v float64) *float64 { return &v }
	assert.Equal(t, 30.0, DefaultTimestamp(d(60)))
	assert.Equal(t, 3.0, DefaultTimestamp(d(4)))
	assert.Equal(t, 1.0, DefaultTimestamp(d(2)))
	assert.Equal(t, MinTimestamp, DefaultTimestamp(nil))
}

func TestFromVideoFrame(t *testing.T) {
	runner := &frameRunner{w: 1920, h: 1080}
	g, root := newGenerator(t, runner)
	src := filepath.Join(root, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	duration := 20.0
	p, err := g.FromVideoFrame(context.Background(), "abc", src, nil, &duration)
	require.NoError(t, err)
	assert.Equal(t, "/media/thumbnails/abc.jpg", p)

	img := openThumb(t, root, "abc.jpg")
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())
	assert.Equal(t, "10.000", runner.calls[0][2])

	_, err = os.Stat(filepath.Join(root, "thumbnails", "abc.frame.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestFromVideoFrameExplicitTimestamp(t *testing.T) {
	runner := &frameRunner{w: 320, h: 240}
	g, root := newGenerator(t, runner)
	src := filepath.Join(root, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	at := 7.5
	_, err := g.FromVideoFrame(context.Background(), "abc", src, &at, nil)
	require.NoError(t, err)
	assert.Equal(t, "7.500", runner.calls[0][2])

	// smaller sources are not upscaled
	img := openThumb(t, root, "abc.jpg")
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestFromVideoFrameFallsBackToStart(t *testing.T) {
	runner := &frameRunner{w: 640, h: 360, failAtSS: map[string]bool{"3.000": true}}
	g, root := newGenerator(t, runner)
	src := filepath.Join(root, "src.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0o644))

	_, err := g.FromVideoFrame(context.Background(), "abc", src, nil, nil)
	require.NoError(t, err)
	require.Len(t, runner.calls, 2)
	assert.Equal(t, "0.000", runner.calls[1][2])
}

func TestFromVideoFrameMissingSource(t *testing.T) {
	runner := &frameRunner{w: 10, h: 10}
	g, root := newGenerator(t, runner)
	_, err := g.FromVideoFrame(context.Background(), "abc", filepath.Join(root, "missing.mp4"), nil, nil)
	assert.Error(t, err)
	assert.Empty(t, runner.calls)
}

func TestSharedAudioDefaultRendersGradient(t *testing.T) {
	g, root := newGenerator(t, &frameRunner{})

	p1, err := g.SharedAudioDefault()
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(root, "thumbnails", AudioDefaultName))
	require.NoError(t, err)

	p2, err := g.SharedAudioDefault()
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(root, "thumbnails", AudioDefaultName))
	require.NoError(t, err)

	assert.Equal(t, "/media/thumbnails/audio-default.jpg", p1)
	assert.Equal(t, p1, p2)
	assert.Equal(t, first, second)
	assert.True(t, g.IsShared(p1))
}

func TestSharedAudioDefaultCopiesAsset(t *testing.T) {
	root := t.TempDir()
	asset := filepath.Join(root, "asset.jpg")
	require.NoError(t, os.WriteFile(asset, []byte("asset-bytes"), 0o644))

	g := NewGenerator(&frameRunner{}, Options{MediaRoot: root, AudioAsset: asset}, nil)
	_, err := g.SharedAudioDefault()
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "thumbnails", AudioDefaultName))
	require.NoError(t, err)
	assert.Equal(t, "asset-bytes", string(data))
}

func TestFromUploadRejectsPDFBeforeDecode(t *testing.T) {
	g, root := newGenerator(t, &frameRunner{})
	// valid PNG bytes, but the declared type alone must reject it
	data := pngBytes(t, imaging.New(10, 10, color.White))

	_, err := g.FromUpload("abc", data, "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = os.Stat(filepath.Join(root, "thumbnails"))
	assert.True(t, os.IsNotExist(err))
}

func TestFromUploadTooLarge(t *testing.T) {
	root := t.TempDir()
	g := NewGenerator(&frameRunner{}, Options{MediaRoot: root, MaxBytes: 16}, nil)
	_, err := g.FromUpload("abc", pngBytes(t, imaging.New(10, 10, color.White)), "image/png")
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestFromUploadSniffMismatch(t *testing.T) {
	g, _ := newGenerator(t, &frameRunner{})
	_, err := g.FromUpload("abc", []byte("%PDF-1.7 not an image"), "image/png")
	assert.ErrorIs(t, err, ErrUnsupportedType)
}

func TestFromUploadDecodeError(t *testing.T) {
	g, _ := newGenerator(t, &frameRunner{})
	data := pngBytes(t, imaging.New(10, 10, color.White))
	_, err := g.FromUpload("abc", data[:40], "image/png")
	assert.ErrorIs(t, err, ErrDecode)
}

func TestFromUploadFlattensAlpha(t *testing.T) {
	g, root := newGenerator(t, &frameRunner{})
	transparent := image.NewNRGBA(image.Rect(0, 0, 1280, 720))

	p, err := g.FromUpload("abc", pngBytes(t, transparent), "image/png; charset=binary")
	require.NoError(t, err)
	assert.Equal(t, "/media/thumbnails/abc.jpg", p)

	img := openThumb(t, root, "abc.jpg")
	assert.Equal(t, 640, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())
	r, gr, b, _ := img.At(320, 180).RGBA()
	assert.Greater(t, r>>8, uint32(240))
	assert.Greater(t, gr>>8, uint32(240))
	assert.Greater(t, b>>8, uint32(240))
}

func TestFromUploadWebP(t *testing.T) {
	g, root := newGenerator(t, &frameRunner{})
	var buf bytes.Buffer
	require.NoError(t, webp.Encode(&buf, imaging.New(800, 800, color.NRGBA{R: 255, A: 255}), &webp.Options{Lossless: true}))

	_, err := g.FromUpload("abc", buf.Bytes(), "image/webp")
	require.NoError(t, err)

	img := openThumb(t, root, "abc.jpg")
	assert.Equal(t, 360, img.Bounds().Dx())
	assert.Equal(t, 360, img.Bounds().Dy())
}

func TestLocalPath(t *testing.T) {
	g, root := newGenerator(t, &frameRunner{})

	p, ok := g.LocalPath("/media/thumbnails/abc.jpg")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(root, "thumbnails", "abc.jpg"), p)

	_, ok = g.LocalPath("/elsewhere/abc.jpg")
	assert.False(t, ok)
}
