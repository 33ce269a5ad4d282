package upload_test

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/db/dbtest"
	"github.com/devrayat000/media-pipeline/logger"
	"github.com/devrayat000/media-pipeline/models"
	"github.com/devrayat000/media-pipeline/thumbnail"
	"github.com/devrayat000/media-pipeline/upload"
)

var _ upload.Thumbnailer = (*thumbnail.Generator)(nil)

type recordingQueue struct {
	jobs []models.MediaJob
	err  error
}

func (q *recordingQueue) Enqueue(_ context.Context, job models.MediaJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

// frameRunner writes a solid JPEG wherever ffmpeg would put the frame.
type frameRunner struct {
	seeks []string
}

func (r *frameRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.seeks = append(r.seeks, args[2])
	f, err := os.Create(args[len(args)-1])
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return nil, jpeg.Encode(f, imaging.New(320, 240, color.NRGBA{R: 200, A: 255}), nil)
}

type fixture struct {
	svc    *upload.Service
	repo   *db.MediaRepository
	queue  *recordingQueue
	runner *frameRunner
	root   string
}

func newFixture(t *testing.T, maxBytes int64) *fixture {
	root := t.TempDir()
	repo := db.NewMediaRepository(dbtest.Open(t))
	queue := &recordingQueue{}
	runner := &frameRunner{}
	thumbs := thumbnail.NewGenerator(runner, thumbnail.Options{MediaRoot: root}, logger.Discard())
	svc := upload.NewService(repo, queue, thumbs, nil, upload.Options{MediaRoot: root, MaxUploadBytes: maxBytes}, logger.Discard())
	return &fixture{svc: svc, repo: repo, queue: queue, runner: runner, root: root}
}

func (f *fixture) total(t *testing.T) int64 {
	counts, err := f.repo.CountByStatus(context.Background())
	require.NoError(t, err)
	return counts.Total
}

func TestKindForFilename(t *testing.T) {
	cases := map[string]models.MediaKind{
		"clip.MP4":   models.KindVideo,
		"a.webm":     models.KindVideo,
		"song.flac":  models.KindAudio,
		"voice.m4a":  models.KindAudio,
		"dir/x.mkv":  models.KindVideo,
		"track.OGG":  models.KindAudio,
		"movie.mov":  models.KindVideo,
		"sample.wav": models.KindAudio,
	}
	for name, want := range cases {
		kind, ok := upload.KindForFilename(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, kind, name)
	}
	for _, name := range []string{"notes.pdf", "noext", "image.jpg"} {
		_, ok := upload.KindForFilename(name)
		assert.False(t, ok, name)
	}
}

func TestAccept(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	item, err := f.svc.Accept(ctx, "Holiday.MP4", strings.NewReader("video-bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, item.Status)
	assert.Equal(t, models.KindVideo, item.Kind)
	assert.Equal(t, "Holiday.MP4", item.OriginalFilename)
	assert.Equal(t, item.ID+".mp4", item.Filename)

	stored, err := f.repo.GetMedia(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Equal(t, int64(len("video-bytes")), stored.FileSize)

	dest := filepath.Join(f.root, "original", item.ID+".mp4")
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "video-bytes", string(data))

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, models.MediaJob{MediaID: item.ID, SourcePath: dest}, f.queue.jobs[0])
}

func TestAccept_Rejections(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.svc.Accept(context.Background(), "report.pdf", strings.NewReader("x"))
		assert.ErrorIs(t, err, upload.ErrUnsupportedType)
		assert.Zero(t, f.total(t))
		assert.Empty(t, f.queue.jobs)
		assert.NoDirExists(t, filepath.Join(f.root, "original"))
	})

	t.Run("too_large", func(t *testing.T) {
		f := newFixture(t, 4)
		_, err := f.svc.Accept(context.Background(), "clip.mp4", strings.NewReader("0123456789"))
		assert.ErrorIs(t, err, upload.ErrTooLarge)
		assert.Zero(t, f.total(t))
		assert.Empty(t, f.queue.jobs)
		entries, err := os.ReadDir(filepath.Join(f.root, "original"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("enqueue_failure", func(t *testing.T) {
		f := newFixture(t, 0)
		f.queue.err = errors.New("redis down")
		_, err := f.svc.Accept(context.Background(), "song.mp3", strings.NewReader("audio"))
		require.Error(t, err)
		assert.Zero(t, f.total(t))
		entries, err := os.ReadDir(filepath.Join(f.root, "original"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestAccept_ExactLimit(t *testing.T) {
	f := newFixture(t, 4)
	item, err := f.svc.Accept(context.Background(), "clip.mp4", strings.NewReader("0123"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), item.FileSize)
}

func TestSetThumbnailAt(t *testing.T) {
	ctx := context.Background()

	t.Run("video", func(t *testing.T) {
		f := newFixture(t, 0)
		item, err := f.svc.Accept(ctx, "clip.mp4", strings.NewReader("v"))
		require.NoError(t, err)

		path, err := f.svc.SetThumbnailAt(ctx, item.ID, 12.5)
		require.NoError(t, err)
		assert.Equal(t, "/media/thumbnails/"+item.ID+".jpg", path)
		assert.Equal(t, []string{"12.500"}, f.runner.seeks)
		assert.FileExists(t, filepath.Join(f.root, "thumbnails", item.ID+".jpg"))

		stored, err := f.repo.GetMedia(ctx, item.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.ThumbnailPath)
		assert.Equal(t, path, *stored.ThumbnailPath)
	})

	t.Run("audio", func(t *testing.T) {
		f := newFixture(t, 0)
		item, err := f.svc.Accept(ctx, "song.mp3", strings.NewReader("a"))
		require.NoError(t, err)
		_, err = f.svc.SetThumbnailAt(ctx, item.ID, 1)
		assert.ErrorIs(t, err, upload.ErrNotVideo)
	})

	t.Run("negative", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.svc.SetThumbnailAt(ctx, "whatever", -1)
		assert.ErrorIs(t, err, upload.ErrInvalidTimestamp)
	})

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, 0)
		_, err := f.svc.SetThumbnailAt(ctx, "nope", 1)
		assert.ErrorIs(t, err, db.ErrNotFound)
	})
}

func TestSetThumbnailUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	item, err := f.svc.Accept(ctx, "song.mp3", strings.NewReader("a"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, imaging.New(1280, 720, color.NRGBA{B: 255, A: 255}), nil))

	path, err := f.svc.SetThumbnailUpload(ctx, item.ID, buf.Bytes(), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "/media/thumbnails/"+item.ID+".jpg", path)

	_, err = f.svc.SetThumbnailUpload(ctx, item.ID, []byte("%PDF-1.4"), "application/pdf")
	assert.ErrorIs(t, err, thumbnail.ErrUnsupportedType)

	stored, err := f.repo.GetMedia(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, path, *stored.ThumbnailPath)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	item, err := f.svc.Accept(ctx, "clip.mp4", strings.NewReader("v"))
	require.NoError(t, err)
	_, err = f.svc.SetThumbnailAt(ctx, item.ID, 1)
	require.NoError(t, err)

	hls := filepath.Join(f.root, "hls", item.ID, "720p")
	require.NoError(t, os.MkdirAll(hls, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hls, "playlist.m3u8"), []byte("#EXTM3U\n"), 0o644))

	shared := filepath.Join(f.root, "thumbnails", thumbnail.AudioDefaultName)
	require.NoError(t, os.WriteFile(shared, []byte("jpeg"), 0o644))

	require.NoError(t, f.svc.Delete(ctx, item.ID))

	assert.NoFileExists(t, filepath.Join(f.root, "original", item.ID+".mp4"))
	assert.NoDirExists(t, filepath.Join(f.root, "hls", item.ID))
	assert.NoFileExists(t, filepath.Join(f.root, "thumbnails", item.ID+".jpg"))
	assert.FileExists(t, shared)

	_, err = f.repo.GetMedia(ctx, item.ID)
	assert.ErrorIs(t, err, db.ErrNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, item.ID), db.ErrNotFound)
}

func TestDelete_KeepsSharedAudioThumbnail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	item, err := f.svc.Accept(ctx, "song.mp3", strings.NewReader("a"))
	require.NoError(t, err)

	shared := filepath.Join(f.root, "thumbnails", thumbnail.AudioDefaultName)
	require.NoError(t, os.MkdirAll(filepath.Dir(shared), 0o755))
	require.NoError(t, os.WriteFile(shared, []byte("jpeg"), 0o644))
	require.NoError(t, f.repo.SetThumbnail(ctx, item.ID, "/media/thumbnails/"+thumbnail.AudioDefaultName))

	require.NoError(t, f.svc.Delete(ctx, item.ID))
	assert.FileExists(t, shared)
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	_, err := f.svc.Accept(ctx, "clip.mp4", strings.NewReader("12345"))
	require.NoError(t, err)
	_, err = f.svc.Accept(ctx, "song.mp3", strings.NewReader("123"))
	require.NoError(t, err)

	counts, err := f.svc.Overview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)
	assert.Equal(t, int64(2), counts.Processing)
	assert.Equal(t, int64(8), counts.TotalSize)
}
