package db_test

import (
	"context"
	"testing"

	"github.com/devrayat000/media-pipeline/db"
	"github.com/devrayat000/media-pipeline/db/dbtest"
	"github.com/devrayat000/media-pipeline/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func newMedia(t *testing.T, repo *db.MediaRepository, kind models.MediaKind) *models.MediaItem {
	t.Helper()
	item := &models.MediaItem{
		Filename:         "clip.mp4",
		OriginalFilename: "clip.mp4",
		Kind:             kind,
		Status:           models.StatusProcessing,
	}
	require.NoError(t, repo.CreateMedia(context.Background(), item))
	return item
}

func TestMediaRepository_CreateAndGet(t *testing.T) {
	repo := db.NewMediaRepository(dbtest.Open(t))
	item := newMedia(t, repo, models.KindVideo)
	require.NotEmpty(t, item.ID)

	got, err := repo.GetMedia(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, got.Status)
	assert.Equal(t, models.KindVideo, got.Kind)
	assert.Nil(t, got.ErrorMessage)
}

func TestMediaRepository_GetMissing(t *testing.T) {
	repo := db.NewMediaRepository(dbtest.Open(t))
	_, err := repo.GetMedia(context.Background(), "missing")
	assert.True(t, db.IsNotFound(err))
}

func TestMediaRepository_SetStatusAndMetadata(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMediaRepository(dbtest.Open(t))
	item := newMedia(t, repo, models.KindVideo)

	require.NoError(t, repo.UpdateMetadata(ctx, item.ID, db.Metadata{
		Width:  ptr(1920),
		Height: ptr(1080),
		Codec:  ptr("h264"),
	}))
	require.NoError(t, repo.SetStatus(ctx, item.ID, models.StatusFailed, ptr("boom")))

	got, err := repo.GetMedia(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1080, *got.Height)
	assert.Equal(t, "h264", *got.Codec)
	assert.Nil(t, got.Duration)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "boom", *got.ErrorMessage)

	require.NoError(t, repo.SetStatus(ctx, item.ID, models.StatusReady, nil))
	got, err = repo.GetMedia(ctx, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ErrorMessage)
}

func TestMediaRepository_SetStatusMissingItem(t *testing.T) {
	repo := db.NewMediaRepository(dbtest.Open(t))
	err := repo.SetStatus(context.Background(), "gone", models.StatusReady, nil)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestMediaRepository_UpsertVariantKeepsQualityUnique(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMediaRepository(dbtest.Open(t))
	item := newMedia(t, repo, models.KindVideo)

	first := &models.Variant{MediaID: item.ID, Quality: "720p", Path: "/a", Bitrate: 100, FileSize: 10}
	require.NoError(t, repo.UpsertVariant(ctx, first))
	second := &models.Variant{MediaID: item.ID, Quality: "720p", Path: "/b", Bitrate: 200, FileSize: 20}
	require.NoError(t, repo.UpsertVariant(ctx, second))
	require.NoError(t, repo.UpsertVariant(ctx, &models.Variant{MediaID: item.ID, Quality: "360p", Path: "/c", Bitrate: 50, FileSize: 5}))

	variants, err := repo.ListVariants(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, variants, 2)
	assert.Equal(t, "720p", variants[0].Quality)
	assert.Equal(t, "/b", variants[0].Path)
	assert.Equal(t, int64(20), variants[0].FileSize)
	assert.Equal(t, "360p", variants[1].Quality)
}

func TestMediaRepository_DeleteCascadesVariants(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMediaRepository(dbtest.Open(t))
	item := newMedia(t, repo, models.KindAudio)
	require.NoError(t, repo.UpsertVariant(ctx, &models.Variant{MediaID: item.ID, Quality: "128kbps", Path: "/p", Bitrate: 1}))

	require.NoError(t, repo.DeleteMedia(ctx, item.ID))

	variants, err := repo.ListVariants(ctx, item.ID)
	require.NoError(t, err)
	assert.Empty(t, variants)
	assert.ErrorIs(t, repo.DeleteMedia(ctx, item.ID), db.ErrNotFound)
}

func TestMediaRepository_CountByStatus(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMediaRepository(dbtest.Open(t))
	a := newMedia(t, repo, models.KindVideo)
	newMedia(t, repo, models.KindAudio)
	require.NoError(t, repo.SetStatus(ctx, a.ID, models.StatusReady, nil))
	require.NoError(t, repo.SetFileSize(ctx, a.ID, 1000))

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts.Total)
	assert.Equal(t, int64(1), counts.Videos)
	assert.Equal(t, int64(1), counts.Audio)
	assert.Equal(t, int64(1), counts.Ready)
	assert.Equal(t, int64(1), counts.Processing)
	assert.Equal(t, int64(1000), counts.TotalSize)
}

func TestMediaRepository_DeleteVariant(t *testing.T) {
	ctx := context.Background()
	repo := db.NewMediaRepository(dbtest.Open(t))
	item := newMedia(t, repo, models.KindVideo)
	require.NoError(t, repo.UpsertVariant(ctx, &models.Variant{MediaID: item.ID, Quality: "720p", Path: "/a", Bitrate: 2}))
	require.NoError(t, repo.UpsertVariant(ctx, &models.Variant{MediaID: item.ID, Quality: "360p", Path: "/b", Bitrate: 1}))

	require.NoError(t, repo.DeleteVariant(ctx, item.ID, "720p"))
	// absent rows are not an error
	require.NoError(t, repo.DeleteVariant(ctx, item.ID, "1080p"))

	variants, err := repo.ListVariants(ctx, item.ID)
	require.NoError(t, err)
	require.Len(t, variants, 1)
	assert.Equal(t, "360p", variants[0].Quality)
}
