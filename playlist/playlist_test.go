package playlist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrayat000/media-pipeline/models"
)

func videoVariant(quality string, bitrate, w, h int) models.Variant {
	return models.Variant{Quality: quality, Bitrate: bitrate, Width: &w, Height: &h}
}

func TestBuildSortsAscending(t *testing.T) {
	out := Build([]models.Variant{
		videoVariant("720p", 3220000, 1280, 720),
		videoVariant("360p", 920000, 640, 360),
		videoVariant("480p", 1610000, 854, 480),
	})

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=920000,RESOLUTION=640x360\n" +
		"360p/playlist.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1610000,RESOLUTION=854x480\n" +
		"480p/playlist.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=3220000,RESOLUTION=1280x720\n" +
		"720p/playlist.m3u8\n"
	assert.Equal(t, want, out)
}

func TestBuildAudioOmitsResolution(t *testing.T) {
	out := Build([]models.Variant{
		{Quality: "128kbps", Bitrate: 147200},
		{Quality: "64kbps", Bitrate: 73600},
	})
	assert.NotContains(t, out, "RESOLUTION")
	assert.Less(t, strings.Index(out, "64kbps/"), strings.Index(out, "128kbps/"))
}

func TestBuildOrderIndependentOfInput(t *testing.T) {
	a := []models.Variant{
		videoVariant("1080p", 5750000, 1920, 1080),
		videoVariant("720p", 3220000, 1280, 720),
		videoVariant("480p", 1610000, 854, 480),
		videoVariant("360p", 920000, 640, 360),
	}
	reversed := []models.Variant{a[3], a[1], a[0], a[2]}
	assert.Equal(t, Build(a), Build(reversed))
	// input slice left untouched
	assert.Equal(t, "1080p", a[0].Quality)
}

func TestSynthesize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hls", "abc")
	path, err := Synthesize(dir, []models.Variant{videoVariant("360p", 920000, 640, 360)})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, MasterName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "360p/playlist.m3u8")
}

func TestSynthesizeEmptyWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path, err := Synthesize(dir, nil)
	require.NoError(t, err)
	assert.Empty(t, path)

	_, err = os.Stat(filepath.Join(dir, MasterName))
	assert.True(t, os.IsNotExist(err))
}
