package playlist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devrayat000/media-pipeline/models"
)

const MasterName = "master.m3u8"

// Build renders a multivariant playlist. Variants are emitted lowest declared
// bitrate first so players start on the cheapest stream.
func Build(variants []models.Variant) string {
	sorted := append([]models.Variant(nil), variants...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Bitrate != sorted[j].Bitrate {
			return sorted[i].Bitrate < sorted[j].Bitrate
		}
		return sorted[i].Quality < sorted[j].Quality
	})

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	for _, v := range sorted {
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", v.Bitrate)
		if v.Width != nil && v.Height != nil && *v.Width > 0 && *v.Height > 0 {
			fmt.Fprintf(&b, ",RESOLUTION=%dx%d", *v.Width, *v.Height)
		}
		b.WriteString("\n")
		b.WriteString(v.Quality + "/playlist.m3u8\n")
	}
	return b.String()
}

// Synthesize writes master.m3u8 into dir and returns its path. With no
// variants nothing is written and the returned path is empty.
func Synthesize(dir string, variants []models.Variant) (string, error) {
	if len(variants) == 0 {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create playlist dir: %w", err)
	}

	path := filepath.Join(dir, MasterName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(Build(variants)), 0o644); err != nil {
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("write master playlist: %w", err)
	}
	return path, nil
}
