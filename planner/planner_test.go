package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/devrayat000/media-pipeline/models"
)

func qualities(l Ladder) []string {
	out := make([]string, 0, len(l))
	for _, s := range l {
		out = append(out, s.Quality)
	}
	return out
}

func TestPlanVideo(t *testing.T) {
	h := func(v int) *int { return &v }

	tests := []struct {
		name   string
		height *int
		want   []string
	}{
		{"unknown height", nil, []string{"1080p", "720p", "480p", "360p"}},
		{"1080p source", h(1080), []string{"1080p", "720p", "480p", "360p"}},
		{"4k source", h(2160), []string{"1080p", "720p", "480p", "360p"}},
		{"720p source", h(720), []string{"720p", "480p", "360p"}},
		{"between tiers", h(600), []string{"480p", "360p"}},
		{"below ladder", h(240), []string{}},
		{"zero height", h(0), []string{"1080p", "720p", "480p", "360p"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, qualities(Plan(models.KindVideo, tt.height)))
		})
	}
}

func TestPlanVideoEveryHeight(t *testing.T) {
	for h := 1; h <= 2500; h++ {
		plan := Plan(models.KindVideo, &h)
		seen := map[string]bool{}
		prev := int(^uint(0) >> 1)
		for _, spec := range plan {
			assert.LessOrEqual(t, spec.Height, h)
			assert.Less(t, spec.Height, prev)
			assert.False(t, seen[spec.Quality])
			seen[spec.Quality] = true
			prev = spec.Height
		}
		for _, spec := range VideoLadder {
			assert.Equal(t, spec.Height <= h, seen[spec.Quality], "height %d tier %s", h, spec.Quality)
		}
	}
}

func TestPlanAudio(t *testing.T) {
	h := 1080
	assert.Equal(t, []string{"320kbps", "128kbps", "96kbps", "64kbps"}, qualities(Plan(models.KindAudio, nil)))
	assert.Equal(t, []string{"320kbps", "128kbps", "96kbps", "64kbps"}, qualities(Plan(models.KindAudio, &h)))
	for _, spec := range Plan(models.KindAudio, nil) {
		assert.False(t, spec.IsVideo())
	}
}

func TestPlanDoesNotAliasLadder(t *testing.T) {
	plan := Plan(models.KindVideo, nil)
	plan[0].Quality = "changed"
	assert.Equal(t, "1080p", VideoLadder[0].Quality)
}

func TestPlanUnknownKind(t *testing.T) {
	assert.Empty(t, Plan(models.MediaKind("image"), nil))
}
