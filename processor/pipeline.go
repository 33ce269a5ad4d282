package processor

import (
	"context"

	"github.com/devrayat000/media-pipeline/models"
	"github.com/devrayat000/media-pipeline/planner"
	"github.com/devrayat000/media-pipeline/thumbnail"
)

// Pipeline is the per-kind part of processing: which renditions to attempt
// and how the thumbnail is derived.
type Pipeline interface {
	Kind() models.MediaKind
	Plan(item *models.MediaItem) planner.Ladder
	Thumbnail(ctx context.Context, item *models.MediaItem, sourcePath string) (string, error)
}

type videoPipeline struct {
	thumbs Thumbnailer
}

func (videoPipeline) Kind() models.MediaKind { return models.KindVideo }

func (videoPipeline) Plan(item *models.MediaItem) planner.Ladder {
	return planner.Plan(models.KindVideo, item.Height)
}

func (p videoPipeline) Thumbnail(ctx context.Context, item *models.MediaItem, sourcePath string) (string, error) {
	return p.thumbs.FromVideoFrame(ctx, item.ID, sourcePath, nil, item.Duration)
}

type audioPipeline struct {
	thumbs Thumbnailer
}

func (audioPipeline) Kind() models.MediaKind { return models.KindAudio }

func (audioPipeline) Plan(*models.MediaItem) planner.Ladder {
	return planner.Plan(models.KindAudio, nil)
}

func (p audioPipeline) Thumbnail(context.Context, *models.MediaItem, string) (string, error) {
	return p.thumbs.SharedAudioDefault()
}

var _ Thumbnailer = (*thumbnail.Generator)(nil)
