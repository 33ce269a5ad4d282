package planner

import (
	"github.com/devrayat000/media-pipeline/encoder"
	"github.com/devrayat000/media-pipeline/models"
)

// Ladder is an ordered set of quality tiers, highest first.
type Ladder []encoder.Spec

var (
	VideoLadder = Ladder{
		{Quality: "1080p", Height: 1080, VideoBitrateKbps: 5000, AudioBitrateKbps: 192},
		{Quality: "720p", Height: 720, VideoBitrateKbps: 2800, AudioBitrateKbps: 128},
		{Quality: "480p", Height: 480, VideoBitrateKbps: 1400, AudioBitrateKbps: 128},
		{Quality: "360p", Height: 360, VideoBitrateKbps: 800, AudioBitrateKbps: 96},
	}

	AudioLadder = Ladder{
		{Quality: "320kbps", AudioBitrateKbps: 320},
		{Quality: "128kbps", AudioBitrateKbps: 128},
		{Quality: "96kbps", AudioBitrateKbps: 96},
		{Quality: "64kbps", AudioBitrateKbps: 64},
	}
)

// Plan returns the tiers to attempt for a source. Video tiers taller than the
// source are dropped; an unknown height keeps the full ladder. Audio ignores
// the source entirely.
func Plan(kind models.MediaKind, sourceHeight *int) Ladder {
	switch kind {
	case models.KindVideo:
		return VideoLadder.Fit(sourceHeight)
	case models.KindAudio:
		return AudioLadder.clone()
	default:
		return nil
	}
}

// Fit keeps the tiers no taller than height, preserving order.
func (l Ladder) Fit(height *int) Ladder {
	if height == nil || *height <= 0 {
		return l.clone()
	}
	out := make(Ladder, 0, len(l))
	for _, spec := range l {
		if spec.Height <= *height {
			out = append(out, spec)
		}
	}
	return out
}

func (l Ladder) clone() Ladder {
	return append(Ladder(nil), l...)
}
