package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/devrayat000/media-pipeline/encoder"
)

// ErrNoStreams is returned when ffprobe output carries no usable stream data.
var ErrNoStreams = errors.New("no streams found")

// Info holds whatever the probe could recover. Nil fields were not reported.
type Info struct {
	Duration *float64
	Width    *int
	Height   *int
	Codec    *string
	Bitrate  *int64
}

// Empty reports whether no field was recovered.
func (i Info) Empty() bool {
	return i.Duration == nil && i.Width == nil && i.Height == nil && i.Codec == nil && i.Bitrate == nil
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
		BitRate   string `json:"bit_rate,omitempty"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
		BitRate  string `json:"bit_rate"`
	} `json:"format"`
}

type Prober struct {
	runner      encoder.Runner
	ffprobePath string
}

func NewProber(runner encoder.Runner, ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{runner: runner, ffprobePath: ffprobePath}
}

// Probe runs ffprobe on path. On failure the returned Info still carries any
// fields that could be parsed.
func (p *Prober) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	output, err := p.runner.Run(ctx, p.ffprobePath, args...)
	if err != nil {
		return Info{}, fmt.Errorf("ffprobe failed: %w", err)
	}
	return Parse(output)
}

// Parse decodes ffprobe JSON output. The first video stream supplies
// dimensions and codec; audio-only sources take the first audio codec.
func Parse(output []byte) (Info, error) {
	var data ffprobeOutput
	if err := json.Unmarshal(output, &data); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var info Info
	if d, ok := parseFloat(data.Format.Duration); ok {
		info.Duration = &d
	}
	if b, ok := parseInt(data.Format.BitRate); ok {
		info.Bitrate = &b
	}

	var audioCodec string
	var audioBitrate int64
	for _, stream := range data.Streams {
		switch stream.CodecType {
		case "video":
			if info.Codec != nil && info.Width != nil {
				continue
			}
			if stream.Width > 0 && stream.Height > 0 {
				w, h := stream.Width, stream.Height
				info.Width, info.Height = &w, &h
			}
			if stream.CodecName != "" {
				codec := stream.CodecName
				info.Codec = &codec
			}
			if info.Duration == nil {
				if d, ok := parseFloat(stream.Duration); ok {
					info.Duration = &d
				}
			}
		case "audio":
			if audioCodec == "" {
				audioCodec = stream.CodecName
				audioBitrate, _ = parseInt(stream.BitRate)
			}
			if info.Duration == nil {
				if d, ok := parseFloat(stream.Duration); ok {
					info.Duration = &d
				}
			}
		}
	}

	if info.Codec == nil && audioCodec != "" {
		info.Codec = &audioCodec
	}
	if info.Bitrate == nil && audioBitrate > 0 {
		info.Bitrate = &audioBitrate
	}

	if len(data.Streams) == 0 && info.Empty() {
		return info, ErrNoStreams
	}
	return info, nil
}

func parseFloat(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func parseInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
