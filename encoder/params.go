package encoder

import (
	"fmt"
	"path/filepath"
	"strconv"
)

const (
	// SegmentSeconds is the HLS segment duration. Keyframes are forced on the
	// same boundary so every segment starts on an IDR frame.
	SegmentSeconds = 2
	// GOPFrames is the keyframe interval at an assumed 20fps.
	GOPFrames = SegmentSeconds * 20

	PlaylistName   = "playlist.m3u8"
	SegmentPattern = "segment_%03d.ts"

	// ContainerOverheadPercent inflates the target bitrate to approximate
	// MPEG-TS overhead.
	ContainerOverheadPercent = 115
)

// Spec is one planned rendition.
type Spec struct {
	Quality          string
	Height           int
	VideoBitrateKbps int
	AudioBitrateKbps int
}

// IsVideo reports whether the spec produces a video stream.
func (s Spec) IsVideo() bool {
	return s.Height > 0 && s.VideoBitrateKbps > 0
}

// TargetBitrate is the encode target in bits per second: the video target for
// video renditions, the audio target otherwise.
func (s Spec) TargetBitrate() int {
	if s.IsVideo() {
		return s.VideoBitrateKbps * 1000
	}
	return s.AudioBitrateKbps * 1000
}

// DeclaredBitrate is the bandwidth advertised for the rendition.
func (s Spec) DeclaredBitrate() int {
	return s.TargetBitrate() * ContainerOverheadPercent / 100
}

// Width is the 16:9 width ffmpeg's scale=-2 produces for the spec height:
// rounded to the nearest even number.
func (s Spec) Width() int {
	if !s.IsVideo() {
		return 0
	}
	return (s.Height*16/9 + 1) &^ 1
}

// Params is the declarative parameter set for one HLS encode.
type Params struct {
	VideoCodec       string
	AudioCodec       string
	VideoBitrateKbps int
	AudioBitrateKbps int
	ScaleHeight      int
	Preset           string
	SegmentSeconds   int
	GOPFrames        int
}

// ParamsFor builds the parameter set for a spec.
func ParamsFor(spec Spec) Params {
	p := Params{
		AudioCodec:       "aac",
		AudioBitrateKbps: spec.AudioBitrateKbps,
		SegmentSeconds:   SegmentSeconds,
	}
	if spec.IsVideo() {
		p.VideoCodec = "libx264"
		p.VideoBitrateKbps = spec.VideoBitrateKbps
		p.ScaleHeight = spec.Height
		p.Preset = "fast"
		p.GOPFrames = GOPFrames
	}
	return p
}

// Args renders ffmpeg arguments writing an HLS rendition into outDir.
func (p Params) Args(input, outDir string) []string {
	args := []string{"-y", "-i", input}

	if p.VideoCodec != "" {
		args = append(args,
			"-map", "0:v:0", "-map", "0:a:0?",
			// -2 keeps the aspect ratio while rounding width to an even number.
			"-vf", fmt.Sprintf("scale=-2:%d", p.ScaleHeight),
			"-c:v", p.VideoCodec,
			"-preset", p.Preset,
			"-b:v", kbps(p.VideoBitrateKbps),
			"-g", strconv.Itoa(p.GOPFrames),
			"-keyint_min", strconv.Itoa(p.GOPFrames),
			"-sc_threshold", "0",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", p.SegmentSeconds),
		)
	} else {
		args = append(args, "-map", "0:a:0", "-vn")
	}

	args = append(args,
		"-c:a", p.AudioCodec,
		"-b:a", kbps(p.AudioBitrateKbps),
		"-f", "hls",
		"-hls_time", strconv.Itoa(p.SegmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_type", "mpegts",
		"-hls_flags", "independent_segments",
		"-hls_segment_filename", filepath.Join(outDir, SegmentPattern),
		filepath.Join(outDir, PlaylistName),
	)
	return args
}

func kbps(v int) string {
	return strconv.Itoa(v) + "k"
}
