// Package ffmpeg runs ffmpeg as a subprocess.
package ffmpeg

import (
	"context"
	"slices"
)

// MuxArgs returns the arguments that copy the streams of video and audio
// into output without re-encoding.
func MuxArgs(video, audio, output string) []string {
	return []string{
		"-hide_banner", "-y",
		"-i", video,
		"-i", audio,
		"-c", "copy",
		output,
	}
}

// Muxer remuxes separately delivered video and audio streams.
type Muxer struct {
	// Path is the ffmpeg binary; empty means DefaultBinary on PATH.
	Path string
}

// NewMuxer returns a Muxer using the binary at path.
func NewMuxer(path string) *Muxer {
	return &Muxer{Path: path}
}

// Remux writes output from video and audio. A non-zero exit returns an
// *Error carrying the full stderr. onProgress may be nil.
func (m *Muxer) Remux(ctx context.Context, video, audio, output string, onProgress func(Progress)) error {
	args := MuxArgs(video, audio, output)
	if onProgress != nil {
		args = slices.Insert(args, 2, "-progress", "pipe:1", "-nostats")
	}

	proc, err := Start(ctx, m.Path, args, onProgress)
	if err != nil {
		return err
	}
	return proc.Wait()
}
