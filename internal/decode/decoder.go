// Package decode implements the Decoder component: a lazy,
// restartable, finite sequence of interleaved float32 [-1, 1] sample frames
// over an audio asset, dispatched to a backend by container/codec.
package decode

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Decoder is the capability every backend implements. It is not safe for
// concurrent use; the Frame Pump owns exactly one Decoder per PlaybackJob.
type Decoder interface {
	// ReadInto decodes up to nFrames interleaved source frames into dest,
	// which must have capacity >= nFrames*ChannelCount(). It returns the
	// number of frames actually decoded; a short read (framesRead <
	// nFrames) with a nil error means the source could not currently yield
	// more samples without blocking longer than one codec frame (spec
	// §4.2 underflow contract) or the stream has ended.
	ReadInto(dest []float32, nFrames int) (framesRead int, err error)

	// SeekToSample positions the next ReadInto to begin at sample index n,
	// clamped to [0, TotalSamples()], within one codec frame.
	SeekToSample(n int64) error

	TotalSamples() int64
	SampleRateHz() int
	ChannelCount() int
	BitDepth() int

	Close() error
}

// Open dispatches to a backend by file extension: ".wav" uses the raw PCM
// backend (preserves true channel count); everything else (.flac, .mp3,
// .ogg) uses the beep-backed container decoder (stereo-normalized, see
// DESIGN.md).
func Open(path string) (Decoder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav":
		return OpenWAV(path)
	case ".flac", ".mp3", ".ogg":
		return OpenContainer(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, path)
	}
}

// ErrUnsupportedCodec is returned by Open for an unrecognized extension; the
// CLI maps it to exit code 4.
var ErrUnsupportedCodec = fmt.Errorf("unsupported codec")
