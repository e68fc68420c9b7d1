package decode

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/flac"
	"github.com/gopxl/beep/mp3"
	"github.com/gopxl/beep/vorbis"
)

// containerDecoder wraps a beep.StreamSeekCloser for the compressed
// container formats (FLAC, MP3, OGG/Vorbis). beep normalizes every source
// to interleaved stereo [2]float64 frames regardless of the original
// channel count, so ChannelCount() always reports 2 for this backend (see
// DESIGN.md for why the WAV backend exists separately to preserve true
// channel counts for the S >= 3 wrap-around mapper policy).
type containerDecoder struct {
	f        *os.File
	streamer beep.StreamSeekCloser
	format   beep.Format

	scratch [][2]float64 // rotating decode scratch buffer, grown on demand
}

// OpenContainer opens path using the beep codec matching its extension.
func OpenContainer(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var streamer beep.StreamSeekCloser
	var format beep.Format
	switch strings.ToLower(filepath.Ext(path)) {
	case ".flac":
		streamer, format, err = flac.Decode(f)
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".ogg":
		streamer, format, err = vorbis.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCodec, path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return &containerDecoder{f: f, streamer: streamer, format: format}, nil
}

func (d *containerDecoder) ReadInto(dest []float32, nFrames int) (int, error) {
	if cap(d.scratch) < nFrames {
		d.scratch = make([][2]float64, nFrames)
	}
	buf := d.scratch[:nFrames]

	n, ok := d.streamer.Stream(buf)
	if err := d.streamer.Err(); err != nil {
		return 0, err
	}
	for i := 0; i < n; i++ {
		dest[i*2] = float32(buf[i][0])
		dest[i*2+1] = float32(buf[i][1])
	}
	if !ok && n == 0 {
		return 0, nil
	}
	return n, nil
}

func (d *containerDecoder) SeekToSample(n int64) error {
	total := int64(d.streamer.Len())
	if n < 0 {
		n = 0
	}
	if n > total {
		n = total
	}
	return d.streamer.Seek(int(n))
}

func (d *containerDecoder) TotalSamples() int64 { return int64(d.streamer.Len()) }
func (d *containerDecoder) SampleRateHz() int   { return int(d.format.SampleRate) }
func (d *containerDecoder) ChannelCount() int   { return 2 }
func (d *containerDecoder) BitDepth() int       { return d.format.Precision * 8 }

func (d *containerDecoder) Close() error {
	err := d.streamer.Close()
	if cerr := d.f.Close(); err == nil {
		err = cerr
	}
	return err
}
