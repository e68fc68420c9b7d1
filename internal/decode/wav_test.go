package decode

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestWAV writes a minimal 16-bit PCM WAV file with the given
// interleaved samples and returns its path.
func writeTestWAV(t *testing.T, channels, sampleRate int, samples []int16) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.wav")

	dataBytes := len(samples) * 2
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	write := func(v any) {
		require.NoError(t, binary.Write(f, binary.LittleEndian, v))
	}

	f.WriteString("RIFF")
	write(uint32(36 + dataBytes))
	f.WriteString("WAVE")

	f.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1)) // PCM
	write(uint16(channels))
	write(uint32(sampleRate))
	write(uint32(byteRate))
	write(uint16(blockAlign))
	write(uint16(16)) // bit depth

	f.WriteString("data")
	write(uint32(dataBytes))
	for _, s := range samples {
		write(s)
	}

	return path
}

func TestWAVDecoderReportsHeaderFields(t *testing.T) {
	path := writeTestWAV(t, 2, 44100, []int16{1000, -1000, 2000, -2000})
	d, err := OpenWAV(path)
	require.NoError(t, err)
	defer d.Close()

	assert.Equal(t, 2, d.ChannelCount())
	assert.Equal(t, 44100, d.SampleRateHz())
	assert.Equal(t, 16, d.BitDepth())
	assert.Equal(t, int64(2), d.TotalSamples())
}

func TestWAVDecoderReadIntoProducesNormalizedSamples(t *testing.T) {
	path := writeTestWAV(t, 1, 8000, []int16{16384, -16384})
	d, err := OpenWAV(path)
	require.NoError(t, err)
	defer d.Close()

	dest := make([]float32, 2)
	n, err := d.ReadInto(dest, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.InDelta(t, 0.5, dest[0], 1e-4)
	assert.InDelta(t, -0.5, dest[1], 1e-4)
}

func TestWAVDecoderShortReadAtEndOfStream(t *testing.T) {
	path := writeTestWAV(t, 1, 8000, []int16{100, 200, 300})
	d, err := OpenWAV(path)
	require.NoError(t, err)
	defer d.Close()

	dest := make([]float32, 10)
	n, err := d.ReadInto(dest, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = d.ReadInto(dest, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWAVDecoderSeekToSampleRoundTrips(t *testing.T) {
	path := writeTestWAV(t, 2, 44100, []int16{1, 2, 3, 4, 5, 6, 7, 8})
	d, err := OpenWAV(path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.SeekToSample(2))
	dest := make([]float32, 2)
	n, err := d.ReadInto(dest, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.InDelta(t, float32(5)/32768, dest[0], 1e-6)
	assert.InDelta(t, float32(6)/32768, dest[1], 1e-6)
}

func TestWAVDecoderSeekClampsToValidRange(t *testing.T) {
	path := writeTestWAV(t, 1, 8000, []int16{1, 2, 3})
	d, err := OpenWAV(path)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.SeekToSample(1000))
	dest := make([]float32, 1)
	n, _ := d.ReadInto(dest, 1)
	assert.Equal(t, 0, n)
}
