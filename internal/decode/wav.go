package decode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	goaudiowav "github.com/go-audio/wav"
)

// wavDecoder streams PCM frames directly out of a WAV file's data chunk.
//
// go-audio/wav's Decoder is built around loading a *audio.IntBuffer in one
// shot (FullPCMBuffer); that buffered-whole-file model cannot express the
// short-read-on-stall semantics the Frame Pump's underflow contract
// requires, so the hot read/seek path below parses the RIFF
// chunk layout directly against the open file handle. go-audio/wav is still
// used as an independent sanity check at Open time (IsValidFile), since it
// is a battle-tested parser and a cheap way to reject a corrupt file before
// committing to the hand-rolled reader.
type wavDecoder struct {
	f *os.File

	dataOffset int64
	dataSize   int64

	channels       int
	sampleRateHz   int
	bitDepth       int
	isFloat        bool
	bytesPerSample int

	totalFrames int64
	posFrames   int64

	raw []byte // ReadInto byte buffer, grown on demand
}

// OpenWAV opens path as a WAV file and prepares it for streaming reads.
func OpenWAV(path string) (Decoder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	probe := goaudiowav.NewDecoder(f)
	if !probe.IsValidFile() {
		f.Close()
		if probe.Err() != nil {
			return nil, fmt.Errorf("invalid wav file %s: %w", path, probe.Err())
		}
		return nil, fmt.Errorf("invalid wav file %s", path)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}

	d := &wavDecoder{f: f}
	if err := d.parseHeader(); err != nil {
		f.Close()
		return nil, fmt.Errorf("parse wav header %s: %w", path, err)
	}
	return d, nil
}

func (d *wavDecoder) parseHeader() error {
	var riff [12]byte
	if _, err := io.ReadFull(d.f, riff[:]); err != nil {
		return err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return fmt.Errorf("not a RIFF/WAVE file")
	}

	haveFmt := false
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(d.f, hdr[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return err
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(d.f, body); err != nil {
				return err
			}
			if len(body) < 16 {
				return fmt.Errorf("fmt chunk too small: %d bytes", len(body))
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			d.channels = int(binary.LittleEndian.Uint16(body[2:4]))
			d.sampleRateHz = int(binary.LittleEndian.Uint32(body[4:8]))
			d.bitDepth = int(binary.LittleEndian.Uint16(body[14:16]))
			d.isFloat = audioFormat == 3
			d.bytesPerSample = d.bitDepth / 8
			haveFmt = true
			if size%2 == 1 {
				d.f.Seek(1, io.SeekCurrent)
			}
		case "data":
			if !haveFmt {
				return fmt.Errorf("data chunk encountered before fmt chunk")
			}
			off, err := d.f.Seek(0, io.SeekCurrent)
			if err != nil {
				return err
			}
			d.dataOffset = off
			d.dataSize = size
			if d.channels > 0 && d.bytesPerSample > 0 {
				d.totalFrames = d.dataSize / int64(d.channels*d.bytesPerSample)
			}
			// Data chunk located; remaining chunks (LIST, cue, etc.) are
			// not needed for streaming playback.
			return nil
		default:
			if size%2 == 1 {
				size++ // chunks are word-aligned
			}
			if _, err := d.f.Seek(size, io.SeekCurrent); err != nil {
				return err
			}
		}
	}
	if !haveFmt {
		return fmt.Errorf("missing fmt chunk")
	}
	return fmt.Errorf("missing data chunk")
}

func (d *wavDecoder) ReadInto(dest []float32, nFrames int) (int, error) {
	if d.posFrames >= d.totalFrames {
		return 0, nil
	}
	remaining := d.totalFrames - d.posFrames
	if int64(nFrames) > remaining {
		nFrames = int(remaining)
	}
	need := nFrames * d.channels * d.bytesPerSample
	if cap(d.raw) < need {
		d.raw = make([]byte, need)
	}
	buf := d.raw[:need]
	n, err := io.ReadFull(d.f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, err
	}
	framesRead := n / (d.channels * d.bytesPerSample)
	d.posFrames += int64(framesRead)

	samples := framesRead * d.channels
	for i := 0; i < samples; i++ {
		off := i * d.bytesPerSample
		dest[i] = d.decodeSample(buf[off : off+d.bytesPerSample])
	}
	return framesRead, nil
}

func (d *wavDecoder) decodeSample(b []byte) float32 {
	switch {
	case d.isFloat && d.bytesPerSample == 4:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	case d.bytesPerSample == 1: // 8-bit PCM is unsigned
		return (float32(b[0]) - 128) / 128
	case d.bytesPerSample == 2:
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	case d.bytesPerSample == 3:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF)
		}
		return float32(v) / 8388608
	case d.bytesPerSample == 4:
		return float32(int32(binary.LittleEndian.Uint32(b))) / 2147483648
	default:
		return 0
	}
}

func (d *wavDecoder) SeekToSample(n int64) error {
	if n < 0 {
		n = 0
	}
	if n > d.totalFrames {
		n = d.totalFrames
	}
	byteOffset := d.dataOffset + n*int64(d.channels*d.bytesPerSample)
	if _, err := d.f.Seek(byteOffset, io.SeekStart); err != nil {
		return err
	}
	d.posFrames = n
	return nil
}

func (d *wavDecoder) TotalSamples() int64 { return d.totalFrames }
func (d *wavDecoder) SampleRateHz() int   { return d.sampleRateHz }
func (d *wavDecoder) ChannelCount() int   { return d.channels }
func (d *wavDecoder) BitDepth() int       { return d.bitDepth }
func (d *wavDecoder) Close() error        { return d.f.Close() }
