package mapper

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonoFanOut(t *testing.T) {
	src := []float32{0.5}
	dst := make([]float32, 4)
	Map(src, dst, Policy{SourceChannels: 1, VolumePct: 100})
	for _, v := range dst {
		assert.InDelta(t, 0.5, v, 1e-6)
	}
}

func TestStereoNoFlip(t *testing.T) {
	src := []float32{0.2, -0.4} // L, R
	dst := make([]float32, 4)
	Map(src, dst, Policy{SourceChannels: 2, VolumePct: 100})
	assert.InDelta(t, 0.2, dst[0], 1e-6)  // ao0 = L
	assert.InDelta(t, -0.4, dst[1], 1e-6) // ao1 = R
	assert.InDelta(t, 0.2, dst[2], 1e-6)  // ao2 = L
	assert.InDelta(t, -0.4, dst[3], 1e-6) // ao3 = R
}

func TestStereoFlip(t *testing.T) {
	src := []float32{0.2, -0.4}
	dst := make([]float32, 4)
	Map(src, dst, Policy{SourceChannels: 2, FlipLRStereo: true, VolumePct: 100})
	assert.InDelta(t, -0.4, dst[0], 1e-6) // ao0 = R
	assert.InDelta(t, 0.2, dst[1], 1e-6)  // ao1 = L
}

func TestWrapAroundThreeChannels(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3}
	dst := make([]float32, 5)
	Map(src, dst, Policy{SourceChannels: 3, VolumePct: 100})
	want := []float32{0.1, 0.2, 0.3, 0.1, 0.2}
	for i := range dst {
		assert.InDelta(t, want[i], dst[i], 1e-6)
	}
}

func TestFlipIgnoredWhenSourceNotStereo(t *testing.T) {
	src := []float32{0.1, 0.2, 0.3}
	dstNoFlip := make([]float32, 3)
	dstFlip := make([]float32, 3)
	Map(src, dstNoFlip, Policy{SourceChannels: 3, VolumePct: 100})
	Map(src, dstFlip, Policy{SourceChannels: 3, FlipLRStereo: true, VolumePct: 100})
	assert.Equal(t, dstNoFlip, dstFlip)
}

func TestMutedProducesSilence(t *testing.T) {
	src := []float32{0.9, -0.9}
	dst := make([]float32, 2)
	Map(src, dst, Policy{SourceChannels: 2, Muted: true, VolumePct: 100})
	for _, v := range dst {
		assert.Equal(t, float32(0), v)
	}
}

func TestVolumeClampedToRange(t *testing.T) {
	src := []float32{1.0}
	dst := make([]float32, 1)
	Map(src, dst, Policy{SourceChannels: 1, VolumePct: 250})
	assert.InDelta(t, 1.0, dst[0], 1e-6)

	Map(src, dst, Policy{SourceChannels: 1, VolumePct: -10})
	assert.Equal(t, float32(0), dst[0])
}
