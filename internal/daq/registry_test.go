package daq

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
)

func TestListDevicesReturnsSimulatedDevice(t *testing.T) {
	r := NewRegistry(NewSimulatedProvider())
	devices, err := r.ListDevices()
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "Dev1", devices[0].Name)
}

func TestListDevicesIsCached(t *testing.T) {
	provider := NewSimulatedProvider()
	r := NewRegistry(provider)
	_, err := r.ListDevices()
	require.NoError(t, err)

	provider.Devices = append(provider.Devices, model.DeviceDescriptor{Name: "Dev2"})
	devices, err := r.ListDevices()
	require.NoError(t, err)
	assert.Len(t, devices, 1, "cached result should not reflect provider mutation until Refresh")
}

func TestRefreshPicksUpNewDevices(t *testing.T) {
	provider := NewSimulatedProvider()
	r := NewRegistry(provider)
	_, err := r.ListDevices()
	require.NoError(t, err)

	provider.Devices = append(provider.Devices, model.DeviceDescriptor{Name: "Dev2"})
	devices, err := r.Refresh()
	require.NoError(t, err)
	assert.Len(t, devices, 2)
}

func TestValidateRejectsTooManyAOChannels(t *testing.T) {
	r := NewRegistry(NewSimulatedProvider())
	device := model.DeviceDescriptor{Name: "Dev1", AOLineCount: 2, DOLineCount: 2}
	spec := model.ChannelSpec{AOChannels: []string{"ao0", "ao1", "ao2"}}
	err := r.Validate(device, spec)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestValidateRejectsDuplicateChannelNames(t *testing.T) {
	r := NewRegistry(NewSimulatedProvider())
	device := model.DeviceDescriptor{Name: "Dev1", AOLineCount: 4, DOLineCount: 2}
	spec := model.ChannelSpec{AOChannels: []string{"ao0", "ao0"}}
	err := r.Validate(device, spec)
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestValidateAcceptsWellFormedSpec(t *testing.T) {
	r := NewRegistry(NewSimulatedProvider())
	device := model.DeviceDescriptor{Name: "Dev1", AOLineCount: 4, DOLineCount: 2}
	spec := model.ChannelSpec{
		AOChannels: []string{"ao0", "ao1", "ao2", "ao3"},
		DOChannels: []string{"port0/line0", "port0/line1"},
	}
	assert.NoError(t, r.Validate(device, spec))
}

func TestFindReturnsErrorForUnknownDevice(t *testing.T) {
	r := NewRegistry(NewSimulatedProvider())
	_, err := r.Find("DevUnknown")
	assert.ErrorIs(t, err, ErrInvalidChannel)
}
