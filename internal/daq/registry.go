// Package daq implements the Device Registry component:
// enumerating DAQ devices and driver version, and validating channel specs
// against a selected device.
package daq

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
)

// Provider is the narrow hardware-probing capability the Registry caches.
// The nidaqmx build provides a real implementation that enumerates
// NI-DAQmx system devices; SimulatedProvider is the default, used by tests
// and by any environment without the driver installed.
type Provider interface {
	ListDevices() ([]model.DeviceDescriptor, error)
	DriverVersion() (string, error)
}

// Registry caches enumeration/driver-version results and serves
// Device Registry operations. Enumeration is explicitly
// refreshable on operator request.
type Registry struct {
	mu       sync.Mutex
	provider Provider
	logger   zerolog.Logger

	cachedDevices []model.DeviceDescriptor
	cachedVersion string
	cachedAt      time.Time
}

// NewRegistry creates a Registry backed by provider.
func NewRegistry(provider Provider) *Registry {
	return &Registry{provider: provider, logger: logging.Component("daq-registry")}
}

// ListDevices returns the cached device list, populating the cache on
// first call.
func (r *Registry) ListDevices() ([]model.DeviceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedDevices != nil {
		return r.cachedDevices, nil
	}
	return r.refreshLocked()
}

// Refresh forces re-enumeration, clearing the cache.
func (r *Registry) Refresh() ([]model.DeviceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refreshLocked()
}

func (r *Registry) refreshLocked() ([]model.DeviceDescriptor, error) {
	devices, err := r.provider.ListDevices()
	if err != nil {
		r.logger.Warn().Err(err).Msg("device enumeration failed")
		return nil, err
	}
	r.cachedDevices = devices
	r.cachedAt = time.Now()
	return devices, nil
}

// DriverVersion returns the cached driver version string, if any.
func (r *Registry) DriverVersion() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cachedVersion != "" {
		return r.cachedVersion, nil
	}
	v, err := r.provider.DriverVersion()
	if err != nil {
		return "", err
	}
	r.cachedVersion = v
	return v, nil
}

// Validate checks a ChannelSpec against device's line counts and name
// uniqueness.
func (r *Registry) Validate(device model.DeviceDescriptor, channels model.ChannelSpec) error {
	if err := channels.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChannel, err)
	}
	if len(channels.AOChannels) > device.AOLineCount {
		return fmt.Errorf("%w: requested %d AO channels, device %q has %d",
			ErrInvalidChannel, len(channels.AOChannels), device.Name, device.AOLineCount)
	}
	if len(channels.DOChannels) > device.DOLineCount {
		return fmt.Errorf("%w: requested %d DO channels, device %q has %d",
			ErrInvalidChannel, len(channels.DOChannels), device.Name, device.DOLineCount)
	}
	return nil
}

// Find returns the descriptor for name, or an error if it is not among the
// (possibly cached) enumerated devices.
func (r *Registry) Find(name string) (model.DeviceDescriptor, error) {
	devices, err := r.ListDevices()
	if err != nil {
		return model.DeviceDescriptor{}, err
	}
	for _, d := range devices {
		if d.Name == name {
			return d, nil
		}
	}
	return model.DeviceDescriptor{}, fmt.Errorf("%w: device %q not found", ErrInvalidChannel, name)
}

// ErrInvalidChannel is the ValidationError taxonomy entry for bad channel
// specs.
var ErrInvalidChannel = fmt.Errorf("invalid channel spec")
