package daq

import "github.com/codynhanpham/nidaq-audioplayer/internal/model"

// SimulatedProvider returns a fixed device list shaped like a common NI
// multifunction DAQ (e.g. a PCIe-6343-class card): 4 AO lines at up to
// 1 MHz, 8 DO lines. The serve command uses it with or without the nidaqmx
// build tag; NIDAQmxProvider (provider_nidaqmx.go) exists in tagged builds
// but serve does not select it.
type SimulatedProvider struct {
	Devices []model.DeviceDescriptor
	Version string
}

// NewSimulatedProvider returns a provider seeded with one simulated
// device, sufficient to drive load/play/seek/pause without real hardware.
func NewSimulatedProvider() *SimulatedProvider {
	return &SimulatedProvider{
		Devices: []model.DeviceDescriptor{
			{
				Name:            "Dev1",
				ProductType:     "PCIe-6343",
				ProductCategory: "M Series DAQ",
				MaxAORateHz:     1_000_000,
				AOLineCount:     4,
				DOLineCount:     8,
			},
		},
		Version: "simulated-0.0.0",
	}
}

func (p *SimulatedProvider) ListDevices() ([]model.DeviceDescriptor, error) {
	out := make([]model.DeviceDescriptor, len(p.Devices))
	copy(out, p.Devices)
	return out, nil
}

func (p *SimulatedProvider) DriverVersion() (string, error) {
	return p.Version, nil
}
