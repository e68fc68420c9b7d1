//go:build nidaqmx

package daq

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
)

/*
#cgo CFLAGS: -I$NIDAQMX_DIR/include
#cgo LDFLAGS: -L$NIDAQMX_DIR/lib64/msvc -lnidaqmx
#include <NIDAQmx.h>
#include <stdlib.h>
*/
import "C"

// NIDAQmxProvider enumerates real NI-DAQmx devices. Buildable only with the
// NIDAQmx.h headers and shared library installed (set NIDAQMX_DIR).
type NIDAQmxProvider struct{}

func (NIDAQmxProvider) ListDevices() ([]model.DeviceDescriptor, error) {
	buf := make([]byte, 4096)
	if status := C.DAQmxGetSysDevNames((*C.char)(unsafe.Pointer(&buf[0])), C.uInt32(len(buf))); status != 0 {
		return nil, fmt.Errorf("DAQmxGetSysDevNames: status %d", status)
	}
	names := strings.Split(strings.TrimRight(string(buf), "\x00"), ", ")

	var out []model.DeviceDescriptor
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		d, err := describeDevice(name)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func describeDevice(name string) (model.DeviceDescriptor, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))

	var productType [256]C.char
	C.DAQmxGetDevProductType(cname, &productType[0], C.uInt32(len(productType)))

	var maxRate C.float64
	C.DAQmxGetDevAOMaxRate(cname, &maxRate)

	var aoChans [4096]byte
	C.DAQmxGetDevAOPhysicalChans(cname, (*C.char)(unsafe.Pointer(&aoChans[0])), C.uInt32(len(aoChans)))
	var doChans [4096]byte
	C.DAQmxGetDevDOLines(cname, (*C.char)(unsafe.Pointer(&doChans[0])), C.uInt32(len(doChans)))

	return model.DeviceDescriptor{
		Name:            name,
		ProductType:     C.GoString(&productType[0]),
		ProductCategory: "DAQ",
		MaxAORateHz:     int(maxRate),
		AOLineCount:     countChannels(string(aoChans[:])),
		DOLineCount:     countChannels(string(doChans[:])),
	}, nil
}

func countChannels(csv string) int {
	csv = strings.TrimRight(csv, "\x00")
	if csv == "" {
		return 0
	}
	return len(strings.Split(csv, ", "))
}

func (NIDAQmxProvider) DriverVersion() (string, error) {
	var major, minor, update C.uInt32
	if status := C.DAQmxGetSysNIDAQMajorVersion(&major); status != 0 {
		return "", fmt.Errorf("DAQmxGetSysNIDAQMajorVersion: status %d", status)
	}
	C.DAQmxGetSysNIDAQMinorVersion(&minor)
	C.DAQmxGetSysNIDAQUpdateVersion(&update)
	return fmt.Sprintf("%d.%d.%d", major, minor, update), nil
}
