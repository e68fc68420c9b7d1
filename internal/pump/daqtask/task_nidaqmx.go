//go:build nidaqmx

package daqtask

import (
	"fmt"
	"sync"
	"unsafe"
)

/*
#cgo CFLAGS: -I$NIDAQMX_DIR/include
#cgo LDFLAGS: -L$NIDAQMX_DIR/lib64/msvc -lnidaqmx
#include <NIDAQmx.h>
#include <stdlib.h>

extern void goAOCallback(void *data);

static int32 registerDoneCallback(TaskHandle task, void *data) {
	return DAQmxRegisterEveryNSamplesEvent(task, DAQmx_Val_Transferred_From_Buffer, 0, 0,
		(DAQmxEveryNSamplesEventCallbackPtr)goAOCallback, data);
}
*/
import "C"

// nidaqmxTask drives real NI-DAQmx AO/DO tasks. Buildable only with the
// NIDAQmx.h headers and shared library installed (set NIDAQMX_DIR): a
// hardware-specific implementation behind an opt-in build tag, with a
// software-simulated default (task_simulated.go) for everyday development
// and CI.
type nidaqmxTask struct {
	mu       sync.Mutex
	aoHandle C.TaskHandle
	doHandle C.TaskHandle
	cfg      Config
	running  bool
	doHigh   bool
	callback func()
}

//export goAOCallback
func goAOCallback(data unsafe.Pointer) {
	t := (*nidaqmxTask)(data)
	if t.callback != nil {
		t.callback()
	}
}

// NewHardwareTask creates a Task bound to real NI-DAQmx AO+DO lines.
func NewHardwareTask(cfg Config) (Task, error) {
	t := &nidaqmxTask{cfg: cfg}

	if status := C.DAQmxCreateTask(C.CString(""), &t.aoHandle); status != 0 {
		return nil, fmt.Errorf("DAQmxCreateTask(ao): status %d", status)
	}
	for _, ch := range cfg.AOChannels {
		physChan := C.CString(cfg.DeviceName + "/" + ch)
		defer C.free(unsafe.Pointer(physChan))
		if status := C.DAQmxCreateAOVoltageChan(t.aoHandle, physChan, nil, -10.0, 10.0, C.DAQmx_Val_Volts, nil); status != 0 {
			return nil, fmt.Errorf("DAQmxCreateAOVoltageChan(%s): status %d", ch, status)
		}
	}
	if status := C.DAQmxCfgSampClkTiming(t.aoHandle, nil, C.float64(cfg.SampleRateHz), C.DAQmx_Val_Rising,
		C.DAQmx_Val_ContSamps, C.uInt64(cfg.SamplesPerFrame)); status != 0 {
		return nil, fmt.Errorf("DAQmxCfgSampClkTiming: status %d", status)
	}

	if status := C.DAQmxCreateTask(C.CString(""), &t.doHandle); status != 0 {
		return nil, fmt.Errorf("DAQmxCreateTask(do): status %d", status)
	}
	for _, ch := range cfg.DOChannels {
		physChan := C.CString(cfg.DeviceName + "/" + ch)
		defer C.free(unsafe.Pointer(physChan))
		if status := C.DAQmxCreateDOChan(t.doHandle, physChan, nil, C.DAQmx_Val_ChanForAllLines); status != 0 {
			return nil, fmt.Errorf("DAQmxCreateDOChan(%s): status %d", ch, status)
		}
	}

	if status := C.registerDoneCallback(t.aoHandle, unsafe.Pointer(t)); status != 0 {
		return nil, fmt.Errorf("DAQmxRegisterEveryNSamplesEvent: status %d", status)
	}

	return t, nil
}

func (t *nidaqmxTask) Start(callback func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return fmt.Errorf("nidaqmx task already running")
	}
	t.callback = callback
	if err := t.setDOLevel(true); err != nil {
		return err
	}
	if status := C.DAQmxStartTask(t.doHandle); status != 0 {
		return fmt.Errorf("DAQmxStartTask(do): status %d", status)
	}
	if status := C.DAQmxStartTask(t.aoHandle); status != 0 {
		return fmt.Errorf("DAQmxStartTask(ao): status %d", status)
	}
	t.running = true
	return nil
}

func (t *nidaqmxTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		return nil
	}
	t.running = false
	C.DAQmxStopTask(t.aoHandle)
	C.DAQmxStopTask(t.doHandle)
	return t.setDOLevel(false)
}

func (t *nidaqmxTask) setDOLevel(high bool) error {
	var bits C.uInt32
	if high {
		bits = 0x3 // both configured DO lines HIGH
	}
	if status := C.DAQmxWriteDigitalU32(t.doHandle, 1, 1, 10.0, C.DAQmx_Val_GroupByChannel, &bits, nil, nil); status != 0 {
		return fmt.Errorf("DAQmxWriteDigitalU32: status %d", status)
	}
	t.doHigh = high
	return nil
}

func (t *nidaqmxTask) Write(buf []float32) (WriteResult, error) {
	scratch := make([]C.float64, len(buf))
	for i, v := range buf {
		scratch[i] = C.float64(v)
	}

	var written C.int32
	status := C.DAQmxWriteAnalogF64(t.aoHandle, C.int32(len(buf)/len(t.cfg.AOChannels)), 0, 10.0,
		C.DAQmx_Val_GroupByScanNumber, &scratch[0], &written, nil)
	if status == C.DAQmxErrorSamplesNotYetAvailable {
		return WriteResult{Underflow: true}, nil
	}
	if status != 0 {
		return WriteResult{}, fmt.Errorf("DAQmxWriteAnalogF64: status %d", status)
	}
	return WriteResult{}, nil
}

func (t *nidaqmxTask) DOHigh() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.doHigh
}

func (t *nidaqmxTask) Close() error {
	t.Stop()
	C.DAQmxClearTask(t.aoHandle)
	C.DAQmxClearTask(t.doHandle)
	return nil
}
