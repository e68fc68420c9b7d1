package control

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codynhanpham/nidaq-audioplayer/internal/daq"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump/daqtask"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// writeTestWAV writes a minimal mono 16-bit PCM WAV file with nSamples
// silent frames and returns its path.
func writeTestWAV(t *testing.T, dir string, nSamples, sampleRate int) string {
	t.Helper()
	path := filepath.Join(dir, "test.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	dataBytes := nSamples * 2
	write := func(v any) { require.NoError(t, binary.Write(f, binary.LittleEndian, v)) }

	f.WriteString("RIFF")
	write(uint32(36 + dataBytes))
	f.WriteString("WAVE")
	f.WriteString("fmt ")
	write(uint32(16))
	write(uint16(1))
	write(uint16(1))
	write(uint32(sampleRate))
	write(uint32(sampleRate * 2))
	write(uint16(2))
	write(uint16(16))
	f.WriteString("data")
	write(uint32(dataBytes))
	for i := 0; i < nSamples; i++ {
		write(int16(0))
	}
	return path
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	machine := transport.NewMachine()
	newTask := func(c daqtask.Config) daqtask.Task { return daqtask.NewSimulatedTask(c) }
	p := pump.New(machine, newTask, noopSink{})
	registry := daq.NewRegistry(daq.NewSimulatedProvider())
	pool := NewDefaultWorkerPool()
	t.Cleanup(func() { pool.Shutdown(false) })

	libDir := t.TempDir()
	e := NewEngine(machine, p, registry, pool, libDir, 12345)
	return e, libDir
}

type noopSink struct{}

func (noopSink) OnProgress()   {}
func (noopSink) OnCompleted()  {}
func (noopSink) OnError(error) {}

func decodeData(t *testing.T, raw interface{}, out interface{}) {
	t.Helper()
	b, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, out))
}

func TestHandleHealthcheckAndPID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	reply := e.Handle(ctx, Request{ID: "1", Task: "healthcheck"})
	assert.Equal(t, StatusSuccess, reply.Status)
	assert.True(t, reply.Completed)

	reply = e.Handle(ctx, Request{ID: "2", Task: "pid"})
	assert.Equal(t, StatusSuccess, reply.Status)
	var pidData map[string]interface{}
	decodeData(t, reply.Data, &pidData)
	assert.EqualValues(t, 12345, pidData["pid"])
}

func TestHandleUnknownTaskReturnsError(t *testing.T) {
	e, _ := newTestEngine(t)
	reply := e.Handle(context.Background(), Request{Task: "does_not_exist"})
	assert.Equal(t, StatusError, reply.Status)
	var errData ErrorData
	decodeData(t, reply.Data, &errData)
	assert.Equal(t, ReasonUnknownTask, errData.Reason)
}

func TestHandleLoadAudioUnknownDeviceReturnsDeviceError(t *testing.T) {
	e, dir := newTestEngine(t)
	path := writeTestWAV(t, dir, 1000, 8000)

	data, _ := json.Marshal(loadAudioRequest{FilePath: path, DeviceName: "NoSuchDevice", AOChannels: []string{"ao0"}})
	reply := e.Handle(context.Background(), Request{Task: "load_audio", Data: data})

	assert.Equal(t, StatusError, reply.Status)
	var errData ErrorData
	decodeData(t, reply.Data, &errData)
	assert.Equal(t, ReasonDeviceError, errData.Reason)
}

func TestHandleLoadAudioThenPlayThenPause(t *testing.T) {
	e, dir := newTestEngine(t)
	path := writeTestWAV(t, dir, 100_000, 8000)

	loadData, _ := json.Marshal(loadAudioRequest{
		FilePath: path, DeviceName: "Dev1", AOChannels: []string{"ao0"}, SamplesPerFrame: 256,
	})
	reply := e.Handle(context.Background(), Request{Task: "load_audio", Data: loadData})
	require.Equal(t, StatusSuccess, reply.Status)

	var loaded PlayerStatus
	decodeData(t, reply.Data, &loaded)
	assert.Equal(t, "loaded", loaded.State)

	reply = e.Handle(context.Background(), Request{Task: "play"})
	require.Equal(t, StatusSuccess, reply.Status)
	assert.False(t, reply.Completed)

	time.Sleep(50 * time.Millisecond)

	reply = e.Handle(context.Background(), Request{Task: "pause"})
	require.Equal(t, StatusSuccess, reply.Status)
	var paused PlayerStatus
	decodeData(t, reply.Data, &paused)
	assert.Equal(t, "paused", paused.State)
	assert.Greater(t, paused.PositionSamples, int64(0))
}

func TestHandleVolumeRejectsOutOfRange(t *testing.T) {
	e, _ := newTestEngine(t)
	data, _ := json.Marshal(volumeRequest{Volume: 200})
	reply := e.Handle(context.Background(), Request{Task: "volume", Data: data})
	assert.Equal(t, StatusError, reply.Status)
	var errData ErrorData
	decodeData(t, reply.Data, &errData)
	assert.Equal(t, ReasonValidation, errData.Reason)
}

func TestHandleSeekWithoutLoadedAssetReturnsInvalidState(t *testing.T) {
	e, _ := newTestEngine(t)
	tm := 1.0
	data, _ := json.Marshal(seekRequest{Time: &tm})
	reply := e.Handle(context.Background(), Request{Task: "seek", Data: data})
	assert.Equal(t, StatusError, reply.Status)
	var errData ErrorData
	decodeData(t, reply.Data, &errData)
	assert.Equal(t, ReasonInvalidState, errData.Reason)
}

func TestHandleListDevicesReturnsSimulatedDevice(t *testing.T) {
	e, _ := newTestEngine(t)
	reply := e.Handle(context.Background(), Request{Task: "list_devices"})
	require.Equal(t, StatusSuccess, reply.Status)

	var devices []map[string]interface{}
	decodeData(t, reply.Data, &devices)
	require.Len(t, devices, 1)
	assert.Equal(t, "Dev1", devices[0]["name"])
}

func TestHandleScanLibraryIndexesWrittenFile(t *testing.T) {
	e, dir := newTestEngine(t)
	writeTestWAV(t, dir, 1000, 8000)

	data, _ := json.Marshal(scanLibraryRequest{Paths: []string{dir}, RecursiveLevel: 0})
	reply := e.Handle(context.Background(), Request{Task: "scan_library", Data: data})
	require.Equal(t, StatusSuccess, reply.Status)

	var result map[string]interface{}
	decodeData(t, reply.Data, &result)
	assets, ok := result["assets"].([]interface{})
	require.True(t, ok)
	assert.Len(t, assets, 1)

	_, err := os.Stat(filepath.Join(dir, "library.bin"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "library.json"))
	assert.NoError(t, err)
}
