package pump

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump/daqtask"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// fakeDecoder is a deterministic in-memory decoder: each frame's samples
// equal the frame index, so tests can assert exactly what reached the task.
type fakeDecoder struct {
	channels     int
	sampleRateHz int
	total        int64
	pos          int64
	failOnce     bool
	failed       bool
}

func (d *fakeDecoder) ReadInto(dest []float32, nFrames int) (int, error) {
	if d.failOnce && !d.failed {
		d.failed = true
		return 0, errors.New("simulated transient read error")
	}
	remaining := d.total - d.pos
	n := int64(nFrames)
	if remaining < n {
		n = remaining
	}
	for i := int64(0); i < n; i++ {
		for c := 0; c < d.channels; c++ {
			dest[int(i)*d.channels+c] = float32(d.pos + i)
		}
	}
	d.pos += n
	return int(n), nil
}

func (d *fakeDecoder) SeekToSample(n int64) error {
	d.pos = n
	d.failed = false
	return nil
}
func (d *fakeDecoder) TotalSamples() int64 { return d.total }
func (d *fakeDecoder) SampleRateHz() int   { return d.sampleRateHz }
func (d *fakeDecoder) ChannelCount() int   { return d.channels }
func (d *fakeDecoder) BitDepth() int       { return 32 }
func (d *fakeDecoder) Close() error        { return nil }

// fakeTask is a synchronous, test-driven stand-in for daqtask.Task: Start
// just records the callback, and tests invoke fire() to simulate one
// hardware buffer boundary instead of waiting on a ticker.
type fakeTask struct {
	mu         sync.Mutex
	started    bool
	doHigh     bool
	callback   func()
	lastWrite  []float32
	writeErr   error
	underflow  bool
	closeCalls int
}

func (t *fakeTask) Start(cb func()) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = true
	t.doHigh = true
	t.callback = cb
	return nil
}

func (t *fakeTask) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.started = false
	t.doHigh = false
	return nil
}

func (t *fakeTask) Write(buf []float32) (daqtask.WriteResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return daqtask.WriteResult{}, t.writeErr
	}
	t.lastWrite = append([]float32(nil), buf...)
	return daqtask.WriteResult{Underflow: t.underflow}, nil
}

func (t *fakeTask) DOHigh() bool { t.mu.Lock(); defer t.mu.Unlock(); return t.doHigh }
func (t *fakeTask) Close() error { t.closeCalls++; return nil }

func (t *fakeTask) fire() {
	t.mu.Lock()
	cb := t.callback
	t.mu.Unlock()
	cb()
}

type fakeSink struct {
	mu          sync.Mutex
	progress    int
	completed   int
	errs        []error
}

func (s *fakeSink) OnProgress() { s.mu.Lock(); s.progress++; s.mu.Unlock() }
func (s *fakeSink) OnCompleted() { s.mu.Lock(); s.completed++; s.mu.Unlock() }
func (s *fakeSink) OnError(err error) { s.mu.Lock(); s.errs = append(s.errs, err); s.mu.Unlock() }

func testAsset(totalSamples int64) model.AudioAsset {
	return model.AudioAsset{Path: "fake.wav", SampleRateHz: 44100, ChannelCount: 1, TotalSamples: totalSamples}
}

func testDevice() model.DeviceDescriptor {
	return model.DeviceDescriptor{Name: "Dev1", AOLineCount: 1, DOLineCount: 1, MaxAORateHz: 1_000_000}
}

func setup(t *testing.T, totalSamples int64) (*Pump, *transport.Machine, *fakeTask, *fakeSink) {
	t.Helper()
	machine := transport.NewMachine()
	var task *fakeTask
	sink := &fakeSink{}
	p := New(machine, func(daqtask.Config) daqtask.Task {
		task = &fakeTask{}
		return task
	}, sink)

	dec := &fakeDecoder{channels: 1, sampleRateHz: 44100, total: totalSamples}
	err := p.Load(testAsset(totalSamples), testDevice(), model.ChannelSpec{AOChannels: []string{"ao0"}, DOChannels: []string{"port0/line0"}}, 4, dec)
	require.NoError(t, err)
	return p, machine, task, sink
}

func TestLoadPrimesFirstBufferAndTransitionsToLoaded(t *testing.T) {
	_, machine, _, _ := setup(t, 100)
	assert.Equal(t, transport.Loaded, machine.State())
}

func TestPlayStartsTaskAndDrivesDOHigh(t *testing.T) {
	p, machine, task, _ := setup(t, 100)
	require.NoError(t, p.Play())
	assert.Equal(t, transport.Playing, machine.State())
	assert.True(t, task.DOHigh())
}

func TestCallbackAdvancesPositionAndSignalsProgress(t *testing.T) {
	p, machine, task, sink := setup(t, 100)
	require.NoError(t, p.Play())

	task.fire()

	snap := machine.Snapshot()
	assert.EqualValues(t, 4, snap.Position)
	assert.Equal(t, 1, sink.progress)
	assert.NotNil(t, task.lastWrite)
}

func TestPauseStopsTaskAndDrivesDOLow(t *testing.T) {
	p, machine, task, _ := setup(t, 100)
	require.NoError(t, p.Play())
	require.NoError(t, p.Pause())
	assert.Equal(t, transport.Paused, machine.State())
	assert.False(t, task.DOHigh())
}

func TestSeekRepositionsDecoderAndJob(t *testing.T) {
	p, machine, _, _ := setup(t, 100)
	require.NoError(t, p.Play())

	require.NoError(t, p.Seek(50))

	snap := machine.Snapshot()
	assert.EqualValues(t, 50, snap.Position)
	assert.Equal(t, transport.Playing, snap.State)
}

func TestEndOfStreamTransitionsToCompleted(t *testing.T) {
	p, machine, task, sink := setup(t, 4)
	require.NoError(t, p.Play())

	task.fire() // consumes the last 4 primed+remaining samples, reaches EOF
	task.fire() // decoder now returns 0 frames: end of stream

	assert.Equal(t, transport.Completed, machine.State())
	assert.Equal(t, 1, sink.completed)
}

func TestReplayFromCompletedSeeksToZero(t *testing.T) {
	p, machine, task, _ := setup(t, 4)
	require.NoError(t, p.Play())
	task.fire()
	task.fire()
	require.Equal(t, transport.Completed, machine.State())

	require.NoError(t, p.Play())
	assert.Equal(t, transport.Playing, machine.State())
	assert.EqualValues(t, 0, machine.Snapshot().Position)
}

func TestUnderflowEscalatesToPausedWithErrorAfterThreshold(t *testing.T) {
	p, machine, task, sink := setup(t, 10_000)
	require.NoError(t, p.Play())

	task.mu.Lock()
	task.underflow = true
	task.mu.Unlock()

	task.fire()
	task.fire()
	task.fire()

	assert.Equal(t, transport.Paused, machine.State())
	snap := machine.Snapshot()
	require.Error(t, snap.Err)
	assert.ErrorIs(t, snap.Err, ErrUnderflowEscalated)
	require.Len(t, sink.errs, 1)
}

func TestDriverErrorOnWriteForcesIdle(t *testing.T) {
	p, machine, task, sink := setup(t, 10_000)
	require.NoError(t, p.Play())

	task.mu.Lock()
	task.writeErr = errors.New("DAQmx: device removed")
	task.mu.Unlock()

	task.fire()

	assert.Equal(t, transport.Idle, machine.State())
	require.Len(t, sink.errs, 1)
}

func TestVolumeAndMuteApplyAtNextCallback(t *testing.T) {
	p, machine, task, _ := setup(t, 100)
	require.NoError(t, p.Play())

	p.SetVolume(50)
	task.fire()
	full := append([]float32(nil), task.lastWrite...)

	p.SetMuted(true)
	task.fire()
	muted := task.lastWrite

	assert.NotZero(t, full[1])
	for _, v := range muted {
		assert.Zero(t, v)
	}
	_ = machine
}

func TestTerminateClosesTaskAndDecoder(t *testing.T) {
	p, machine, task, _ := setup(t, 100)
	require.NoError(t, p.Terminate())
	assert.Equal(t, transport.Idle, machine.State())
	assert.Equal(t, 1, task.closeCalls)
}
