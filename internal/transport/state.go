// Package transport owns the canonical playback state machine
// and the PlaybackJob it drives. Handlers hold only short-lived borrows of
// the active Job; the Machine is the sole owner.
package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
)

// State is one of the six canonical transport states.
type State string

const (
	Idle      State = "idle"
	Loaded    State = "loaded"
	Playing   State = "playing"
	Paused    State = "paused"
	Seeking   State = "seeking"
	Completed State = "completed"
)

// Job is the mutable playback job created at load_audio. Fields guarded by
// Machine.mu are documented per-field; decoder/task handles are opaque to
// this package (owned and type-asserted by the Frame Pump).
type Job struct {
	Asset    model.AudioAsset
	Device   model.DeviceDescriptor
	Channels model.ChannelSpec

	SampleRateHz    int
	SamplesPerFrame int

	// Generation is an opaque job identifier. The Frame Pump does not set
	// it and no component compares it, so async messages are not filtered
	// by generation.
	Generation uuid.UUID

	// Mutable under Machine.mu; read by the audio callback with the lock
	// held for O(1) work only.
	VolumePct     int
	Muted         bool
	FlipLRStereo  bool
	LoopMode      model.LoopMode
	Position      int64 // position_samples
	TotalSamples  int64

	UnderflowEventsSinceLastTick int64
	LastError                   error

	// Hardware/decoder handle, set by the Frame Pump once tasks are created.
	// Typed as interface{} here to avoid an import cycle; pump casts it back.
	Handle interface{}
}

// Snapshot is a read-only copy of a Job safe to hand to control handlers
// without holding the lock.
type Snapshot struct {
	State        State
	Asset        model.AudioAsset
	Device       model.DeviceDescriptor
	Channels     model.ChannelSpec
	VolumePct    int
	Muted        bool
	FlipLRStereo bool
	LoopMode     model.LoopMode
	Position     int64
	TotalSamples int64
	Underflows   int64
	Err          error
}

// Machine is the single owner of the current State and Job. All
// state-mutating operations are serialized through it.
type Machine struct {
	mu    sync.Mutex
	state State
	job   *Job

	// hooks invoked while still holding mu for O(1) side effects that need
	// to happen atomically with a transition; the Frame Pump registers an
	// OnExit(Playing) hook to stop its tasks, and cmd/audioplayer registers
	// OnEnter hooks that update the transport state metric.
	onEnter map[State][]func(*Job)
	onExit  map[State][]func(*Job)
}

// NewMachine returns a Machine in the Idle state.
func NewMachine() *Machine {
	return &Machine{
		state:   Idle,
		onEnter: make(map[State][]func(*Job)),
		onExit:  make(map[State][]func(*Job)),
	}
}

// OnEnter registers a callback run (under the lock) whenever the machine
// transitions into s.
func (m *Machine) OnEnter(s State, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onEnter[s] = append(m.onEnter[s], fn)
}

// OnExit registers a callback run (under the lock) whenever the machine
// transitions out of s.
func (m *Machine) OnExit(s State, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExit[s] = append(m.onExit[s], fn)
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a consistent, lock-free-to-use copy of the current
// state and job fields.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{State: m.state}
	if m.job != nil {
		s.Asset = m.job.Asset
		s.Device = m.job.Device
		s.Channels = m.job.Channels
		s.VolumePct = m.job.VolumePct
		s.Muted = m.job.Muted
		s.FlipLRStereo = m.job.FlipLRStereo
		s.LoopMode = m.job.LoopMode
		s.Position = m.job.Position
		s.TotalSamples = m.job.TotalSamples
		s.Underflows = m.job.UnderflowEventsSinceLastTick
		s.Err = m.job.LastError
	}
	return s
}

// errInvalidTransition reports a rejected transition.
func errInvalidTransition(from State, event string) error {
	return fmt.Errorf("invalid transition: event %q not allowed in state %q", event, from)
}

// transition moves the machine from its current state to `to`, running exit
// hooks for the old state and enter hooks for the new one, all under the
// lock (side effects must be O(1): arranging goroutine starts/stops, not
// performing decoder I/O inline).
func (m *Machine) transition(event string, allowed []State, to State, mutate func(*Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ok := false
	for _, s := range allowed {
		if m.state == s {
			ok = true
			break
		}
	}
	if !ok {
		return errInvalidTransition(m.state, event)
	}

	from := m.state
	if mutate != nil {
		mutate(m.job)
	}
	for _, fn := range m.onExit[from] {
		fn(m.job)
	}
	m.state = to
	for _, fn := range m.onEnter[to] {
		fn(m.job)
	}
	return nil
}

// Load transitions any state to Loaded, replacing the current Job under the
// lock. It performs no I/O: callers open the decoder, prime buffers and set
// job.Handle before calling Load.
func (m *Machine) Load(job *Job) error {
	return m.transition("load_audio", []State{Idle, Loaded, Playing, Paused, Seeking, Completed}, Loaded, func(*Job) {
		m.job = job
	})
}

// Play transitions Loaded/Paused/Completed to Playing. From Completed this
// implies a seek to 0; the caller is expected to have already
// reset Position and re-primed the decoder before calling Play when
// starting from Completed.
func (m *Machine) Play() error {
	return m.transition("play", []State{Loaded, Paused, Completed}, Playing, nil)
}

// Pause transitions Playing to Paused, retaining position.
func (m *Machine) Pause() error {
	return m.transition("pause", []State{Playing}, Paused, nil)
}

// BeginSeek transitions Playing/Paused to Seeking, remembering which state
// to return to.
func (m *Machine) BeginSeek() (resumeTo State, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Playing && m.state != Paused {
		return "", errInvalidTransition(m.state, "seek")
	}
	resumeTo = m.state
	from := m.state
	for _, fn := range m.onExit[from] {
		fn(m.job)
	}
	m.state = Seeking
	for _, fn := range m.onEnter[Seeking] {
		fn(m.job)
	}
	return resumeTo, nil
}

// EndSeek transitions Seeking back to the state recorded by BeginSeek.
func (m *Machine) EndSeek(resumeTo State) error {
	return m.transition("seek_complete", []State{Seeking}, resumeTo, nil)
}

// Complete transitions Playing to Completed on stream end.
func (m *Machine) Complete() error {
	return m.transition("stream_end", []State{Playing}, Completed, nil)
}

// Terminate transitions any state to Idle, releasing the job.
func (m *Machine) Terminate() error {
	return m.transition("terminate", []State{Idle, Loaded, Playing, Paused, Seeking, Completed}, Idle, func(*Job) {
		m.job = nil
	})
}

// ForceIdle is used by DeviceError handling: forces Idle from
// any state, bypassing the normal allowed-from list, because a driver error
// can occur at any time and must not be rejected as an "invalid
// transition".
func (m *Machine) ForceIdle(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	from := m.state
	if m.job != nil {
		m.job.LastError = cause
	}
	for _, fn := range m.onExit[from] {
		fn(m.job)
	}
	m.state = Idle
	m.job = nil
}

// ForcePausedWithError is used by the underflow escalation path:
// forces Paused from Playing, recording the error, without requiring the
// caller to re-derive the precondition.
func (m *Machine) ForcePausedWithError(cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Playing {
		return
	}
	if m.job != nil {
		m.job.LastError = cause
	}
	for _, fn := range m.onExit[Playing] {
		fn(m.job)
	}
	m.state = Paused
	for _, fn := range m.onEnter[Paused] {
		fn(m.job)
	}
}

// WithJob runs fn with the lock held and the current job (possibly nil)
// to perform O(1) mutations such as applying volume/flip/seek position.
// fn must not block or perform I/O.
func (m *Machine) WithJob(fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job != nil {
		fn(m.job)
	}
}
