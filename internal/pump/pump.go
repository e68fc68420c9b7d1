// Package pump implements the Frame Pump: the component that
// owns the DAQ AO+DO tasks and the sample-generation callback, draining the
// Decoder through the Channel Mapper into the hardware write interface on
// every callback invocation.
package pump

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/decode"
	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/mapper"
	"github.com/codynhanpham/nidaq-audioplayer/internal/metrics"
	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump/daqtask"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// TaskFactory creates the AO+DO task backend for one job. The serve command
// injects daqtask.NewSimulatedTask here with or without the nidaqmx build
// tag; daqtask.NewHardwareTask is not wired into it. Tests inject one that
// returns a task they can inspect.
type TaskFactory func(daqtask.Config) daqtask.Task

// Sink receives best-effort progress and error notifications from the
// pump's steady-state callback. The Progress Emitter implements this.
type Sink interface {
	// OnProgress is called after every callback invocation while Playing.
	// Implementations MUST NOT block; the pump calls this inline on its
	// own goroutine.
	OnProgress()
	// OnCompleted is called exactly once when the stream reaches its end.
	OnCompleted()
	// OnError is called when the pump forces a state transition due to a
	// DeviceError or escalated UnderflowWarning.
	OnError(err error)
}

// handle is the per-Job state the pump stores in transport.Job.Handle.
// Decoder/task/buffers are allocated once at Load and reused for the
// lifetime of the job; the steady-state callback never allocates.
type handle struct {
	decoder decode.Decoder
	task    daqtask.Task

	srcBuf []float32 // one decoder read, shape samplesPerFrame * sourceChannels
	dstBuf []float32 // one AO write, shape samplesPerFrame * aoChannelCount

	sourceChannels  int
	aoChannelCount  int
	samplesPerFrame int

	underflowMu   sync.Mutex
	underflowLog  []time.Time
	decoderFailed bool

	// primed holds a buffer already decoded at Load time; the first
	// callback consumes it instead of decoding again, so priming (spec
	// §4.4) actually avoids a decode on the first buffer boundary rather
	// than just validating the file opens cleanly.
	primed       bool
	primedFrames int
}

// Pump wires a transport.Machine's state hooks to the AO+DO task lifecycle
// and runs the per-callback decode/map/write steady-state path.
type Pump struct {
	machine     *transport.Machine
	newTask     TaskFactory
	sink        Sink
	logger      zerolog.Logger
	underflowN  int
	underflowW  time.Duration
}

// Option configures a Pump at construction.
type Option func(*Pump)

// WithUnderflowEscalation overrides the default 3-within-2s escalation
// policy.
func WithUnderflowEscalation(count int, window time.Duration) Option {
	return func(p *Pump) { p.underflowN, p.underflowW = count, window }
}

// New creates a Pump bound to machine, using newTask to construct the
// AO+DO backend and sink to receive telemetry/error callbacks.
func New(machine *transport.Machine, newTask TaskFactory, sink Sink, opts ...Option) *Pump {
	p := &Pump{
		machine:    machine,
		newTask:    newTask,
		sink:       sink,
		logger:     logging.Component("frame-pump"),
		underflowN: 3,
		underflowW: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}

	machine.OnExit(transport.Playing, p.onExitPlaying)
	return p
}

// Load primes dec (already opened by the caller), configures the AO+DO task
// (not yet started) and installs the job. The caller owns dec's lifetime only until Load succeeds; on
// success the Pump takes ownership and will Close it on Terminate/reload.
func (p *Pump) Load(asset model.AudioAsset, device model.DeviceDescriptor, channels model.ChannelSpec, samplesPerFrame int, dec decode.Decoder) error {
	aoCount := len(channels.AOChannels)
	h := &handle{
		decoder:         dec,
		sourceChannels:  dec.ChannelCount(),
		aoChannelCount:  aoCount,
		samplesPerFrame: samplesPerFrame,
		srcBuf:          make([]float32, samplesPerFrame*dec.ChannelCount()),
		dstBuf:          make([]float32, samplesPerFrame*aoCount),
	}

	task := p.newTask(daqtask.Config{
		DeviceName:      device.Name,
		AOChannels:      channels.AOChannels,
		DOChannels:      channels.DOChannels,
		SampleRateHz:    dec.SampleRateHz(),
		SamplesPerFrame: samplesPerFrame,
	})
	h.task = task

	// Prime the first buffer now so Play can start the hardware tasks
	// without an initial underflow.
	n, err := dec.ReadInto(h.srcBuf, samplesPerFrame)
	if err != nil {
		task.Close()
		return fmt.Errorf("prime buffer: %w", err)
	}
	zeroPadTail(h.srcBuf, n*h.sourceChannels)
	h.primed = true
	h.primedFrames = n

	job := &transport.Job{
		Asset:           asset,
		Device:          device,
		Channels:        channels,
		SampleRateHz:    dec.SampleRateHz(),
		SamplesPerFrame: samplesPerFrame,
		VolumePct:       100,
		LoopMode:        model.LoopNone,
		TotalSamples:    dec.TotalSamples(),
		Handle:          h,
	}

	var old *handle
	p.machine.WithJob(func(j *transport.Job) { old, _ = j.Handle.(*handle) })

	if err := p.machine.Load(job); err != nil {
		task.Close()
		dec.Close()
		return err
	}
	// The previous job's task and decoder are released once the new job is
	// installed.
	if old != nil {
		old.task.Close()
		old.decoder.Close()
	}
	return nil
}

// Play starts the AO+DO tasks. On resume from Completed, the decoder and position are reset
// to 0 first (implicit seek).
func (p *Pump) Play() error {
	snap := p.machine.Snapshot()
	if snap.State == transport.Completed {
		if err := p.seekTo(0); err != nil {
			return err
		}
	}

	var startErr error
	p.machine.WithJob(func(job *transport.Job) {
		h, ok := job.Handle.(*handle)
		if !ok {
			startErr = fmt.Errorf("internal error: no pump handle on job")
			return
		}
		startErr = h.task.Start(func() { p.callback(job, h) })
	})
	if startErr != nil {
		return startErr
	}
	return p.machine.Play()
}

// Pause stops the AO+DO tasks, retaining position.
func (p *Pump) Pause() error {
	return p.machine.Pause()
}

// onExitPlaying is registered with the Machine and stops the hardware
// tasks whenever Playing is exited, regardless of which transition caused
// it (pause, seek, completion, forced idle/paused).
func (p *Pump) onExitPlaying(job *transport.Job) {
	if job == nil {
		return
	}
	if h, ok := job.Handle.(*handle); ok && h.task != nil {
		h.task.Stop()
	}
}

// Seek implements the Playing/Paused → Seeking → {Playing,Paused} transition.
func (p *Pump) Seek(positionSamples int64) error {
	resumeTo, err := p.machine.BeginSeek()
	if err != nil {
		return err
	}
	if err := p.seekTo(positionSamples); err != nil {
		return err
	}
	if resumeTo == transport.Playing {
		// BeginSeek's exit hook stopped the tasks; restart them from the
		// new position before returning to Playing.
		var startErr error
		p.machine.WithJob(func(job *transport.Job) {
			h, ok := job.Handle.(*handle)
			if !ok {
				startErr = fmt.Errorf("internal error: no pump handle on job")
				return
			}
			startErr = h.task.Start(func() { p.callback(job, h) })
		})
		if startErr != nil {
			return startErr
		}
	}
	return p.machine.EndSeek(resumeTo)
}

func (p *Pump) seekTo(positionSamples int64) error {
	var err error
	p.machine.WithJob(func(job *transport.Job) {
		h, ok := job.Handle.(*handle)
		if !ok {
			err = fmt.Errorf("internal error: no pump handle on job")
			return
		}
		if serr := h.decoder.SeekToSample(positionSamples); serr != nil {
			err = serr
			return
		}
		job.Position = positionSamples
		h.primed = false
	})
	return err
}

// SetVolume, SetMuted, SetFlip mutate the live policy consumed by the next
// callback boundary.
func (p *Pump) SetVolume(pct int) {
	p.machine.WithJob(func(job *transport.Job) { job.VolumePct = pct })
}

func (p *Pump) SetMuted(muted bool) {
	p.machine.WithJob(func(job *transport.Job) { job.Muted = muted })
}

func (p *Pump) SetFlip(flip bool) {
	p.machine.WithJob(func(job *transport.Job) { job.FlipLRStereo = flip })
}

// Terminate releases the device and closes the decoder.
func (p *Pump) Terminate() error {
	p.machine.WithJob(func(job *transport.Job) {
		if h, ok := job.Handle.(*handle); ok {
			if h.task != nil {
				h.task.Close()
			}
			if h.decoder != nil {
				h.decoder.Close()
			}
		}
	})
	return p.machine.Terminate()
}

// callback is invoked by the task backend every samplesPerFrame generated
// samples. It takes the job lock only for the O(1)
// policy snapshot and position/underflow bookkeeping; the decoder read and
// DAQ write happen with no lock held.
func (p *Pump) callback(job *transport.Job, h *handle) {
	var policy mapper.Policy
	p.machine.WithJob(func(j *transport.Job) {
		policy = mapper.Policy{
			SourceChannels: h.sourceChannels,
			FlipLRStereo:   j.FlipLRStereo,
			VolumePct:      j.VolumePct,
			Muted:          j.Muted,
		}
	})

	var framesRead int
	if h.primed {
		// The buffer decoded at Load time hasn't been written to the task
		// yet; consume it instead of decoding again.
		framesRead = h.primedFrames
		h.primed = false
	} else {
		var err error
		framesRead, err = h.decoder.ReadInto(h.srcBuf, h.samplesPerFrame)
		if err != nil {
			p.handleDecoderError(job, h, err)
			return
		}
	}
	if framesRead < h.samplesPerFrame {
		zeroPadTail(h.srcBuf, framesRead*h.sourceChannels)
	}

	for i := 0; i < h.samplesPerFrame; i++ {
		srcFrame := h.srcBuf[i*h.sourceChannels : (i+1)*h.sourceChannels]
		dstFrame := h.dstBuf[i*h.aoChannelCount : (i+1)*h.aoChannelCount]
		mapper.Map(srcFrame, dstFrame, policy)
	}

	result, werr := h.task.Write(h.dstBuf)
	if werr != nil {
		metrics.DeviceErrorsTotal.Inc()
		p.machine.ForceIdle(werr)
		p.sink.OnError(werr)
		return
	}
	metrics.FramesGeneratedTotal.Inc()

	if result.Underflow {
		metrics.UnderflowEventsTotal.Inc()
		p.recordUnderflow(job, h)
	}

	endOfStream := framesRead == 0
	p.machine.WithJob(func(j *transport.Job) {
		j.Position += int64(framesRead)
		if endOfStream {
			j.Position = j.TotalSamples
		}
	})
	metrics.PlaybackPositionSamples.Set(float64(job.Position))

	p.sink.OnProgress()

	if endOfStream {
		if err := p.machine.Complete(); err == nil {
			p.sink.OnCompleted()
		}
	}
}

// recordUnderflow appends to the sliding window and escalates to Paused
// with an error after underflowN events within underflowW.
func (p *Pump) recordUnderflow(job *transport.Job, h *handle) {
	now := time.Now()
	h.underflowMu.Lock()
	h.underflowLog = append(h.underflowLog, now)
	cutoff := now.Add(-p.underflowW)
	kept := h.underflowLog[:0]
	for _, t := range h.underflowLog {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	h.underflowLog = kept
	escalate := len(h.underflowLog) >= p.underflowN
	if escalate {
		h.underflowLog = nil
	}
	h.underflowMu.Unlock()

	p.machine.WithJob(func(j *transport.Job) {
		j.UnderflowEventsSinceLastTick++
	})
	p.logger.Warn().Str("device", job.Device.Name).Msg("AO write arrived too late, padded with zeros")

	if escalate {
		metrics.UnderflowEscalationsTotal.Inc()
		err := fmt.Errorf("%w: %d underflows within %s", ErrUnderflowEscalated, p.underflowN, p.underflowW)
		p.machine.ForcePausedWithError(err)
		p.sink.OnError(err)
	}
}

// handleDecoderError implements the mid-stream decoder error policy (spec
// §4.5): pad with zeros, attempt one seek to the current position, and
// terminate on a second failure.
func (p *Pump) handleDecoderError(job *transport.Job, h *handle, cause error) {
	zeroPadTail(h.srcBuf, 0)
	metrics.DecoderErrorsTotal.Inc()
	p.logger.Warn().Err(cause).Msg("decoder error mid-stream, attempting recovery seek")

	if h.decoderFailed {
		err := fmt.Errorf("%w: %v", ErrDecoderFatal, cause)
		p.machine.ForceIdle(err)
		p.sink.OnError(err)
		return
	}
	h.decoderFailed = true

	var pos int64
	p.machine.WithJob(func(j *transport.Job) { pos = j.Position })
	if serr := h.decoder.SeekToSample(pos); serr != nil {
		err := fmt.Errorf("%w: %v", ErrDecoderFatal, serr)
		p.machine.ForceIdle(err)
		p.sink.OnError(err)
		return
	}
	h.decoderFailed = false
}

func zeroPadTail(buf []float32, from int) {
	for i := from; i < len(buf); i++ {
		buf[i] = 0
	}
}

// ErrUnderflowEscalated and ErrDecoderFatal are the escalated-error
// taxonomy entries surfaced in the next status message.
var (
	ErrUnderflowEscalated = fmt.Errorf("underflow escalation")
	ErrDecoderFatal       = fmt.Errorf("decoder error")
)
