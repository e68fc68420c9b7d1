package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/daq"
	"github.com/codynhanpham/nidaq-audioplayer/internal/decode"
	"github.com/codynhanpham/nidaq-audioplayer/internal/library"
	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/metrics"
	"github.com/codynhanpham/nidaq-audioplayer/internal/model"
	"github.com/codynhanpham/nidaq-audioplayer/internal/pump"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// DeviceTimeout bounds every control handler that touches the DAQ.
const DeviceTimeout = 5 * time.Second

// Reason taxonomy sentinels; reasonFor maps these to the wire
// Reason* string codes.
var (
	ErrUnknownTask  = errors.New("unknown task")
	ErrValidation   = errors.New("validation error")
	ErrInvalidState = errors.New("invalid state")
	ErrDeviceError  = errors.New("device error")
	ErrDecoderError = errors.New("decoder error")
	ErrTimeout      = errors.New("timeout")
)

func reasonFor(err error) string {
	switch {
	case errors.Is(err, ErrUnknownTask):
		return ReasonUnknownTask
	case errors.Is(err, ErrValidation):
		return ReasonValidation
	case errors.Is(err, ErrInvalidState):
		return ReasonInvalidState
	case errors.Is(err, ErrDeviceError):
		return ReasonDeviceError
	case errors.Is(err, ErrDecoderError):
		return ReasonDecoderError
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout
	default:
		return ReasonInternal
	}
}

// PlayerStatus is the "status"/"player_info" reply payload, combining
// transport.Snapshot with the derived time-domain fields GUIs want.
type PlayerStatus struct {
	State                        string              `json:"state"`
	Asset                        model.AudioAsset    `json:"asset"`
	Device                       model.DeviceDescriptor `json:"device"`
	Channels                     model.ChannelSpec   `json:"channels"`
	VolumePct                    int                 `json:"volume_pct"`
	Muted                        bool                `json:"muted"`
	FlipLRStereo                 bool                `json:"flip_lr_stereo"`
	LoopMode                     model.LoopMode      `json:"loop_mode"`
	PositionSamples              int64               `json:"position_samples"`
	TotalSamples                 int64               `json:"total_samples"`
	PositionS                    float64             `json:"position_s"`
	DurationS                    float64             `json:"duration_s"`
	UnderflowEventsSinceLastTick int64               `json:"underflow_events_since_last_tick"`
	LastError                    string              `json:"last_error,omitempty"`
}

func statusFromSnapshot(s transport.Snapshot) PlayerStatus {
	var positionS, durationS float64
	if s.Asset.SampleRateHz > 0 {
		positionS = float64(s.Position) / float64(s.Asset.SampleRateHz)
		durationS = float64(s.TotalSamples) / float64(s.Asset.SampleRateHz)
	}
	ps := PlayerStatus{
		State:                        string(s.State),
		Asset:                        s.Asset,
		Device:                       s.Device,
		Channels:                     s.Channels,
		VolumePct:                    s.VolumePct,
		Muted:                        s.Muted,
		FlipLRStereo:                 s.FlipLRStereo,
		LoopMode:                     s.LoopMode,
		PositionSamples:              s.Position,
		TotalSamples:                 s.TotalSamples,
		PositionS:                    positionS,
		DurationS:                    durationS,
		UnderflowEventsSinceLastTick: s.Underflows,
	}
	if s.Err != nil {
		ps.LastError = s.Err.Error()
	}
	return ps
}

// Engine holds every collaborator a control handler may need and exposes
// the single Handle entrypoint sessions call for each incoming Request.
// One Engine is shared by every connected session.
type Engine struct {
	Machine  *transport.Machine
	Pump     *pump.Pump
	Registry *daq.Registry
	Pool     *workerPool

	// LibraryDir holds library.json/history.json/library.bin.
	LibraryDir string

	// OpenDecoder is decode.Open by default; tests substitute a fake.
	OpenDecoder func(path string) (decode.Decoder, error)

	// OnTerminate is invoked (asynchronously) after a successful
	// "terminate" reply is queued, to shut down the listening server.
	OnTerminate func()

	PID       int
	StartedAt time.Time

	logger zerolog.Logger

	lastLibbinHash string
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(machine *transport.Machine, p *pump.Pump, registry *daq.Registry, pool *workerPool, libraryDir string, pid int) *Engine {
	return &Engine{
		Machine:     machine,
		Pump:        p,
		Registry:    registry,
		Pool:        pool,
		LibraryDir:  libraryDir,
		OpenDecoder: decode.Open,
		PID:         pid,
		StartedAt:   time.Now(),
		logger:      logging.Component("control-engine"),
	}
}

// Handle dispatches req to the matching task handler and returns the reply
// to send back. ctx carries the per-request deadline and is cancelled if the owning connection drops.
func (e *Engine) Handle(ctx context.Context, req Request) Reply {
	started := time.Now()
	data, err := e.dispatch(ctx, req)
	status := StatusSuccess
	var replyData interface{} = data
	if err != nil {
		status = StatusError
		replyData = ErrorData{Reason: reasonFor(err)}
		e.logger.Warn().Str("task", req.Task).Err(err).Msg("control request failed")
	}
	metrics.ObserveControlRequest(req.Task, string(status), started)
	// A successful play is answered while playback runs; progress and
	// completion follow asynchronously, so that reply is not completed.
	completed := !(req.Task == "play" && err == nil)
	return Reply{
		ID:        req.ID,
		Timestamp: time.Now().UnixMilli(),
		LastMsg:   true,
		Status:    status,
		Data:      replyData,
		Completed: completed,
	}
}

func (e *Engine) dispatch(ctx context.Context, req Request) (interface{}, error) {
	switch req.Task {
	case "healthcheck":
		return map[string]interface{}{"ok": true, "pid": e.PID}, nil
	case "pid":
		return map[string]interface{}{"pid": e.PID}, nil
	case "status":
		return statusFromSnapshot(e.Machine.Snapshot()), nil
	case "terminate":
		return e.handleTerminate()
	case "load_audio":
		return e.handleLoadAudio(ctx, req.Data)
	case "play":
		return e.handlePlay(req.Data)
	case "pause":
		return e.handlePause(req.Data)
	case "resume":
		return e.handleResume()
	case "volume":
		return e.handleVolume(req.Data)
	case "seek":
		return e.handleSeek(req.Data)
	case "get_position":
		return e.handleGetPosition()
	case "flip_lr_stereo":
		return e.handleFlip(req.Data)
	case "list_devices":
		return e.handleListDevices(ctx)
	case "scan_library":
		return e.handleScanLibrary(ctx, req.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTask, req.Task)
	}
}

func (e *Engine) handleTerminate() (interface{}, error) {
	if err := e.Pump.Terminate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if e.OnTerminate != nil {
		go e.OnTerminate()
	}
	return map[string]interface{}{"ok": true}, nil
}

type loadAudioRequest struct {
	FilePath        string   `json:"file_path"`
	DeviceName      string   `json:"device_name"`
	AOChannels      []string `json:"ao_channels"`
	DOChannels      []string `json:"do_channels,omitempty"`
	AIChannels      []string `json:"ai_channels,omitempty"`
	Volume          *int     `json:"volume,omitempty"`
	SamplesPerFrame int      `json:"samples_per_frame,omitempty"`
	FlipLRStereo    bool     `json:"flip_lr_stereo,omitempty"`
}

const defaultSamplesPerFrame = 8192

func (e *Engine) handleLoadAudio(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req loadAudioRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.FilePath == "" || req.DeviceName == "" || len(req.AOChannels) == 0 {
		return nil, fmt.Errorf("%w: file_path, device_name and ao_channels are required", ErrValidation)
	}
	samplesPerFrame := req.SamplesPerFrame
	if samplesPerFrame <= 0 {
		samplesPerFrame = defaultSamplesPerFrame
	}
	if len(req.DOChannels) == 0 {
		req.DOChannels = []string{"port0/line0", "port0/line1"}
	}
	channels := model.ChannelSpec{AOChannels: req.AOChannels, DOChannels: req.DOChannels, AIChannels: req.AIChannels}

	result, err := e.runDeviceTask(ctx, func() (interface{}, error) {
		device, err := e.Registry.Find(req.DeviceName)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		if err := e.Registry.Validate(device, channels); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		asset, err := library.Metadata(req.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoderError, err)
		}
		if err := asset.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}

		dec, err := e.OpenDecoder(req.FilePath)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecoderError, err)
		}
		if err := e.Pump.Load(asset, device, channels, samplesPerFrame, dec); err != nil {
			dec.Close()
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
		if req.Volume != nil {
			e.Pump.SetVolume(*req.Volume)
		}
		if req.FlipLRStereo {
			e.Pump.SetFlip(true)
		}
		if e.LibraryDir != "" {
			if err := library.AppendHistory(filepath.Join(e.LibraryDir, "history.json"), asset); err != nil {
				e.logger.Warn().Err(err).Msg("failed to record load in history.json")
			}
		}
		return statusFromSnapshot(e.Machine.Snapshot()), nil
	})
	return result, err
}

type playRequest struct {
	StartPosition *float64 `json:"start_position,omitempty"`
	Volume        *int     `json:"volume,omitempty"`
	Loop          *string  `json:"loop,omitempty"`
}

func (e *Engine) handlePlay(raw json.RawMessage) (interface{}, error) {
	var req playRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	snap := e.Machine.Snapshot()
	if req.Volume != nil {
		e.Pump.SetVolume(*req.Volume)
	}
	if req.Loop != nil {
		e.Machine.WithJob(func(j *transport.Job) { j.LoopMode = model.LoopMode(*req.Loop) })
	}
	if req.StartPosition != nil && snap.Asset.SampleRateHz > 0 {
		pos := int64(*req.StartPosition * float64(snap.Asset.SampleRateHz))
		if err := e.Pump.Seek(pos); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	if err := e.Pump.Play(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	// completed=false: progress_update/playback_completed follow
	// asynchronously over the Progress Emitter's side channel.
	return map[string]interface{}{"started": true}, nil
}

type pauseRequest struct {
	Stop bool `json:"stop,omitempty"`
}

func (e *Engine) handlePause(raw json.RawMessage) (interface{}, error) {
	var req pauseRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if err := e.Pump.Pause(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if req.Stop {
		if err := e.Pump.Seek(0); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
		}
	}
	return statusFromSnapshot(e.Machine.Snapshot()), nil
}

func (e *Engine) handleResume() (interface{}, error) {
	if err := e.Pump.Play(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return statusFromSnapshot(e.Machine.Snapshot()), nil
}

type volumeRequest struct {
	Volume int `json:"volume"`
}

func (e *Engine) handleVolume(raw json.RawMessage) (interface{}, error) {
	var req volumeRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.Volume < 0 || req.Volume > 100 {
		return nil, fmt.Errorf("%w: volume must be within [0, 100]", ErrValidation)
	}
	e.Pump.SetVolume(req.Volume)
	return map[string]interface{}{"volume": req.Volume}, nil
}

type seekRequest struct {
	Time     *float64 `json:"time,omitempty"`
	Position *int64   `json:"position,omitempty"`
}

func (e *Engine) handleSeek(raw json.RawMessage) (interface{}, error) {
	var req seekRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var target int64
	switch {
	case req.Position != nil:
		target = *req.Position
	case req.Time != nil:
		snap := e.Machine.Snapshot()
		if snap.Asset.SampleRateHz == 0 {
			return nil, fmt.Errorf("%w: no asset loaded", ErrInvalidState)
		}
		target = int64(*req.Time * float64(snap.Asset.SampleRateHz))
	default:
		return nil, fmt.Errorf("%w: seek requires time or position", ErrValidation)
	}
	if err := e.Pump.Seek(target); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return statusFromSnapshot(e.Machine.Snapshot()), nil
}

func (e *Engine) handleGetPosition() (interface{}, error) {
	snap := e.Machine.Snapshot()
	var positionS, durationS float64
	if snap.Asset.SampleRateHz > 0 {
		positionS = float64(snap.Position) / float64(snap.Asset.SampleRateHz)
		durationS = float64(snap.TotalSamples) / float64(snap.Asset.SampleRateHz)
	}
	return map[string]interface{}{"position_s": positionS, "duration_s": durationS}, nil
}

type flipRequest struct {
	Flip *bool `json:"flip_lr_stereo,omitempty"`
}

func (e *Engine) handleFlip(raw json.RawMessage) (interface{}, error) {
	var req flipRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if req.Flip != nil {
		e.Pump.SetFlip(*req.Flip)
	}
	snap := e.Machine.Snapshot()
	return map[string]interface{}{"flip_lr_stereo": snap.FlipLRStereo}, nil
}

func (e *Engine) handleListDevices(ctx context.Context) (interface{}, error) {
	result, err := e.runDeviceTask(ctx, func() (interface{}, error) {
		devices, err := e.Registry.ListDevices()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceError, err)
		}
		return devices, nil
	})
	return result, err
}

type scanLibraryRequest struct {
	Paths          []string `json:"paths"`
	RecursiveLevel int      `json:"recursive_level"`
}

func (e *Engine) handleScanLibrary(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var req scanLibraryRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if len(req.Paths) == 0 {
		return nil, fmt.Errorf("%w: paths is required", ErrValidation)
	}

	result, err := e.runDeviceTask(ctx, func() (interface{}, error) {
		started := time.Now()
		discovered, err := library.Discover(req.Paths, req.RecursiveLevel)
		metrics.LibraryScanDurationSeconds.Observe(time.Since(started).Seconds())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInternalLibrary, err)
		}

		assets := make([]model.AudioAsset, 0, len(discovered.Paths))
		for _, p := range discovered.Paths {
			asset, err := library.Metadata(p)
			if err != nil {
				e.logger.Warn().Err(err).Str("path", p).Msg("skipping unreadable library entry")
				continue
			}
			assets = append(assets, asset)
		}
		metrics.LibraryAssetsIndexed.Set(float64(len(assets)))

		if e.LibraryDir != "" {
			hash, _, err := library.SaveLibraryBin(filepath.Join(e.LibraryDir, "library.bin"), assets, e.lastLibbinHash)
			if err != nil {
				e.logger.Warn().Err(err).Msg("failed to write library.bin")
			} else {
				e.lastLibbinHash = hash
			}
			if err := library.SaveLibraryJSON(filepath.Join(e.LibraryDir, "library.json"), discovered, req.RecursiveLevel, e.lastLibbinHash); err != nil {
				e.logger.Warn().Err(err).Msg("failed to write library.json")
			}
		}
		return map[string]interface{}{"library": discovered, "assets": assets}, nil
	})
	return result, err
}

// ErrInternalLibrary covers unexpected library-scan failures (disk errors
// during the walk), distinct from per-file metadata errors which are
// logged and skipped rather than failing the whole scan.
var ErrInternalLibrary = errors.New("library scan failed")

// runDeviceTask executes fn on the worker pool and waits for it to finish
// or ctx to expire, whichever comes first.
func (e *Engine) runDeviceTask(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	type outcome struct {
		data interface{}
		err  error
	}
	resultCh := make(chan outcome, 1)
	accepted := e.Pool.Submit(func() {
		data, err := fn()
		resultCh <- outcome{data, err}
	})
	if !accepted {
		return nil, fmt.Errorf("%w: worker pool saturated", ErrDeviceError)
	}
	select {
	case r := <-resultCh:
		return r.data, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: device operation timed out", ErrTimeout)
	}
}
