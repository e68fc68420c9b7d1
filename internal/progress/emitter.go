// Package progress implements the Progress Emitter: broadcasting periodic
// playback telemetry to every connected control session over the same
// websocket transport the Control Protocol uses.
package progress

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/metrics"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// DefaultInterval is the coalescing tick rate.
const DefaultInterval = 330 * time.Millisecond

// EventType distinguishes the two message shapes a subscriber can receive.
type EventType string

const (
	EventProgressUpdate    EventType = "progress_update"
	EventPlaybackCompleted EventType = "playback_completed"
	EventPlaybackError     EventType = "playback_error"
)

// Event is one message broadcast to control sessions.
type Event struct {
	Type EventType   `json:"type"`
	Data interface{} `json:"data"`
}

// Snapshot is the progress_update / playback_completed payload.
type Snapshot struct {
	Playing                  bool    `json:"playing"`
	AudioCompleted           bool    `json:"audio_completed"`
	Duration                 float64 `json:"duration"`
	ProgressPercent          float64 `json:"progress_percent"`
	PositionSamples          int64   `json:"position_samples"`
	UnderflowEventsSinceLast int64   `json:"underflow_events_since_last"`
}

// ErrorPayload is the playback_error message body.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

type subscriber struct {
	conn *websocket.Conn
	ctx  context.Context
}

// Emitter owns the subscriber set and the coalescing ticker. Construct one
// per control server; Pump.Sink is satisfied by *Emitter.
type Emitter struct {
	machine  *transport.Machine
	interval time.Duration
	logger   zerolog.Logger

	mu   sync.RWMutex
	subs map[string]*subscriber

	dirty  atomic.Bool
	latest atomic.Value // Snapshot

	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an Emitter bound to machine. Call Start to begin the
// coalescing ticker.
func New(machine *transport.Machine, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Emitter{
		machine:  machine,
		interval: interval,
		logger:   logging.Component("progress-emitter"),
		subs:     make(map[string]*subscriber),
		stop:     make(chan struct{}),
	}
}

// Start begins the coalescing broadcast loop.
func (e *Emitter) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop halts the broadcast loop. Safe to call once.
func (e *Emitter) Stop() {
	close(e.stop)
	e.wg.Wait()
}

func (e *Emitter) run() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			if !e.dirty.CompareAndSwap(true, false) {
				continue
			}
			snap, ok := e.latest.Load().(Snapshot)
			if !ok {
				continue
			}
			// Report the underflows counted since the previous tick and
			// restart the count.
			e.machine.WithJob(func(j *transport.Job) {
				snap.UnderflowEventsSinceLast = j.UnderflowEventsSinceLastTick
				j.UnderflowEventsSinceLastTick = 0
			})
			e.broadcast(Event{Type: EventProgressUpdate, Data: snap})
			metrics.ProgressTicksEmittedTotal.Inc()
		}
	}
}

// Subscribe registers conn to receive progress events until ctx is done or
// Unsubscribe is called.
func (e *Emitter) Subscribe(connectionID string, conn *websocket.Conn, ctx context.Context) {
	e.mu.Lock()
	e.subs[connectionID] = &subscriber{conn: conn, ctx: ctx}
	e.mu.Unlock()
	metrics.ControlSessionsActive.Inc()
}

// Unsubscribe removes connectionID from the subscriber set.
func (e *Emitter) Unsubscribe(connectionID string) {
	e.mu.Lock()
	_, existed := e.subs[connectionID]
	delete(e.subs, connectionID)
	e.mu.Unlock()
	if existed {
		metrics.ControlSessionsActive.Dec()
	}
}

// OnProgress implements pump.Sink: it stores the latest snapshot and marks
// it dirty for the next tick, coalescing faster-than-tick signals (spec
// §4.7: "only the latest snapshot is sent").
func (e *Emitter) OnProgress() {
	snap := e.machine.Snapshot()
	e.latest.Store(snapshotFrom(snap))
	e.dirty.Store(true)
}

// OnCompleted implements pump.Sink: it sends exactly one playback_completed
// message immediately, bypassing coalescing.
func (e *Emitter) OnCompleted() {
	snap := e.machine.Snapshot()
	s := snapshotFrom(snap)
	s.AudioCompleted = true
	s.Playing = false
	e.dirty.Store(false)
	e.broadcast(Event{Type: EventPlaybackCompleted, Data: s})
}

// OnError implements pump.Sink: it broadcasts a playback_error event. The
// Control Protocol handlers separately surface the same error in their own
// structured replies; this is the async telemetry side-channel.
func (e *Emitter) OnError(err error) {
	e.logger.Warn().Err(err).Msg("playback error")
	e.broadcast(Event{Type: EventPlaybackError, Data: ErrorPayload{Reason: err.Error()}})
}

func snapshotFrom(s transport.Snapshot) Snapshot {
	var percent float64
	if s.TotalSamples > 0 {
		percent = float64(s.Position) / float64(s.TotalSamples) * 100
	}
	var duration float64
	if s.Asset.SampleRateHz > 0 {
		duration = float64(s.TotalSamples) / float64(s.Asset.SampleRateHz)
	}
	return Snapshot{
		Playing:                  s.State == transport.Playing,
		AudioCompleted:           s.State == transport.Completed,
		Duration:                 duration,
		ProgressPercent:          percent,
		PositionSamples:          s.Position,
		UnderflowEventsSinceLast: s.Underflows,
	}
}

func (e *Emitter) broadcast(event Event) {
	e.mu.RLock()
	targets := make(map[string]*subscriber, len(e.subs))
	for id, sub := range e.subs {
		targets[id] = sub
	}
	e.mu.RUnlock()

	for id, sub := range targets {
		go func(id string, sub *subscriber) {
			if !e.sendToSubscriber(sub, event) {
				e.Unsubscribe(id)
				e.logger.Warn().Str("connectionID", id).Msg("removed failed progress subscriber")
			}
		}(id, sub)
	}
}

func (e *Emitter) sendToSubscriber(sub *subscriber, event Event) bool {
	ctx, cancel := context.WithTimeout(sub.ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, sub.conn, event); err != nil {
		e.logger.Warn().Err(err).Msg("failed to send progress event to subscriber")
		return false
	}
	return true
}
