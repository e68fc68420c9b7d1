package control

import (
	"context"
	"errors"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/progress"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// Session is one accepted control socket connection: it runs a read/reply
// loop over a single websocket, tracks the last request id it handled, and
// is torn down on the first protocol error or an explicit terminate.
type Session struct {
	id       string
	conn     *websocket.Conn
	engine   *Engine
	emitter  *progress.Emitter
	logger   zerolog.Logger
	lastID   string
	playedBy bool // true once this session has issued a successful "play"
}

func newSession(id string, conn *websocket.Conn, engine *Engine, emitter *progress.Emitter) *Session {
	return &Session{
		id:      id,
		conn:    conn,
		engine:  engine,
		emitter: emitter,
		logger:  logging.Component("control-session").With().Str("connection_id", id).Logger(),
	}
}

// Run reads requests until ctx is cancelled or the connection errs, and
// writes one reply per request. The Progress Emitter writes its events to
// the same conn from its own goroutines.
func (s *Session) Run(ctx context.Context) {
	defer s.cleanup()
	s.emitter.Subscribe(s.id, s.conn, ctx)

	for {
		var req Request
		if err := wsjson.Read(ctx, s.conn, &req); err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.Canceled) {
				s.logger.Info().Err(err).Msg("control session closed")
			}
			return
		}
		s.lastID = req.ID

		reqCtx := ctx
		var cancel context.CancelFunc
		if requiresDeviceTimeout(req.Task) {
			reqCtx, cancel = context.WithTimeout(ctx, DeviceTimeout)
		}
		reply := s.engine.Handle(reqCtx, req)
		if cancel != nil {
			cancel()
		}
		if req.Task == "play" && reply.Status == StatusSuccess {
			s.playedBy = true
		}

		if err := wsjson.Write(ctx, s.conn, reply); err != nil {
			s.logger.Warn().Err(err).Msg("failed to write control reply, closing session")
			return
		}
		if req.Task == "terminate" {
			return
		}
	}
}

func requiresDeviceTimeout(task string) bool {
	switch task {
	case "load_audio", "list_devices", "scan_library":
		return true
	default:
		return false
	}
}

// cleanup unsubscribes from progress telemetry and, if this connection was
// the one actively playing, pauses playback rather than leaving the AO
// task running unattended.
func (s *Session) cleanup() {
	s.emitter.Unsubscribe(s.id)
	if s.playedBy {
		if snap := s.engine.Machine.Snapshot(); snap.State == transport.Playing {
			if err := s.engine.Pump.Pause(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to pause playback after connection loss")
			}
		}
	}
}
