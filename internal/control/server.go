package control

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/progress"
)

// DefaultAddr is the Control Protocol's fixed local listening address.
const DefaultAddr = "localhost:21749"

// Server accepts control socket connections on a single endpoint, upgrades
// each to a websocket, and hands it to a new Session. Routing is done with
// gin even though every route here is a single websocket upgrade rather
// than a REST surface.
type Server struct {
	Addr    string
	Engine  *Engine
	Emitter *progress.Emitter

	logger zerolog.Logger
	srv    *http.Server

	mu       sync.Mutex
	sessions map[string]context.CancelFunc
}

// NewServer constructs a Server. Call Serve to start accepting connections.
func NewServer(addr string, engine *Engine, emitter *progress.Emitter) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		Addr:     addr,
		Engine:   engine,
		Emitter:  emitter,
		logger:   logging.Component("control-server"),
		sessions: make(map[string]context.CancelFunc),
	}
	engine.OnTerminate = s.Shutdown
	return s
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/", gin.WrapF(s.handleUpgrade))
	return r
}

// Serve blocks accepting connections until ctx is cancelled or the server
// is told to shut down via the "terminate" task.
func (s *Server) Serve(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.Addr, Handler: s.router()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		s.Shutdown()
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Shutdown closes every active session and stops the listener. Safe to
// call multiple times; matches the "terminate" task's "closes the server"
// contract.
func (s *Server) Shutdown() {
	s.mu.Lock()
	for id, cancel := range s.sessions {
		cancel()
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("control server shutdown error")
		}
	}
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.CloseNow()

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	s.mu.Lock()
	s.sessions[id] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	}()

	sess := newSession(id, conn, s.Engine, s.Emitter)
	sess.Run(ctx)
	conn.Close(websocket.StatusNormalClosure, "")
}
