// Package httpapi implements the ambient debug HTTP surface:
// GET /healthz, GET /version, GET /metrics on localhost:21750, served with
// gin and prometheus/client_golang's exposition handler.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codynhanpham/nidaq-audioplayer/internal/logging"
	"github.com/codynhanpham/nidaq-audioplayer/internal/transport"
)

// DefaultAddr is the ambient HTTP surface's fixed local listening address.
const DefaultAddr = "localhost:21750"

// Version is set at build time via -ldflags; defaults to "dev".
var Version = "dev"

// Server serves the healthz/version/metrics routes.
type Server struct {
	Addr    string
	Machine *transport.Machine

	logger zerolog.Logger
	srv    *http.Server
}

// NewServer constructs a Server bound to machine, used to report the
// current transport state in /healthz.
func NewServer(addr string, machine *transport.Machine) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{Addr: addr, Machine: machine, logger: logging.Component("httpapi-server")}
}

func (s *Server) router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.handleHealthz)
	r.GET("/version", s.handleVersion)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func (s *Server) handleHealthz(c *gin.Context) {
	state := s.Machine.State()
	c.JSON(http.StatusOK, gin.H{"ok": true, "transport_state": state})
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}

// Serve blocks serving HTTP until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	s.srv = &http.Server{Addr: s.Addr, Handler: s.router()}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn().Err(err).Msg("ambient http server shutdown error")
		}
		return ctx.Err()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
