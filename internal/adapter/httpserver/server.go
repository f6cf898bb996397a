// Package httpserver exposes the service host status on a local address.
package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	http   *http.Server
	logger *slog.Logger
}

// NewServer listens on addr, which should be a loopback address.
func NewServer(addr string, api *API, logger *slog.Logger) *Server {
	router := newRouter(api, logger)

	s := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return &Server{http: s, logger: logger}
}

func newRouter(api *API, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(requestRecoveryWithLog(logger)))
	router.Use(requestLogger(logger))
	api.RegisterRoutes(router)
	return router
}

// Handler returns the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("status api listening", "addr", ln.Addr().String())

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("status api shutdown", "err", err)
		}
	})
	defer stop()

	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
