package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"stream-bridge/internal/common/logging"
)

// Server is the status and admin HTTP server.
type Server struct {
	srv    *http.Server
	logger logging.Logger
}

// New creates a server listening on port.
func New(handler http.Handler, port string, logger logging.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              ":" + port,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger.WithFields(logging.String("component", "server")),
	}
}

// Start binds the listener and serves in the background. A bind failure is
// returned directly; later serve failures arrive on the returned channel.
func (s *Server) Start() (<-chan error, error) {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return nil, err
	}
	return s.Serve(ln), nil
}

// Serve serves on ln in the background.
func (s *Server) Serve(ln net.Listener) <-chan error {
	errCh := make(chan error, 1)
	s.logger.Info("Status server listening", logging.String("address", ln.Addr().String()))
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
