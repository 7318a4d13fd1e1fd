package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Server runs the trigger HTTP endpoint tied to a lifecycle context.
// Params: listen address, handler, and logger for diagnostics.
// Returns: runnable HTTP server instance.
type Server struct {
	listen string
	ln     net.Listener
	server *http.Server
	logger *slog.Logger
}

// New creates an HTTP server and binds to the listen address.
// Binding happens here so address conflicts fail runtime startup.
// Params: listen address in host:port; handler HTTP handler; logger root logger.
// Returns: server instance or bind error.
func New(listen string, handler http.Handler, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", listen, err)
	}

	return &Server{
		listen: listen,
		ln:     ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
		logger: logger,
	}, nil
}

// Addr returns the bound listen address.
// Params: none.
// Returns: actual address, useful with port 0.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Run starts serving and shuts down on context cancellation.
// Params: ctx lifecycle context.
// Returns: nil on graceful stop; error on early serve failures.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.ln)
	}()

	s.logger.Info("http server started", slog.String("addr", s.Addr()))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
		err := <-errCh
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.logger.Error("http server stopped unexpectedly", slog.String("listen", s.listen), slog.String("error", err.Error()))
		return err
	}
}
