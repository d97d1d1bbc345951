package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

const (
	maxHeaderBytes      = 1 << 20 // 1 MB
	readHeaderTimeout   = 10 * time.Second
	defaultWriteTimeout = 120 * time.Second
	defaultPort         = "8080"
	idleTimeout         = 60 * time.Second
)

// Server wraps an *http.Server with a start/shutdown lifecycle. A provisioning
// request stays open for a whole attempt, so WriteTimeout must outlast one.
// The *http.Server is built once in New, so Run and Shutdown may be called
// from different goroutines.
type Server struct {
	httpServer *http.Server
}

// New prepares a server for handler on port ("8080" or ":8080", empty means
// 8080).
func New(port string, handler http.Handler, writeTimeout time.Duration) *Server {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Server{httpServer: &http.Server{
		Addr:              normalizeAddr(port),
		Handler:           handler,
		MaxHeaderBytes:    maxHeaderBytes,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}}
}

func normalizeAddr(port string) string {
	switch {
	case port == "":
		return ":" + defaultPort
	case strings.HasPrefix(port, ":"):
		return port
	default:
		return ":" + port
	}
}

// Run serves until Shutdown. A graceful stop, including one that happened
// before Run, returns nil.
func (s *Server) Run() error {
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server and lets in-flight requests finish.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
