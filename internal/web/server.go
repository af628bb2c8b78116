// Package web provides an HTTP status server for the garage-door daemon.
package web

import (
	"context"
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sweeney/garage-door/internal/status"
)

// Server serves the status page, health check and metrics over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	gatherer   prometheus.Gatherer
}

// New creates a Server that reads state from the given tracker and exposes
// metrics from gatherer. A nil gatherer uses the default registry.
func New(addr string, tracker *status.Tracker, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{tracker: tracker, gatherer: gatherer}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.RegisterRoutes(),
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
