// Package ctlapi implements the loopback control endpoint spec.md §9
// substitutes for SIGHUP log-rotate / SIGUSR2 state-dump: two verbs,
// rotate-log and dump-state, served over HTTP via go-chi/chi instead of
// process signals.
package ctlapi

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RotateLogFunc reopens/rotates the node's log output.
type RotateLogFunc func() error

// DumpStateFunc returns a JSON-serializable snapshot of live node state
// (peer table, trunk allocator occupancy, binlog write position, ...).
type DumpStateFunc func() any

// Server is the control endpoint. Bind it to a loopback-only listener;
// it carries no authentication of its own.
type Server struct {
	RotateLog RotateLogFunc
	DumpState DumpStateFunc
	Log       *slog.Logger

	router chi.Router
}

// NewServer builds a control API with both verbs wired.
func NewServer(rotateLog RotateLogFunc, dumpState DumpStateFunc, log *slog.Logger) *Server {
	s := &Server{RotateLog: rotateLog, DumpState: dumpState, Log: log}
	r := chi.NewRouter()
	r.Post("/rotate-log", s.handleRotateLog)
	r.Get("/dump-state", s.handleDumpState)
	s.router = r
	return s
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Serve listens on a loopback address and blocks until the listener
// fails or is closed from elsewhere (e.g. via ctx cancellation closing
// ln in the caller).
func (s *Server) Serve(ln net.Listener) error {
	return http.Serve(ln, s)
}

func (s *Server) handleRotateLog(w http.ResponseWriter, r *http.Request) {
	if s.RotateLog == nil {
		http.Error(w, "rotate-log not configured", http.StatusNotImplemented)
		return
	}
	if err := s.RotateLog(); err != nil {
		if s.Log != nil {
			s.Log.Warn("control rotate-log failed", "err", err)
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDumpState(w http.ResponseWriter, r *http.Request) {
	if s.DumpState == nil {
		http.Error(w, "dump-state not configured", http.StatusNotImplemented)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.DumpState()); err != nil {
		if s.Log != nil {
			s.Log.Warn("control dump-state encode failed", "err", err)
		}
	}
}
