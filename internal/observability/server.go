package observability

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/mirrorctl/mirrorctl/internal/engine"
	"github.com/mirrorctl/mirrorctl/internal/types"
)

// EngineController is the minimal surface the status server needs from a
// running Engine: read its state/stats and request pause/resume/stop.
// Deliberately excludes job queueing or remote-start — a crawl is always
// launched from the command line, this endpoint only observes and
// interrupts the run already in progress.
type EngineController interface {
	State() engine.State
	Stats() *engine.Stats
	ExitCategory() types.Category
	Pause()
	Resume()
	Stop()
}

// StatusServer exposes a running crawl's state and stats over HTTP, and
// lets an operator pause, resume, or stop it. Grounded on the teacher's
// internal/api/server.go, trimmed to status/control only: no job queue, no
// seed submission, since a mirrorctl run's seeds are fixed at launch.
type StatusServer struct {
	mux    *http.ServeMux
	engine EngineController
	logger *slog.Logger
}

func NewStatusServer(engine EngineController, logger *slog.Logger) *StatusServer {
	s := &StatusServer{
		mux:    http.NewServeMux(),
		engine: engine,
		logger: logger.With("component", "status_server"),
	}
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("GET /status", s.handleStatus)
	s.mux.HandleFunc("POST /pause", s.handlePause)
	s.mux.HandleFunc("POST /resume", s.handleResume)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	return s
}

func (s *StatusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// ListenAndServe starts the status server and blocks until it exits.
func (s *StatusServer) ListenAndServe(addr string) error {
	s.logger.Info("status server starting", "addr", addr)
	return http.ListenAndServe(addr, s.mux)
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"state":         s.engine.State().String(),
		"stats":         s.engine.Stats().Snapshot(),
		"exit_category": int(s.engine.ExitCategory()),
	})
}

func (s *StatusServer) handlePause(w http.ResponseWriter, r *http.Request) {
	s.engine.Pause()
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *StatusServer) handleResume(w http.ResponseWriter, r *http.Request) {
	s.engine.Resume()
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "resumed"})
}

func (s *StatusServer) handleStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *StatusServer) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
