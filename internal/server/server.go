// Package server exposes the engine's control surface over HTTP: JSON
// endpoints for start/stop/status/results, a WebSocket event stream, and the
// Prometheus metrics endpoint.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rmeter/rmeter/internal/engine"
	"github.com/rmeter/rmeter/internal/history"
	"github.com/rmeter/rmeter/internal/logging"
	"github.com/rmeter/rmeter/internal/results"
)

// Server bridges HTTP clients to the engine controller.
type Server struct {
	controller *engine.Controller
	store      *history.Store // optional
	upgrader   websocket.Upgrader
}

// New creates a server around a controller. store may be nil when run
// history is disabled.
func New(controller *engine.Controller, store *history.Store) *Server {
	return &Server{
		controller: controller,
		store:      store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The control surface is bound to localhost by default; the
			// origin check stays permissive for embedding hosts.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routing for the control surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/test/start", s.handleStart)
	mux.HandleFunc("POST /api/test/stop", s.handleStop)
	mux.HandleFunc("POST /api/test/force-stop", s.handleForceStop)
	mux.HandleFunc("POST /api/test/reset", s.handleReset)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/results", s.handleResults)
	mux.HandleFunc("GET /api/time-series", s.handleTimeSeries)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /ws", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// ListenAndServe blocks serving the control surface on addr.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logging.WithComponent("server").WithField("addr", addr).Info("control server listening")
	return srv.ListenAndServe()
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PlanID string `json:"plan_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &engine.EngineError{Kind: engine.ErrValidation, Message: "invalid request body: " + err.Error()})
		return
	}
	planID, err := uuid.Parse(strings.TrimSpace(req.PlanID))
	if err != nil {
		writeError(w, &engine.EngineError{Kind: engine.ErrValidation, Message: "invalid plan_id: " + err.Error()})
		return
	}
	if err := s.controller.Start(planID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Stop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleForceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.ForceStop(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "force-stopped"})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.controller.Reset(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "idle"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.StatusInfo())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	progress := s.controller.Progress()
	if progress == nil {
		progress = &results.Progress{}
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) handleTimeSeries(w http.ResponseWriter, r *http.Request) {
	series := s.controller.TimeSeries()
	if series == nil {
		series = []results.TimeBucket{}
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeJSON(w, http.StatusOK, []history.RunEntry{})
		return
	}
	entries, err := s.store.ListRuns(100)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.RunEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.loadRun(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, errors.New("run history is disabled"))
		return
	}
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, &engine.EngineError{Kind: engine.ErrValidation, Message: "invalid run id"})
		return
	}
	if err := s.store.DeleteRun(runID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) loadRun(r *http.Request) (*results.TestRunResult, error) {
	if s.store == nil {
		return nil, errors.New("run history is disabled")
	}
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return nil, &engine.EngineError{Kind: engine.ErrValidation, Message: "invalid run id"}
	}
	return s.store.GetRun(runID)
}

// handleEvents upgrades to WebSocket and streams engine events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.WithComponent("server").WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.controller.Events().Subscribe()
	defer cancel()

	// Reader goroutine: detect client disconnect (we expect no inbound
	// frames besides close/ping).
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-gone:
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps engine error kinds onto HTTP statuses; everything else is
// a 500.
func writeError(w http.ResponseWriter, err error) {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"kind":    string(engine.ErrFatal),
			"message": err.Error(),
		})
		return
	}

	status := http.StatusInternalServerError
	switch ee.Kind {
	case engine.ErrAlreadyRunning, engine.ErrNotRunning, engine.ErrInvalidState:
		status = http.StatusConflict
	case engine.ErrPlanNotFound:
		status = http.StatusNotFound
	case engine.ErrPlanEmpty, engine.ErrValidation:
		status = http.StatusBadRequest
	}
	writeJSON(w, status, ee)
}
