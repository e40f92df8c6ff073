package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/super-agent/runtime/internal/orchestrator"
)

type createAutonomousSessionRequest struct {
	Task            string         `json:"task"`
	ExpectedOutcome string         `json:"expectedOutcome"`
	CycleBudget     int            `json:"cycleBudget"`
	ResetOnExhaust  bool           `json:"resetOnExhaust"`
	ResetLimit      int            `json:"resetLimit"`
	InitialInput    map[string]any `json:"initialInput"`
}

// createAutonomousSession implements `POST /autonomous/sessions` ->
// Orchestrator.CreateSession.
func (s *Server) createAutonomousSession(w http.ResponseWriter, r *http.Request) {
	var req createAutonomousSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "malformed request body")
		return
	}
	if req.Task == "" {
		writeInvalid(w, "task is required")
		return
	}

	state, err := s.app.Cycles.CreateSession(ulid.Make().String(), orchestrator.SessionParams{
		Task:            req.Task,
		ExpectedOutcome: req.ExpectedOutcome,
		CycleBudget:     req.CycleBudget,
		ResetOnExhaust:  req.ResetOnExhaust,
		ResetLimit:      req.ResetLimit,
		InitialInput:    req.InitialInput,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// getAutonomousSession implements `GET /autonomous/sessions/{id}` ->
// Orchestrator session state.
func (s *Server) getAutonomousSession(w http.ResponseWriter, r *http.Request) {
	state, err := s.app.States.Load(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// runAutonomousSessionOnce implements `POST
// /autonomous/sessions/{id}/run-once` -> Orchestrator.RunOnce.
func (s *Server) runAutonomousSessionOnce(w http.ResponseWriter, r *http.Request) {
	state, err := s.app.Cycles.RunOnce(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// runAutonomousSession implements `POST /autonomous/sessions/{id}/run` ->
// Orchestrator.Run, driven to completion in the background: the HTTP call
// returns immediately once the run loop starts, the
// caller polls `GET /autonomous/sessions/{id}` for progress.
func (s *Server) runAutonomousSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	go func() {
		ctx := context.Background()
		if _, err := s.app.Cycles.Run(ctx, sessionID, 0); err != nil {
			return
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"sessionId": sessionID, "status": "started"})
}
