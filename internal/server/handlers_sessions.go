package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/super-agent/runtime/internal/runtime"
	"github.com/super-agent/runtime/pkg/types"
)

type createSessionRequest struct {
	Endpoint       string `json:"endpoint"`
	Model          string `json:"model"`
	PermissionMode string `json:"permissionMode"`
}

// createSession implements `POST /sessions` -> SessionStore.Create.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeInvalid(w, "malformed request body")
			return
		}
	}

	now := time.Now().UnixMilli()
	session := types.Session{
		ID:        ulid.Make().String(),
		Title:     types.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
		LastConfig: types.ConfigSnap{
			Endpoint:       req.Endpoint,
			Model:          req.Model,
			PermissionMode: req.PermissionMode,
		},
	}

	if err := s.app.Sessions.Create(r.Context(), session); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// listSessions implements `GET /sessions` -> SessionStore.List.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.app.Sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// getSession implements `GET /sessions/{id}` -> SessionStore.Load.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	session, err := s.app.Sessions.Load(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// deleteSession implements `DELETE /sessions/{id}` -> SessionStore.Delete +
// TaskRunner.Clear + SessionManager close.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")

	s.app.Tasks.Clear(id)
	if s.sessions != nil {
		s.sessions.Close(id)
	}
	if err := s.app.Sessions.Delete(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// getSessionStatus implements `GET /sessions/{id}/status` ->
// TaskRunner.GetStatus.
func (s *Server) getSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	status, ok := s.app.Tasks.GetStatus(id)
	if !ok {
		writeError(w, fmt.Errorf("%w: no task recorded for session %s", runtime.ErrSessionNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// markViewed implements `POST /sessions/{id}/mark-viewed` ->
// TaskRunner.MarkViewed.
func (s *Server) markViewed(w http.ResponseWriter, r *http.Request) {
	s.app.Tasks.MarkViewed(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// interruptSession implements `POST /sessions/{id}/interrupt` ->
// TaskRunner.Interrupt.
func (s *Server) interruptSession(w http.ResponseWriter, r *http.Request) {
	ok := s.app.Tasks.Interrupt(chi.URLParam(r, "sessionID"))
	writeJSON(w, http.StatusOK, map[string]bool{"interrupted": ok})
}
