package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// createSessionRequest is the body for POST /api/sessions.
type createSessionRequest struct {
	ID     string        `json:"id"`
	Title  string        `json:"title,omitempty"`
	Origin *types.Origin `json:"origin,omitempty"`
}

// createSession handles POST /api/sessions: creates the session if absent,
// idempotent otherwise.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.KindInvalidRequest), "invalid JSON body")
		return
	}

	seed := &types.Meta{Title: req.Title, Origin: req.Origin}
	meta, err := s.store.EnsureSession(req.ID, time.Now().UnixMilli(), seed)
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

// listSessions handles GET /api/sessions.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListSessions()
	if err != nil {
		writeAppError(w, err)
		return
	}
	if metas == nil {
		metas = []*types.Meta{}
	}
	writeJSON(w, http.StatusOK, metas)
}

// resetSession handles POST /api/sessions/{id}/reset: truncates the
// transcript but keeps meta.json, serialized behind the session lock so it
// never races an in-flight turn.
func (s *Server) resetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	err := s.locks.WithLock(r.Context(), sessionID, func() error {
		return s.store.ResetSession(sessionID)
	})
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeSuccess(w)
}

// deleteSession handles DELETE /api/sessions/{id}. The session lock has no
// non-blocking probe, so deletion is attempted under a short timeout: if the
// lock isn't free within that window the session is reported in use rather
// than blocking the request indefinitely behind a long-running turn.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	ctx, cancel := context.WithTimeout(r.Context(), s.config.DeleteLockWait)
	defer cancel()

	err := s.locks.WithLock(ctx, sessionID, func() error {
		return s.store.DeleteSession(sessionID, false)
	})
	if errors.Is(err, context.DeadlineExceeded) {
		writeAppError(w, apperror.ErrSessionInUse)
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}

	writeSuccess(w)
}
