package server

import (
	"encoding/json"
	"net/http"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// chat handles POST /api/chat: streams one turn as SSE. Errors returned by
// HandleChat after it has started writing the stream are impossible to
// surface as an HTTP status (the header and a 200 are already flushed).
// Orchestrator.HandleChat returns an error before any bytes are written for
// a malformed request; the one error it returns after the headers are out
// is a session-lock wait cut short by ctx, when the client is already gone.
// Everything else becomes an "error" SSE event followed by "done".
func (s *Server) chat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.KindInvalidRequest), "invalid JSON body")
		return
	}

	if err := s.orchestrator.HandleChat(r.Context(), req, w); err != nil {
		writeAppError(w, err)
		return
	}
}
