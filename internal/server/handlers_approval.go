package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eclia/gateway/internal/apperror"
	"github.com/eclia/gateway/pkg/types"
)

// decideApprovalRequest is the body for POST /api/approvals/{id}.
type decideApprovalRequest struct {
	Decision string `json:"decision"` // "approve" | "deny"
}

// decideApproval handles POST /api/approvals/{id}.
func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request) {
	approvalID := chi.URLParam(r, "approvalID")

	var req decideApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(apperror.KindInvalidRequest), "invalid JSON body")
		return
	}

	var decision types.Decision
	switch req.Decision {
	case "approve":
		decision = types.DecisionApprove
	case "deny":
		decision = types.DecisionDeny
	default:
		writeError(w, http.StatusBadRequest, string(apperror.KindInvalidRequest), "decision must be \"approve\" or \"deny\"")
		return
	}

	if !s.approvals.Decide(approvalID, decision) {
		writeError(w, http.StatusNotFound, string(apperror.KindSessionNotFound), "no such pending approval")
		return
	}

	writeSuccess(w)
}
