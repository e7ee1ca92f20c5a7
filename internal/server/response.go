package server

import (
	"encoding/json"
	"net/http"

	"github.com/eclia/gateway/internal/apperror"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// kindStatus is the single table mapping apperror.Kind to an HTTP status
// code. The orchestrator's SSE mapping is the other half of the taxonomy;
// both read from apperror.Kind so the classification itself is defined once.
var kindStatus = map[apperror.Kind]int{
	apperror.KindInvalidRequest:    http.StatusBadRequest,
	apperror.KindSessionNotFound:   http.StatusNotFound,
	apperror.KindSessionInUse:      http.StatusConflict,
	apperror.KindBadArtifactRef:    http.StatusBadRequest,
	apperror.KindFileNotFound:      http.StatusNotFound,
	apperror.KindForbiddenArtifact: http.StatusForbidden,
	apperror.KindConfigWriteFailed: http.StatusInternalServerError,
	apperror.KindCodexLoginFailed:  http.StatusInternalServerError,
	apperror.KindUpstreamHTTP:      http.StatusBadGateway,
	apperror.KindUpstreamNetwork:   http.StatusBadGateway,
}

// statusForKind returns the HTTP status for k, defaulting to 500.
func statusForKind(k apperror.Kind) int {
	if status, ok := kindStatus[k]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeAppError classifies err via apperror.KindOf and writes the matching
// JSON error response. Used by every handler that fails before it has
// started writing an SSE stream.
func writeAppError(w http.ResponseWriter, err error) {
	k := apperror.KindOf(err)
	writeError(w, statusForKind(k), string(k), err.Error())
}

// writeSuccess writes a success response.
func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
