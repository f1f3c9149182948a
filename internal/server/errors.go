package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/localrivet/synk/internal/errortypes"
)

// ErrorResponse is the body of every error answered outside the MCP framing.
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err, "status", status)
	}
}

// writeErrorResponse answers with {"error": msg}. Server side failures are logged.
func writeErrorResponse(w http.ResponseWriter, logger *slog.Logger, status int, err error) {
	if status >= http.StatusInternalServerError {
		errortypes.LogError(logger, err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
