package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/localrivet/synk/internal/errortypes"
)

func TestWriteErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "plain error",
			status:     http.StatusInternalServerError,
			err:        errors.New("store unreachable"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "store unreachable",
		},
		{
			name:       "collaborator error keeps its message",
			status:     http.StatusInternalServerError,
			err:        errortypes.CollaboratorError(errors.New(`relation "sync_logs" does not exist`)),
			wantStatus: http.StatusInternalServerError,
			wantError:  `relation "sync_logs" does not exist`,
		},
		{
			name:       "client error",
			status:     http.StatusMethodNotAllowed,
			err:        errMethodNotAllowed,
			wantStatus: http.StatusMethodNotAllowed,
			wantError:  "method not allowed",
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()

			writeErrorResponse(w, logger, tt.status, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("writeErrorResponse() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to parse response: %v", err)
			}
			if resp.Error != tt.wantError {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantError)
			}
		})
	}
}
