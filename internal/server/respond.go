package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/clinicpro/dictation-sync/internal/api"
	"github.com/clinicpro/dictation-sync/internal/pairing"
	"github.com/clinicpro/dictation-sync/internal/session"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg, Code: code})
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// fail maps service errors to HTTP statuses. Unknown errors are logged and
// reported as 500 without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, session.ErrNameRequired),
		errors.Is(err, session.ErrInvalidStatus),
		errors.Is(err, session.ErrEmptyTranscript),
		errors.Is(err, pairing.ErrTokenRequired):
		writeError(w, http.StatusBadRequest, err.Error(), "")
	case errors.Is(err, pairing.ErrNotFound),
		errors.Is(err, pairing.ErrInactive),
		errors.Is(err, pairing.ErrExpired),
		errors.Is(err, pairing.ErrSessionMismatch):
		writeError(w, http.StatusUnauthorized, err.Error(), "")
	default:
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
