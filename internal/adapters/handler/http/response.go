package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/vncsmyrnk/urna/internal/core/domain"
)

type errorResponse struct {
	Error       string   `json:"error"`
	Message     string   `json:"message"`
	QuestionIDs []string `json:"question_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{domain.ErrValidationFailed, "validation_failed", http.StatusUnprocessableEntity},
	{domain.ErrAlreadyCast, "already_cast", http.StatusConflict},
	{domain.ErrWindowExpired, "window_expired", http.StatusGone},
	{domain.ErrWindowNotFound, "window_not_found", http.StatusNotFound},
	{domain.ErrSessionOriginMismatch, "session_origin_mismatch", http.StatusForbidden},
	{domain.ErrElectionNotOpen, "election_not_open", http.StatusConflict},
	{domain.ErrElectionNotFound, "election_not_found", http.StatusNotFound},
	{domain.ErrNotRegistered, "not_registered", http.StatusForbidden},
	{domain.ErrBallotNotFound, "ballot_not_found", http.StatusNotFound},
	{domain.ErrBusy, "busy", http.StatusServiceUnavailable},
	{domain.ErrRowLockTimeout, "busy", http.StatusServiceUnavailable},
}

// writeError maps a service error to its status code and JSON body.
// Anything unrecognised is logged and reported as an internal error.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	for _, c := range errorCodes {
		if !errors.Is(err, c.err) {
			continue
		}
		resp := errorResponse{Error: c.code, Message: c.err.Error()}
		var verr *domain.ValidationError
		if errors.As(err, &verr) {
			resp.QuestionIDs = verr.QuestionIDs
		}
		if c.status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, c.status, resp)
		return
	}

	slog.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorResponse{
		Error:   "internal",
		Message: domain.ErrInternal.Error(),
	})
}

func badRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: message})
}

func originAddr(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
