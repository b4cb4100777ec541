package api

import (
	"errors"
	"net/http"

	"github.com/hupe1980/underwriter/core"
	"github.com/hupe1980/underwriter/workflow"
)

// Error codes of the response envelope.
const (
	CodeNotFound       = "NotFound"
	CodeSignalRejected = "SignalRejected"
	CodeInvalidRequest = "InvalidRequest"
	CodeConflict       = "Conflict"
	CodeUnavailable    = "Unavailable"
	CodeInternal       = "Internal"
)

// ErrorBody is the payload of an error response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// classify maps an error onto its status and envelope code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, core.ErrSignalRejected):
		return http.StatusConflict, CodeSignalRejected
	case errors.Is(err, core.ErrInvalidRequest):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, core.ErrAlreadyExists), errors.Is(err, workflow.ErrNotRunning):
		return http.StatusConflict, CodeConflict
	case errors.Is(err, workflow.ErrShutdown):
		return http.StatusServiceUnavailable, CodeUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		msg = "internal error"
	}

	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: msg}})
}
