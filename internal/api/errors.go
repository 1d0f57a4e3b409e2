package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"cmipcat/internal/domain"
	"cmipcat/internal/middleware"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Code       int      `json:"code"`
	Message    string   `json:"message"`
	Field      string   `json:"field,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

// httpStatusFromDomainError maps domain errors to HTTP status codes.
func httpStatusFromDomainError(err error) int {
	var notFound *domain.NotFoundError
	var validation *domain.ValidationError
	var ambiguous *domain.AmbiguousError

	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &ambiguous):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatusFromDomainError(err)
	resp := ErrorResponse{
		Code:      code,
		Message:   err.Error(),
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}
	var ambiguous *domain.AmbiguousError
	if errors.As(err, &ambiguous) {
		resp.Field = ambiguous.Field
		resp.Candidates = ambiguous.Candidates
	}
	if code == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		resp.Message = "internal error"
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("write response", "error", err)
	}
}
