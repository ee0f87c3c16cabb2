package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	apperrors "github.com/utafrali/stocklot-review/pkg/errors"
	"github.com/utafrali/stocklot-review/pkg/logger"
)

// Response is the JSON envelope shared by every endpoint.
type Response struct {
	Data  any            `json:"data,omitempty"`
	Error *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse is the error half of the envelope. Reason carries the
// machine-readable sub-code, e.g. the failed eligibility predicate.
type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteJSON writes v as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteData writes v wrapped in the data envelope.
func WriteData(w http.ResponseWriter, status int, v any) {
	WriteJSON(w, status, Response{Data: v})
}

// WriteError renders err with the status derived from its AppError, or 500.
// Internal errors are logged with the request-scoped logger when present,
// else with fallback; their detail never reaches the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error, fallback *slog.Logger) {
	requestID := logger.CorrelationIDFromContext(r.Context())

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Status != http.StatusInternalServerError {
		WriteJSON(w, appErr.Status, Response{Error: &ErrorResponse{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Reason:    appErr.Reason,
			RequestID: requestID,
		}})
		return
	}

	status := apperrors.HTTPStatus(err)
	if status != http.StatusInternalServerError {
		WriteJSON(w, status, Response{Error: &ErrorResponse{
			Code:      codeForStatus(status),
			Message:   err.Error(),
			RequestID: requestID,
		}})
		return
	}

	l := logger.FromContext(r.Context())
	if l == slog.Default() && fallback != nil {
		l = fallback
	}
	l.ErrorContext(r.Context(), "internal error",
		slog.String("error", err.Error()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)

	WriteJSON(w, http.StatusInternalServerError, Response{Error: &ErrorResponse{
		Code:      apperrors.CodeInternal,
		Message:   "an internal error occurred",
		RequestID: requestID,
	}})
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusNotFound:
		return apperrors.CodeNotFound
	case http.StatusBadRequest:
		return apperrors.CodeInvalidInput
	case http.StatusUnauthorized:
		return apperrors.CodeUnauthorized
	case http.StatusForbidden:
		return apperrors.CodeForbidden
	case http.StatusConflict:
		return apperrors.CodeConflict
	case http.StatusUnprocessableEntity:
		return apperrors.CodeNotEligible
	case http.StatusServiceUnavailable:
		return apperrors.CodeServiceUnavailable
	default:
		return apperrors.CodeInternal
	}
}

// ParseUUID parses raw as a UUID. On failure it writes a VALIDATION_ERROR
// naming field and returns false.
func ParseUUID(w http.ResponseWriter, field, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(raw)
	if err != nil {
		appErr := apperrors.Validation(field, "must be a valid UUID")
		WriteJSON(w, appErr.Status, Response{Error: &ErrorResponse{
			Code:    appErr.Code,
			Message: appErr.Message,
			Reason:  appErr.Reason,
		}})
		return uuid.Nil, false
	}
	return id, true
}
