package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/krich11/kme-sub000/internal/telemetry"
	"github.com/krich11/kme-sub000/pkg/kmeerror"
)

// Respond writes a JSON response with the given status code.
func Respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("encoding response", "error", err)
	}
}

// ErrorResponse is the JSON error envelope RespondError writes for a
// failed request (spec.md §6): message, optional field-level details, a
// stable machine-readable error code, the request ID, and a timestamp.
// The 401 that saeauth.Middleware writes for an unauthenticated request
// does not use it and carries only a message field.
type ErrorResponse struct {
	Message   string             `json:"message"`
	Details   []kmeerror.Detail  `json:"details,omitempty"`
	ErrorCode string             `json:"error_code"`
	RequestID string             `json:"request_id,omitempty"`
	Timestamp string             `json:"timestamp"`
}

// RespondError writes the standard error envelope for err, deriving
// the HTTP status and error code from its kmeerror.Kind. Errors that
// are not a *kmeerror.Error are treated as an opaque internal failure.
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	operation := r.URL.Path
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			operation = pattern
		}
	}

	kerr, ok := err.(*kmeerror.Error)
	if !ok {
		telemetry.KeyRequestErrorsTotal.WithLabelValues("unknown", operation).Inc()
		Respond(w, http.StatusServiceUnavailable, ErrorResponse{
			Message:   "internal error",
			ErrorCode: "SERVICE_UNAVAILABLE",
			RequestID: RequestIDFromContext(r.Context()),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	telemetry.KeyRequestErrorsTotal.WithLabelValues(string(kerr.Kind), operation).Inc()
	Respond(w, kerr.Kind.HTTPStatus(), ErrorResponse{
		Message:   kerr.Message,
		Details:   kerr.Details,
		ErrorCode: kerr.Kind.ErrorCode(),
		RequestID: RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
