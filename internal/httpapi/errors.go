package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/pathway-labs/pathway/internal/apperr"
	"github.com/pathway-labs/pathway/internal/assessment"
)

// errorResponse is the JSON body for every failed request. Code is the
// stable machine-readable error code; Error is the user-facing message.
type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	AttemptID string `json:"attempt_id,omitempty"`
}

// writeError maps a domain error to an HTTP status and a specific message.
// Unclassified errors become an opaque 500 so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error(), Code: apperr.CodeOf(err)}

	// A blocked start carries the existing attempt's ID so the client can
	// resume it instead of showing a dead end.
	var active *assessment.AttemptActiveError
	if errors.As(err, &active) {
		resp.AttemptID = active.AttemptID
	}

	var status int
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		status = http.StatusBadRequest
	case apperr.KindConflict:
		status = http.StatusConflict
	case apperr.KindNotFound:
		status = http.StatusNotFound
	case apperr.KindAuthorization:
		status = http.StatusForbidden
	default:
		slog.Error("unhandled error", "error", err)
		status = http.StatusInternalServerError
		resp = errorResponse{Error: "internal error"}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads a request body into v; malformed bodies are validation
// errors, not 500s.
func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperr.Validation("body_invalid", "invalid request body: %v", err)
	}
	return nil
}

// userID extracts the authenticated user from the request. Authentication
// itself happens upstream; this layer only requires that an identity was
// supplied.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get("X-User-ID")
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{
			Error: "authentication required",
			Code:  "unauthenticated",
		})
		return "", false
	}
	return id, true
}
