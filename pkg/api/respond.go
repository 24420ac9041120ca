// Package api is the HTTP adapter: routing, middleware, payload decoding and
// the translation of typed domain errors into JSON responses.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/procurahq/procura/pkg/auth"
	"github.com/procurahq/procura/pkg/domain"
)

// errorBody is the wire shape of every failure: {error, message, request_id,
// details?}.
type errorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// writeError renders a typed error. System errors are logged with their
// cause; clients only ever see the generic message.
func writeError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err *domain.Error) {
	if err.Kind == domain.KindSystem {
		log.ErrorContext(r.Context(), "request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, err.HTTPStatus(), errorBody{
		Error:     err.Code,
		Message:   err.Message,
		RequestID: auth.GetRequestID(r.Context()),
		Details:   err.Details,
	})
}

// writeResult renders one service outcome.
func writeResult(w http.ResponseWriter, r *http.Request, log *slog.Logger, res domain.Result) {
	if res.Err != nil {
		writeError(w, r, log, res.Err)
		return
	}
	writeJSON(w, res.StatusCode, res.Payload)
}

// decodeJSON fills dst from the request body. An empty body is allowed;
// malformed JSON is a validation error.
func decodeJSON(r *http.Request, dst any) *domain.Error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.Validation("invalid_json", "request body is not valid JSON")
	}
	return nil
}
