package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/faucetdb/keyhub/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure. Unknown fields are rejected.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// bodyErrorField names the request field a readJSON error refers to, or
// "body" when the error is not tied to a single field.
func bodyErrorField(err error) string {
	var ute *json.UnmarshalTypeError
	if errors.As(err, &ute) && ute.Field != "" {
		return ute.Field
	}
	return "body"
}

// queryBool extracts a boolean query parameter. Returns false if the parameter
// is missing or not "true"/"1".
func queryBool(r *http.Request, key string) bool {
	val := r.URL.Query().Get(key)
	return val == "true" || val == "1"
}

// statusFor maps the key lifecycle error taxonomy to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case model.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusServiceUnavailable
	}
}

// writeServiceError renders a lifecycle error. Store failures are logged
// with their cause and reported without internal detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusUnauthorized:
		writeError(w, status, "Unauthorized")
	case http.StatusBadRequest:
		var ve *model.ValidationError
		errors.As(err, &ve)
		writeError(w, status, ve.Error(), map[string]interface{}{"field": ve.Field})
	case http.StatusNotFound:
		writeError(w, status, "API key not found")
	default:
		logger.ErrorContext(r.Context(), "key store failure", "error", err, "path", r.URL.Path)
		writeError(w, status, "Key store unavailable, try again later")
	}
}
