package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"brokerage/instagram"
	"brokerage/services"
)

type errorBody struct {
	Error     string            `json:"error"`
	Fields    map[string]string `json:"fields,omitempty"`
	RequestID string            `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("HTTP: failed to encode response")
	}
}

func writeMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg, RequestID: middleware.GetReqID(r.Context())})
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as 500 without detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody{Error: err.Error(), RequestID: middleware.GetReqID(r.Context())}
	status := http.StatusInternalServerError

	var verr *services.ValidationError
	var uerr *services.UpstreamError
	var gerr *instagram.GraphError

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Error = "validation failed"
		body.Fields = verr.Fields
	case errors.Is(err, services.ErrUnauthorized):
		status = http.StatusUnauthorized
		body.Error = "invalid credentials"
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
		body.Error = "not found"
	case errors.Is(err, services.ErrRefreshInProgress):
		status = http.StatusConflict
	case errors.Is(err, services.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, instagram.ErrInvalidURL), errors.Is(err, instagram.ErrInvalidSignature):
		status = http.StatusBadRequest
	case errors.As(err, &uerr), errors.As(err, &gerr):
		status = http.StatusBadGateway
	case errors.Is(err, services.ErrUnavailable), errors.Is(err, instagram.ErrNotConfigured):
		status = http.StatusServiceUnavailable
	default:
		body.Error = "internal error"
	}

	if status >= 500 {
		log.Error().Err(err).Str("request_id", body.RequestID).Str("path", r.URL.Path).Int("status", status).Msg("HTTP: request failed")
	}
	writeJSON(w, status, body)
}

// decodeJSON reads a JSON body into v. Decoding into a pre-populated value
// overlays only the fields present in the body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeMessage(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeMessage(w, r, http.StatusBadRequest, msg)
		return false
	}
	return true
}
