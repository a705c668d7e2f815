package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/fault"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeFault maps a domain error onto its status code. Unknown errors are logged and
// reported as a bare 500.
func writeFault(w http.ResponseWriter, log *slog.Logger, event string, err error) {
	switch {
	case fault.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", fault.PublicMessage(err))
	case fault.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "unauthorized", fault.PublicMessage(err))
	case fault.IsConflict(err):
		writeError(w, http.StatusConflict, "conflict", fault.PublicMessage(err))
	case fault.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", fault.PublicMessage(err))
	default:
		log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return errors.New("empty body")
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	// Ensure there is no extra data after the first JSON value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("extra data after JSON object")
	}
	return nil
}

// writeDecodeError reports a body that failed decodeJSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
}
