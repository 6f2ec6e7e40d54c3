package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/chatgate/chatgate/internal/core"
)

// maxRequestBody caps request bodies at 1 MB -- every request this server
// accepts is small JSON, never an upload.
const maxRequestBody = 1 << 20

type apiError struct {
	Error string `json:"error"`
}

func errorResponse(msg string) apiError {
	return apiError{Error: msg}
}

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on
// error. Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeStoreError logs the full error server-side and returns a status
// derived from the sentinel error, sanitizing storage internals from the
// client-visible message.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		slog.LogAttrs(r.Context(), slog.LevelError, "storage error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
		return
	}
	writeJSON(w, status, errorResponse(err.Error()))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnknownModel), errors.Is(err, core.ErrProviderNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrBudgetExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
