package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/erazemk/zaloga/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

// storeError maps a store error to a response. Unexpected errors are logged
// and reported as 500 with fallback as the message.
func storeError(w http.ResponseWriter, err error, fallback string) {
	var aborted *store.TransactionAbortedError
	if errors.As(err, &aborted) {
		status := statusOf(aborted.Err)
		if status == http.StatusInternalServerError {
			slog.Error("order transaction aborted", "stage", aborted.Stage, "error", aborted.Err)
		}
		jsonResponse(w, status, map[string]string{
			"error":   "failed to create order and update inventory",
			"details": aborted.Error(),
		})
		return
	}

	var verr *store.ValidationError
	if errors.As(err, &verr) {
		body := map[string]string{"error": verr.Error()}
		if verr.Field != "" {
			body["field"] = verr.Field
		}
		jsonResponse(w, http.StatusBadRequest, body)
		return
	}

	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error(fallback, "error", err)
		jsonError(w, status, fallback)
		return
	}
	jsonError(w, status, err.Error())
}

// statusOf returns the HTTP status for a store error.
func statusOf(err error) int {
	var (
		verr     *store.ValidationError
		notFound *store.NotFoundError
		conflict *store.ConflictError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &conflict), errors.Is(err, store.ErrInsufficientStock):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
