// Package api provides HTTP handlers for the HireCode API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hirecode/hirecode/internal/catalog"
	"github.com/hirecode/hirecode/internal/session"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// sessionError maps orchestrator errors onto HTTP statuses.
func sessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrValidation):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrNotFound):
		Error(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrTaskMismatch):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrFinished):
		Error(w, http.StatusConflict, "session already finished")
	case errors.Is(err, catalog.ErrEmpty):
		Error(w, http.StatusNotFound, "no tasks available for this stack")
	default:
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
