// internal/api/respond.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"channel-manager/internal/gateway"
	"channel-manager/internal/manager"
)

// Response is the envelope every lifecycle endpoint answers with.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

// fail maps the error taxonomy onto HTTP status codes and the response
// envelope.
func fail(w http.ResponseWriter, err error) {
	var (
		validation *manager.ValidationError
		notFound   *manager.NotFoundError
		conflict   *manager.ConflictError
		config     *manager.ConfigurationError
		persist    *manager.PersistenceError
		gw         *gateway.Error
	)

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, Response{Success: false, Error: validation.Error()})
	case errors.As(err, &notFound):
		writeJSON(w, http.StatusNotFound, Response{Success: false, Error: notFound.Error()})
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, Response{Success: false, Error: conflict.Error()})
	case errors.As(err, &config):
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: config.Error()})
	case errors.As(err, &gw):
		writeJSON(w, http.StatusBadGateway, Response{
			Success: false,
			Error:   "messaging gateway request failed",
			Details: gw.Message,
		})
	case errors.As(err, &persist):
		writeJSON(w, http.StatusInternalServerError, Response{
			Success: false,
			Error:   "failed to persist channel state",
			Details: persist.Error(),
		})
	default:
		writeJSON(w, http.StatusInternalServerError, Response{Success: false, Error: err.Error()})
	}
}
