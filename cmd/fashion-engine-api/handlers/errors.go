// Package handlers provides HTTP handlers for the fashion engine API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/domain"
	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/observability"
)

// ErrorResponse is the JSON body of every error reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindInvalidRequest:
		return http.StatusBadRequest
	case domain.KindUpstreamFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFailure logs err and writes the matching error reply. Only invalid
// request messages reach the client; other causes stay in the log.
func writeFailure(w http.ResponseWriter, log *observability.Logger, op string, err error) {
	status := statusFor(err)

	var message string
	switch status {
	case http.StatusBadRequest:
		var de *domain.Error
		if errors.As(err, &de) {
			message = de.Message
		}
		log.Warn().Err(err).Str("operation", op).Int("status", status).Msg("Rejected request")
	case http.StatusBadGateway:
		message = "feature extraction unavailable"
		log.Error().Err(err).Str("operation", op).Int("status", status).Msg("Upstream failure")
	default:
		message = "internal error"
		log.Error().Err(err).Str("operation", op).Int("status", status).Msg("Request failed")
	}

	writeError(w, status, op+" failed", message)
}

func writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	resp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Detail:  detail,
	}
	json.NewEncoder(w).Encode(resp)
}

func writeJSON(w http.ResponseWriter, log *observability.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
