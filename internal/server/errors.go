package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/career-assistant/internal/orchestrator"
)

// errorEnvelope is the error body shape every endpoint shares.
type errorEnvelope struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// HTTPStatus returns the appropriate HTTP status code for an error.
func HTTPStatus(err error) int {
	var oe *orchestrator.Error
	if !errors.As(err, &oe) {
		return http.StatusInternalServerError
	}
	switch oe.Kind {
	case orchestrator.KindInvalidRequest, orchestrator.KindAmbiguousInput, orchestrator.KindIngestion:
		return http.StatusBadRequest
	case orchestrator.KindSessionNotFound, orchestrator.KindNotFound, orchestrator.KindArtifactUnavailable:
		return http.StatusNotFound
	case orchestrator.KindOriginRateLimit, orchestrator.KindGlobalRateLimit:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// envelope converts an error into the wire shape.
func envelope(err error) errorEnvelope {
	var oe *orchestrator.Error
	if errors.As(err, &oe) {
		return errorEnvelope{
			Error:      string(oe.Kind),
			Message:    oe.Message,
			Suggestion: oe.Suggestion,
		}
	}
	return errorEnvelope{
		Error:   string(orchestrator.KindInternal),
		Message: "an internal error occurred",
	}
}
