package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/opscart/cloud-cost-orchestrator/pkg/models"
)

// apiError is the uniform error body for every non-2xx response.
type apiError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// writeError maps domain errors onto HTTP statuses. Guard failures are
// conflicts, expiry is gone, caller mistakes are bad requests.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	code := "internal"

	var validation *models.ValidationError
	var conflict *models.ConflictError
	var invalid *models.InvalidTransitionError
	var stale *models.StaleTransitionError

	switch {
	case errors.As(err, &validation):
		status, code = http.StatusBadRequest, "validation_failed"
	case errors.Is(err, models.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrExpiredDecision):
		status, code = http.StatusGone, "expired"
	case errors.Is(err, models.ErrAlreadyInFlight):
		status, code = http.StatusConflict, "already_in_flight"
	case errors.As(err, &conflict):
		status, code = http.StatusConflict, "conflict"
	case errors.As(err, &invalid):
		status, code = http.StatusConflict, "invalid_transition"
	case errors.As(err, &stale):
		status, code = http.StatusConflict, "stale_transition"
	}

	if status == http.StatusInternalServerError {
		log.Printf("[ERROR] %s %s failed: %v", r.Method, r.URL.Path, err)
	}

	writeJSON(w, status, apiError{
		Code:      code,
		Message:   http.StatusText(status),
		Detail:    err.Error(),
		Timestamp: time.Now().UTC(),
		RequestID: requestID(r),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[WARN] failed to encode response: %v", err)
	}
}
