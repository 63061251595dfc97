package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"chansync/internal/domain"
	"chansync/internal/service"
)

const (
	codeInvalidRequest   = "INVALID_REQUEST"
	codeChannelNotFound  = "CHANNEL_NOT_FOUND"
	codeNotFound         = "NOT_FOUND"
	codeQueueUnavailable = "QUEUE_UNAVAILABLE"
	codeUnauthorized     = "UNAUTHORIZED"
	codeForbidden        = "FORBIDDEN"
	codeRateLimited      = "RATE_LIMITED"
	codeInternal         = "INTERNAL_ERROR"
)

type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *apiError   `json:"error,omitempty"`
}

type apiError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string, details interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(envelope{Error: &apiError{Code: code, Message: message, Details: details}})
}

// writeServiceError maps engine errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error, details interface{}) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "request validation failed", verr.Fields)
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, codeInvalidRequest, err.Error(), details)
	case errors.Is(err, service.ErrChannelNotFound):
		writeError(w, http.StatusNotFound, codeChannelNotFound, err.Error(), details)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error(), details)
	case errors.Is(err, service.ErrQueueUnavailable):
		writeError(w, http.StatusServiceUnavailable, codeQueueUnavailable, err.Error(), details)
	default:
		writeError(w, http.StatusInternalServerError, codeInternal, "an unexpected error occurred", details)
	}
}
