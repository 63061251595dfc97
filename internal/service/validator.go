package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"chansync/internal/domain"
	"chansync/internal/models"
)

var (
	ErrInvalidRequest   = errors.New("invalid sync request")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrQueueUnavailable = errors.New("queue unavailable")
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError lists every problem found in a request.
// It matches ErrInvalidRequest with errors.Is.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidRequest, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrInvalidRequest }

func (e *ValidationError) add(field, msg string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: msg})
}

// Validator checks a request before anything is queued or written.
type Validator struct {
	properties domain.ChannelStore
	maxRecords int
}

func NewValidator(properties domain.ChannelStore, maxRecords int) *Validator {
	if maxRecords <= 0 || maxRecords > models.MaxRecordsPerRequest {
		maxRecords = models.MaxRecordsPerRequest
	}
	return &Validator{properties: properties, maxRecords: maxRecords}
}

// Validate expects a normalized request. Property existence is only checked
// once the request is structurally valid.
func (v *Validator) Validate(ctx context.Context, req models.SyncRequest) error {
	verr := &ValidationError{}

	if req.PropertyID == "" {
		verr.add("property_id", "is required")
	}
	if req.ChannelID == "" {
		verr.add("channel_id", "is required")
	}
	switch n := len(req.RecordIDs); {
	case n == 0:
		verr.add("record_ids", "must not be empty")
	case n > v.maxRecords:
		verr.add("record_ids", fmt.Sprintf("must contain at most %d ids, got %d", v.maxRecords, n))
	}
	if !req.Operation.Valid() {
		verr.add("operation", fmt.Sprintf("unknown operation %q", req.Operation))
	}
	if !req.Priority.Valid() {
		verr.add("priority", fmt.Sprintf("unknown priority %q", req.Priority))
	}
	if len(verr.Fields) > 0 {
		return verr
	}

	exists, err := v.properties.PropertyExists(ctx, req.PropertyID)
	if err != nil {
		return fmt.Errorf("check property %s: %w", req.PropertyID, err)
	}
	if !exists {
		verr.add("property_id", fmt.Sprintf("property %q does not exist", req.PropertyID))
		return verr
	}
	return nil
}
