package models

import (
	"fmt"
	"strings"
	"time"
)

type Operation string

const (
	OperationCreate Operation = "CREATE"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

func (o Operation) Valid() bool {
	switch o {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// IsUpsert reports whether the operation goes to the provider's upsert endpoint.
func (o Operation) IsUpsert() bool {
	return o == OperationCreate || o == OperationUpdate
}

type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityNormal Priority = "NORMAL"
	PriorityLow    Priority = "LOW"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return true
	}
	return false
}

// Weight returns the numeric queue priority. Higher dequeues first.
func (p Priority) Weight() int {
	switch p {
	case PriorityHigh:
		return 10
	case PriorityLow:
		return 1
	default:
		return 5
	}
}

func ParsePriority(s string) Priority {
	p := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if p == "" {
		return PriorityNormal
	}
	return p
}

type SyncRequest struct {
	PropertyID  string    `json:"property_id"`
	ChannelID   string    `json:"channel_id"`
	RecordIDs   []string  `json:"record_ids"`
	Operation   Operation `json:"operation"`
	Priority    Priority  `json:"priority"`
	RequestedBy string    `json:"requested_by"`
}

// Normalized returns a copy with duplicate and blank record IDs removed
// (first occurrence order kept) and the default priority applied.
func (r SyncRequest) Normalized() SyncRequest {
	out := r
	out.PropertyID = strings.TrimSpace(r.PropertyID)
	out.ChannelID = strings.TrimSpace(r.ChannelID)
	out.Operation = Operation(strings.ToUpper(strings.TrimSpace(string(r.Operation))))
	out.Priority = ParsePriority(string(r.Priority))
	seen := make(map[string]struct{}, len(r.RecordIDs))
	out.RecordIDs = make([]string, 0, len(r.RecordIDs))
	for _, id := range r.RecordIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out.RecordIDs = append(out.RecordIDs, id)
	}
	return out
}

// SyncJob is the unit of work carried by the queues.
type SyncJob struct {
	SyncID       string        `json:"sync_id"`
	ParentSyncID string        `json:"parent_sync_id,omitempty"`
	RetryCount   int           `json:"retry_count"`
	Request      SyncRequest   `json:"request"`
	Channel      ChannelConfig `json:"channel"`
	EnqueuedAt   time.Time     `json:"enqueued_at"`
}

// Narrow builds a retry job scoped to a single record.
func (j SyncJob) Narrow(syncID, recordID string) SyncJob {
	req := j.Request
	req.RecordIDs = []string{recordID}
	return SyncJob{
		SyncID:       syncID,
		ParentSyncID: j.SyncID,
		RetryCount:   j.RetryCount + 1,
		Request:      req,
		Channel:      j.Channel,
	}
}

type SyncError struct {
	RecordID  string `json:"record_id"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e SyncError) String() string {
	s := fmt.Sprintf("%s: %s", e.RecordID, e.Message)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

// BatchResult is what a provider adapter reports for one date group.
type BatchResult struct {
	SyncedCount int         `json:"synced_count"`
	FailedCount int         `json:"failed_count"`
	Errors      []SyncError `json:"errors"`
}

type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type SubmitResult struct {
	SyncID   string `json:"sync_id"`
	Accepted bool   `json:"accepted"`
}
