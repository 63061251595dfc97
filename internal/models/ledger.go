package models

import "time"

type SyncStatus string

const (
	SyncStatusPending        SyncStatus = "PENDING"
	SyncStatusInProgress     SyncStatus = "IN_PROGRESS"
	SyncStatusSuccess        SyncStatus = "SUCCESS"
	SyncStatusPartialSuccess SyncStatus = "PARTIAL_SUCCESS"
	SyncStatusFailed         SyncStatus = "FAILED"
	SyncStatusCancelled      SyncStatus = "CANCELLED"
)

func (s SyncStatus) IsTerminal() bool {
	switch s {
	case SyncStatusSuccess, SyncStatusPartialSuccess, SyncStatusFailed, SyncStatusCancelled:
		return true
	}
	return false
}

// StatusForCounts picks the terminal status from the aggregate counts.
func StatusForCounts(total, failed int) SyncStatus {
	switch {
	case failed == 0:
		return SyncStatusSuccess
	case failed < total:
		return SyncStatusPartialSuccess
	default:
		return SyncStatusFailed
	}
}

type SyncLedgerEntry struct {
	SyncID       string     `json:"sync_id"`
	ParentSyncID string     `json:"parent_sync_id,omitempty"`
	PropertyID   string     `json:"property_id"`
	ChannelID    string     `json:"channel_id"`
	Operation    Operation  `json:"operation"`
	Priority     Priority   `json:"priority"`
	RequestedBy  string     `json:"requested_by"`
	RetryCount   int        `json:"retry_count"`
	Status       SyncStatus `json:"status"`
	TotalRecords int        `json:"total_records"`
	SuccessCount int        `json:"success_count"`
	FailedCount  int        `json:"failed_count"`
	ErrorSummary string     `json:"error_summary,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
}

// SyncOutcome is the terminal update applied to a ledger entry.
type SyncOutcome struct {
	Status       SyncStatus
	SuccessCount int
	FailedCount  int
	ErrorSummary string
	CompletedAt  time.Time
	DurationMs   int64
}

type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Delayed   int64 `json:"delayed"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

type QueueStats struct {
	Primary QueueCounts `json:"primary"`
	Retry   QueueCounts `json:"retry"`
}
