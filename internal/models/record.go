package models

import "time"

const (
	RecordSyncPending = "PENDING"
	RecordSyncSuccess = "SUCCESS"
	RecordSyncFailed  = "FAILED"
)

// RateInventoryRecord is one day of rate/availability/restrictions for a room and rate plan.
type RateInventoryRecord struct {
	ID                string     `json:"id"`
	PropertyID        string     `json:"property_id"`
	Date              time.Time  `json:"date"`
	RoomType          string     `json:"room_type"`
	RatePlan          string     `json:"rate_plan"`
	Rate              *float64   `json:"rate,omitempty"`
	Inventory         *int       `json:"inventory,omitempty"`
	MinStay           int        `json:"min_stay"`
	MaxStay           int        `json:"max_stay"`
	ClosedToArrival   bool       `json:"closed_to_arrival"`
	ClosedToDeparture bool       `json:"closed_to_departure"`
	StopSell          bool       `json:"stop_sell"`
	UpdatedAt         time.Time  `json:"updated_at"`
	SyncStatus        string     `json:"sync_status,omitempty"`
	SyncError         string     `json:"sync_error,omitempty"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

// DateKey is the calendar date (UTC) used for date grouping.
func (r RateInventoryRecord) DateKey() string {
	return r.Date.UTC().Format(DateLayout)
}
