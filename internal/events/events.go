package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	EventSyncCompleted      = "sync_completed"
	EventSyncRetryScheduled = "sync_retry_scheduled"
	EventSyncRetryAbandoned = "sync_retry_abandoned"
	EventSyncCancelled      = "sync_cancelled"
)

// SyncEventPayload is the ledger snapshot published when a sync job settles.
type SyncEventPayload struct {
	SyncID       string    `json:"sync_id"`
	ParentSyncID string    `json:"parent_sync_id,omitempty"`
	PropertyID   string    `json:"property_id"`
	ChannelID    string    `json:"channel_id"`
	ProviderType string    `json:"provider_type,omitempty"`
	Operation    string    `json:"operation"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	TotalRecords int       `json:"total_records"`
	SuccessCount int       `json:"success_count"`
	FailedCount  int       `json:"failed_count"`
	ErrorSummary string    `json:"error_summary,omitempty"`
	DurationMs   int64     `json:"duration_ms"`
	At           time.Time `json:"at"`
}

// RetryEventPayload describes a retry decision for one record.
type RetryEventPayload struct {
	SyncID      string `json:"sync_id"`
	RetrySyncID string `json:"retry_sync_id,omitempty"`
	PropertyID  string `json:"property_id"`
	ChannelID   string `json:"channel_id"`
	RecordID    string `json:"record_id"`
	RetryCount  int    `json:"retry_count"`
	Reason      string `json:"reason"`
}

// Event is one published occurrence. Payload holds the JSON-encoded payload struct.
type Event struct {
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v interface{}) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus fans events out to in-process subscribers. Handlers run
// synchronously on the publisher's goroutine and must not block.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish calls every handler of the event type. Handler errors and panics
// are collected and returned; they never stop the remaining handlers.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, handler := range handlers {
		if err := callHandler(handler, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func callHandler(handler EventHandler, event *Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s handler panic: %v", event.Type, rec)
		}
	}()
	return handler(event)
}

// PublishJSON encodes payload and publishes it. A nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
}
