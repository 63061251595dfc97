package domain

import (
	"context"
	"time"

	"chansync/internal/models"
	"chansync/internal/provider"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ChannelStore is the property/channel configuration store.
type ChannelStore interface {
	GetChannelConfig(ctx context.Context, channelID string) (*models.ChannelConfig, error)
	PropertyExists(ctx context.Context, propertyID string) (bool, error)
}

// RecordStore is the rate/inventory data store.
type RecordStore interface {
	FindRecords(ctx context.Context, propertyID string, recordIDs []string) ([]*models.RateInventoryRecord, error)
	AnnotateSyncStatus(ctx context.Context, recordID, status, errMsg string, at time.Time) error
}

// Ledger is the durable history of sync attempts. Every mutation is a single
// conditional update keyed by sync ID.
type Ledger interface {
	CreateLedgerEntry(ctx context.Context, entry *models.SyncLedgerEntry) error
	MarkInProgress(ctx context.Context, syncID string, at time.Time) error
	CompleteLedgerEntry(ctx context.Context, syncID string, outcome models.SyncOutcome) error
	FailPendingEntry(ctx context.Context, syncID, summary string, at time.Time) error
	CancelLedgerEntry(ctx context.Context, syncID string, at time.Time) error
	AbortEntry(ctx context.Context, syncID, summary string, at time.Time) error
	GetLedgerEntry(ctx context.Context, syncID string) (*models.SyncLedgerEntry, error)
	ListLedgerEntries(ctx context.Context, propertyID, channelID string, limit int) ([]*models.SyncLedgerEntry, error)
	ListStaleEntries(ctx context.Context, before time.Time) ([]*models.SyncLedgerEntry, error)
}

type ProviderResolver interface {
	Resolve(providerType string) (provider.Adapter, error)
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// SyncService is the transport-independent surface of the sync engine.
type SyncService interface {
	SubmitSync(ctx context.Context, req models.SyncRequest) (models.SubmitResult, error)
	GetStatus(ctx context.Context, propertyID, channelID string) ([]*models.SyncLedgerEntry, error)
	GetEntry(ctx context.Context, syncID string) (*models.SyncLedgerEntry, error)
	CancelPending(ctx context.Context, propertyID, channelID string) (int, error)
	GetQueueStats(ctx context.Context) (models.QueueStats, error)
	TestConnection(ctx context.Context, channelID string) (models.ConnectionResult, error)
	ExportEntries(ctx context.Context, propertyID, channelID string, limit int) ([]*models.SyncLedgerEntry, error)
}
