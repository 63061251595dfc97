package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chansync/internal/domain"
	"chansync/internal/events"
	"chansync/internal/metrics"
	"chansync/internal/models"
	"chansync/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const interruptedSummary = "interrupted: the process stopped before the job finished"

type Options struct {
	PageSize   int
	MaxRecords int
}

// SyncService accepts sync requests and exposes ledger and queue state.
// It never waits on provider I/O.
type SyncService struct {
	validator *Validator
	channels  domain.ChannelStore
	ledger    domain.Ledger
	primary   queue.Queue
	retry     queue.Queue
	providers domain.ProviderResolver
	eventBus  domain.EventPublisher
	pageSize  int
	logger    *zerolog.Logger

	now   func() time.Time
	newID func() (string, error)
}

func NewSyncService(channels domain.ChannelStore, ledger domain.Ledger, primary, retry queue.Queue,
	providers domain.ProviderResolver, eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) *SyncService {
	if opts.PageSize <= 0 {
		opts.PageSize = models.DefaultStatusPageSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SyncService{
		validator: NewValidator(channels, opts.MaxRecords),
		channels:  channels,
		ledger:    ledger,
		primary:   primary,
		retry:     retry,
		providers: providers,
		eventBus:  eventBus,
		pageSize:  opts.PageSize,
		logger:    logger,
		now:       time.Now,
		newID: func() (string, error) {
			id, err := uuid.NewV7()
			if err != nil {
				return "", err
			}
			return id.String(), nil
		},
	}
}

// SubmitSync validates the request, opens a PENDING ledger entry and puts
// the job on the primary queue.
func (s *SyncService) SubmitSync(ctx context.Context, req models.SyncRequest) (models.SubmitResult, error) {
	req = req.Normalized()

	if err := s.validator.Validate(ctx, req); err != nil {
		metrics.IncSubmitted("invalid")
		return models.SubmitResult{}, err
	}

	channel, err := s.resolveChannel(ctx, req.ChannelID)
	if err != nil {
		metrics.IncSubmitted("channel_not_found")
		return models.SubmitResult{}, err
	}
	if channel.PropertyID != "" && channel.PropertyID != req.PropertyID {
		metrics.IncSubmitted("channel_not_found")
		return models.SubmitResult{}, fmt.Errorf("%w: %s does not belong to property %s", ErrChannelNotFound, req.ChannelID, req.PropertyID)
	}

	syncID, err := s.newID()
	if err != nil {
		return models.SubmitResult{}, fmt.Errorf("generate sync id: %w", err)
	}

	now := s.now()
	entry := &models.SyncLedgerEntry{
		SyncID:       syncID,
		PropertyID:   req.PropertyID,
		ChannelID:    req.ChannelID,
		Operation:    req.Operation,
		Priority:     req.Priority,
		RequestedBy:  req.RequestedBy,
		Status:       models.SyncStatusPending,
		TotalRecords: len(req.RecordIDs),
		CreatedAt:    now,
	}
	if err := s.ledger.CreateLedgerEntry(ctx, entry); err != nil {
		return models.SubmitResult{}, fmt.Errorf("open ledger entry: %w", err)
	}

	job := models.SyncJob{
		SyncID:     syncID,
		Request:    req,
		Channel:    *channel,
		EnqueuedAt: now,
	}
	if err := s.primary.Enqueue(ctx, job, queue.EnqueueOptions{Priority: req.Priority.Weight()}); err != nil {
		summary := "enqueue failed: " + err.Error()
		if ferr := s.ledger.FailPendingEntry(ctx, syncID, summary, s.now()); ferr != nil {
			s.logger.Error().Err(ferr).Str("sync_id", syncID).Msg("fail ledger entry after enqueue error")
		}
		metrics.IncSubmitted("queue_unavailable")
		return models.SubmitResult{SyncID: syncID}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.IncSubmitted("accepted")
	s.logger.Info().
		Str("sync_id", syncID).
		Str("property_id", req.PropertyID).
		Str("channel_id", req.ChannelID).
		Str("operation", string(req.Operation)).
		Str("priority", string(req.Priority)).
		Int("records", len(req.RecordIDs)).
		Msg("sync accepted")

	return models.SubmitResult{SyncID: syncID, Accepted: true}, nil
}

func (s *SyncService) resolveChannel(ctx context.Context, channelID string) (*models.ChannelConfig, error) {
	channel, err := s.channels.GetChannelConfig(ctx, channelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return nil, fmt.Errorf("load channel %s: %w", channelID, err)
	}
	if !channel.IsActive {
		return nil, fmt.Errorf("%w: %s is inactive", ErrChannelNotFound, channelID)
	}
	return channel, nil
}

// GetStatus returns the most recent ledger entries for a property, newest first.
func (s *SyncService) GetStatus(ctx context.Context, propertyID, channelID string) ([]*models.SyncLedgerEntry, error) {
	if propertyID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "property_id", Message: "is required"}}}
	}
	return s.ledger.ListLedgerEntries(ctx, propertyID, channelID, s.pageSize)
}

// GetEntry returns one ledger entry. Unknown IDs yield domain.ErrNotFound.
func (s *SyncService) GetEntry(ctx context.Context, syncID string) (*models.SyncLedgerEntry, error) {
	return s.ledger.GetLedgerEntry(ctx, syncID)
}

// CancelPending removes waiting and delayed jobs of the scope from both
// queues and marks their entries CANCELLED. Jobs already taken by a worker
// are not touched.
func (s *SyncService) CancelPending(ctx context.Context, propertyID, channelID string) (int, error) {
	if propertyID == "" {
		return 0, &ValidationError{Fields: []FieldError{{Field: "property_id", Message: "is required"}}}
	}

	match := queue.MatchScope(propertyID, channelID)
	cancelled := 0
	var errs []error

	for _, q := range []queue.Queue{s.primary, s.retry} {
		jobs, err := q.Cancel(ctx, match)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: cancel on %s queue: %v", ErrQueueUnavailable, q.Name(), err))
		}
		for _, job := range jobs {
			if err := s.ledger.CancelLedgerEntry(ctx, job.SyncID, s.now()); err != nil {
				s.logger.Warn().Err(err).Str("sync_id", job.SyncID).Msg("cancel ledger entry")
				continue
			}
			cancelled++
			s.publish(events.EventSyncCancelled, events.SyncEventPayload{
				SyncID:       job.SyncID,
				ParentSyncID: job.ParentSyncID,
				PropertyID:   job.Request.PropertyID,
				ChannelID:    job.Request.ChannelID,
				ProviderType: job.Channel.ProviderType,
				Operation:    string(job.Request.Operation),
				Status:       string(models.SyncStatusCancelled),
				RetryCount:   job.RetryCount,
				TotalRecords: len(job.Request.RecordIDs),
				FailedCount:  len(job.Request.RecordIDs),
				At:           s.now(),
			})
		}
	}

	s.logger.Info().
		Str("property_id", propertyID).
		Str("channel_id", channelID).
		Int("cancelled", cancelled).
		Msg("pending syncs cancelled")

	return cancelled, errors.Join(errs...)
}

func (s *SyncService) GetQueueStats(ctx context.Context) (models.QueueStats, error) {
	primary, err := s.primary.Stats(ctx)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	retry, err := s.retry.Stats(ctx)
	if err != nil {
		return models.QueueStats{}, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return models.QueueStats{Primary: primary, Retry: retry}, nil
}

// TestConnection checks that the channel's provider is reachable.
// An inactive channel can still be tested.
func (s *SyncService) TestConnection(ctx context.Context, channelID string) (models.ConnectionResult, error) {
	channel, err := s.channels.GetChannelConfig(ctx, channelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.ConnectionResult{}, fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
		}
		return models.ConnectionResult{}, fmt.Errorf("load channel %s: %w", channelID, err)
	}

	adapter, err := s.providers.Resolve(channel.ProviderType)
	if err != nil {
		return models.ConnectionResult{Success: false, Message: err.Error()}, nil
	}
	return adapter.TestConnection(ctx), nil
}

// RecoverInterrupted fails ledger entries a previous process left behind.
// IN_PROGRESS entries older than the cutoff are always orphaned. PENDING ones
// only when neither queue still holds their job; entries whose job cannot be
// looked up are left alone.
func (s *SyncService) RecoverInterrupted(ctx context.Context, before time.Time) (int, error) {
	stale, err := s.ledger.ListStaleEntries(ctx, before)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, e := range stale {
		if e.Status == models.SyncStatusPending {
			queued, err := s.isQueued(ctx, e.SyncID)
			if err != nil {
				s.logger.Warn().Err(err).Str("sync_id", e.SyncID).Msg("look up pending job")
				continue
			}
			if queued {
				continue
			}
		}
		if err := s.ledger.AbortEntry(ctx, e.SyncID, interruptedSummary, s.now()); err != nil {
			s.logger.Warn().Err(err).Str("sync_id", e.SyncID).Msg("abort interrupted entry")
			continue
		}
		recovered++
	}
	if recovered > 0 {
		s.logger.Warn().Int("entries", recovered).Msg("interrupted syncs marked failed")
	}
	return recovered, nil
}

func (s *SyncService) isQueued(ctx context.Context, syncID string) (bool, error) {
	for _, q := range []queue.Queue{s.primary, s.retry} {
		ok, err := q.Contains(ctx, syncID)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// ExportEntries returns up to limit ledger entries for the audit export.
func (s *SyncService) ExportEntries(ctx context.Context, propertyID, channelID string, limit int) ([]*models.SyncLedgerEntry, error) {
	if propertyID == "" {
		return nil, &ValidationError{Fields: []FieldError{{Field: "property_id", Message: "is required"}}}
	}
	if limit <= 0 {
		limit = s.pageSize
	}
	return s.ledger.ListLedgerEntries(ctx, propertyID, channelID, limit)
}

func (s *SyncService) publish(eventType string, payload interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
