package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"chansync/internal/domain"
	"chansync/internal/events"
	"chansync/internal/metrics"
	"chansync/internal/models"
	"chansync/internal/queue"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options tune the pool. Zero values fall back to defaults.
type Options struct {
	Workers       int
	PollInterval  time.Duration
	StatsInterval time.Duration
	Retry         RetryPolicy
}

// Pool runs sync jobs from the primary and retry queues. Primary jobs are
// always taken first; the retry queue is drained only when primary is empty.
type Pool struct {
	primary   queue.Queue
	retry     queue.Queue
	ledger    domain.Ledger
	records   domain.RecordStore
	providers domain.ProviderResolver
	events    domain.EventPublisher

	opts   Options
	logger zerolog.Logger
	now    func() time.Time
	newID  func() (string, error)
}

func NewPool(primary, retry queue.Queue, ledger domain.Ledger, records domain.RecordStore,
	providers domain.ProviderResolver, publisher domain.EventPublisher, opts Options, logger *zerolog.Logger) *Pool {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.StatsInterval <= 0 {
		opts.StatsInterval = 15 * time.Second
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = models.DefaultRetryBudget
	}
	if opts.Retry.InitialDelay == 0 {
		opts.Retry.InitialDelay = models.DefaultRetryDelay
	}
	if opts.Retry.MaxDelay == 0 {
		opts.Retry.MaxDelay = 5 * time.Minute
	}
	if opts.Retry.BackoffFactor == 0 {
		opts.Retry.BackoffFactor = 2
	}

	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sync_worker").Logger()
	}

	return &Pool{
		primary:   primary,
		retry:     retry,
		ledger:    ledger,
		records:   records,
		providers: providers,
		events:    publisher,
		opts:      opts,
		logger:    l,
		now:       time.Now,
		newID:     newSyncID,
	}
}

func newSyncID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Start runs the workers and the queue gauge reporter until ctx is done.
// It returns once every in-flight job has settled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info().Int("workers", p.opts.Workers).Msg("sync workers started")
	defer p.logger.Info().Msg("sync workers stopped")

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.run(ctx, id)
		}(i + 1)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.reportQueues(ctx)
	}()

	wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	log := p.logger.With().Int("worker", id).Logger()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, src, err := p.next(ctx)
		if err != nil {
			log.Error().Err(err).Msg("dequeue failed")
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		// a job that was taken runs to completion even during shutdown,
		// otherwise its ledger entry would stay IN_PROGRESS
		p.Process(context.WithoutCancel(ctx), job, src)
	}
}

func (p *Pool) next(ctx context.Context) (*models.SyncJob, queue.Queue, error) {
	job, err := p.primary.TryDequeue(ctx)
	if err != nil && !errors.Is(err, queue.ErrClosed) {
		return nil, nil, fmt.Errorf("%s queue: %w", p.primary.Name(), err)
	}
	if job != nil {
		return job, p.primary, nil
	}

	job, err = p.retry.TryDequeue(ctx)
	if err != nil && !errors.Is(err, queue.ErrClosed) {
		return nil, nil, fmt.Errorf("%s queue: %w", p.retry.Name(), err)
	}
	if job != nil {
		return job, p.retry, nil
	}
	return nil, nil, nil
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Process executes one job: it claims the ledger entry, pushes every date
// group to the channel's provider, records per-record outcomes, schedules
// retries for transient failures and settles the ledger entry.
func (p *Pool) Process(ctx context.Context, job *models.SyncJob, src queue.Queue) {
	log := p.logger.With().
		Str("sync_id", job.SyncID).
		Str("queue", src.Name()).
		Str("channel_id", job.Request.ChannelID).
		Int("retry_count", job.RetryCount).
		Logger()

	started := p.now()
	if err := p.ledger.MarkInProgress(ctx, job.SyncID, started); err != nil {
		// cancelled or already handled by another worker
		if errors.Is(err, domain.ErrInvalidTransition) || errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("skipping job")
		} else {
			log.Error().Err(err).Msg("claim ledger entry")
		}
		if err := src.Complete(ctx, job.SyncID, true); err != nil {
			log.Error().Err(err).Msg("release skipped job")
		}
		return
	}

	result, resolved := p.execute(ctx, job, log)
	p.annotate(ctx, job, resolved, result, log)
	notes := p.scheduleRetries(ctx, job, result.Errors, log)

	finished := p.now()
	total := result.SyncedCount + result.FailedCount
	outcome := models.SyncOutcome{
		Status:       models.StatusForCounts(total, result.FailedCount),
		SuccessCount: result.SyncedCount,
		FailedCount:  result.FailedCount,
		ErrorSummary: summarize(result.Errors, notes),
		CompletedAt:  finished,
		DurationMs:   finished.Sub(started).Milliseconds(),
	}

	if err := p.ledger.CompleteLedgerEntry(ctx, job.SyncID, outcome); err != nil {
		log.Error().Err(err).Msg("complete ledger entry")
	}
	if err := src.Complete(ctx, job.SyncID, outcome.Status == models.SyncStatusFailed); err != nil {
		log.Error().Err(err).Msg("complete queue job")
	}

	metrics.ObserveJob(src.Name(), outcome.Status, finished.Sub(started))
	p.publish(events.EventSyncCompleted, events.SyncEventPayload{
		SyncID:       job.SyncID,
		ParentSyncID: job.ParentSyncID,
		PropertyID:   job.Request.PropertyID,
		ChannelID:    job.Request.ChannelID,
		ProviderType: job.Channel.ProviderType,
		Operation:    string(job.Request.Operation),
		Status:       string(outcome.Status),
		RetryCount:   job.RetryCount,
		TotalRecords: total,
		SuccessCount: outcome.SuccessCount,
		FailedCount:  outcome.FailedCount,
		ErrorSummary: outcome.ErrorSummary,
		DurationMs:   outcome.DurationMs,
		At:           finished,
	}, log)

	log.Info().
		Str("status", string(outcome.Status)).
		Int("synced", outcome.SuccessCount).
		Int("failed", outcome.FailedCount).
		Int64("duration_ms", outcome.DurationMs).
		Msg("sync job finished")
}

// execute resolves the job's records and sends them date group by date
// group. The returned counts always add up to the number of requested IDs.
func (p *Pool) execute(ctx context.Context, job *models.SyncJob, log zerolog.Logger) (models.BatchResult, []*models.RateInventoryRecord) {
	ids := job.Request.RecordIDs

	records, err := p.records.FindRecords(ctx, job.Request.PropertyID, ids)
	if err != nil {
		log.Error().Err(err).Msg("load records")
		return failJob(ids, codeStoreFailure, "load records: "+err.Error(), true), nil
	}

	adapter, err := p.providers.Resolve(job.Channel.ProviderType)
	if err != nil {
		log.Error().Err(err).Msg("resolve provider")
		return Merge(
			missingRecords(ids, records),
			failJob(recordIDs(records), codeNoProvider, err.Error(), false),
		), records
	}

	parts := []models.BatchResult{missingRecords(ids, records)}
	keys, groups := models.GroupByDate(records)
	for _, key := range keys {
		group := groups[key]
		callStart := p.now()
		raw := adapter.SyncBatch(ctx, group[0].Date, group, job.Channel, job.Request.Operation)
		res, consistent := reconcile(group, raw)
		if !consistent {
			log.Warn().
				Str("date", key).
				Int("reported_synced", raw.SyncedCount).
				Int("reported_failed", raw.FailedCount).
				Msg("provider counts disagree with its errors, recounted")
		}
		metrics.ObserveProviderCall(adapter.Type(), job.Request.Operation, p.now().Sub(callStart),
			res.SyncedCount, res.FailedCount)
		log.Debug().Str("date", key).Int("synced", res.SyncedCount).Int("failed", res.FailedCount).Msg("date group synced")
		parts = append(parts, res)
	}
	return Merge(parts...), records
}

func (p *Pool) annotate(ctx context.Context, job *models.SyncJob, records []*models.RateInventoryRecord,
	result models.BatchResult, log zerolog.Logger) {
	failed := make(map[string]string, len(result.Errors))
	for _, e := range result.Errors {
		failed[e.RecordID] = e.Message
	}

	at := p.now()
	for _, r := range records {
		status, msg := models.RecordSyncSuccess, ""
		if m, ok := failed[r.ID]; ok {
			status, msg = models.RecordSyncFailed, m
		}
		if err := p.records.AnnotateSyncStatus(ctx, r.ID, status, msg, at); err != nil {
			log.Warn().Err(err).Str("record_id", r.ID).Msg("annotate record")
		}
	}
}

// scheduleRetries spawns one retry job per retryable record failure while
// the retry budget lasts.
func (p *Pool) scheduleRetries(ctx context.Context, job *models.SyncJob, errs []models.SyncError, log zerolog.Logger) map[string]retryNote {
	notes := make(map[string]retryNote)
	for _, e := range errs {
		if !e.Retryable {
			continue
		}
		if p.opts.Retry.Exhausted(job.RetryCount) {
			reason := fmt.Sprintf("abandoned after %d retries", job.RetryCount)
			notes[e.RecordID] = retryNote{abandoned: true, reason: reason}
			metrics.IncRetry("abandoned")
			p.publishRetry(events.EventSyncRetryAbandoned, job, e.RecordID, "", reason, log)
			log.Warn().Str("record_id", e.RecordID).Msg("retry budget exhausted")
			continue
		}

		retryID, err := p.enqueueRetry(ctx, job, e.RecordID)
		if err != nil {
			reason := "retry not scheduled: " + err.Error()
			notes[e.RecordID] = retryNote{abandoned: true, reason: reason}
			metrics.IncRetry("failed")
			p.publishRetry(events.EventSyncRetryAbandoned, job, e.RecordID, retryID, reason, log)
			log.Error().Err(err).Str("record_id", e.RecordID).Msg("schedule retry")
			continue
		}

		notes[e.RecordID] = retryNote{retrySyncID: retryID}
		metrics.IncRetry("scheduled")
		p.publishRetry(events.EventSyncRetryScheduled, job, e.RecordID, retryID, e.Message, log)
	}
	return notes
}

func (p *Pool) enqueueRetry(ctx context.Context, job *models.SyncJob, recordID string) (string, error) {
	syncID, err := p.newID()
	if err != nil {
		return "", fmt.Errorf("generate sync id: %w", err)
	}

	now := p.now()
	child := job.Narrow(syncID, recordID)
	child.EnqueuedAt = now

	entry := &models.SyncLedgerEntry{
		SyncID:       child.SyncID,
		ParentSyncID: child.ParentSyncID,
		PropertyID:   child.Request.PropertyID,
		ChannelID:    child.Request.ChannelID,
		Operation:    child.Request.Operation,
		Priority:     child.Request.Priority,
		RequestedBy:  child.Request.RequestedBy,
		RetryCount:   child.RetryCount,
		Status:       models.SyncStatusPending,
		TotalRecords: len(child.Request.RecordIDs),
		CreatedAt:    now,
	}
	if err := p.ledger.CreateLedgerEntry(ctx, entry); err != nil {
		return "", fmt.Errorf("create retry ledger entry: %w", err)
	}

	opts := queue.EnqueueOptions{
		Priority: child.Request.Priority.Weight(),
		Delay:    p.opts.Retry.NextDelay(child.RetryCount),
	}
	if err := p.retry.Enqueue(ctx, child, opts); err != nil {
		if ferr := p.ledger.FailPendingEntry(ctx, syncID, "retry queue unavailable: "+err.Error(), p.now()); ferr != nil {
			log := p.logger.With().Str("sync_id", syncID).Logger()
			log.Error().Err(ferr).Msg("fail orphaned retry entry")
		}
		return syncID, fmt.Errorf("enqueue retry: %w", err)
	}
	return syncID, nil
}

func (p *Pool) publish(eventType string, payload interface{}, log zerolog.Logger) {
	if p.events == nil {
		return
	}
	if err := p.events.PublishJSON(eventType, payload); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}

func (p *Pool) publishRetry(eventType string, job *models.SyncJob, recordID, retryID, reason string, log zerolog.Logger) {
	p.publish(eventType, events.RetryEventPayload{
		SyncID:      job.SyncID,
		RetrySyncID: retryID,
		PropertyID:  job.Request.PropertyID,
		ChannelID:   job.Request.ChannelID,
		RecordID:    recordID,
		RetryCount:  job.RetryCount,
		Reason:      reason,
	}, log)
}

func (p *Pool) reportQueues(ctx context.Context) {
	ticker := time.NewTicker(p.opts.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range []queue.Queue{p.primary, p.retry} {
				counts, err := q.Stats(ctx)
				if err != nil {
					p.logger.Warn().Err(err).Str("queue", q.Name()).Msg("queue stats")
					continue
				}
				metrics.SetQueueDepth(q.Name(), counts)
			}
		}
	}
}

func recordIDs(records []*models.RateInventoryRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
