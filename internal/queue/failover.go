package queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chansync/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverQueue sends work to the primary backend and switches to the fallback
// when the primary errors. The primary is retried once recoveryInterval has passed.
type FailoverQueue struct {
	primary  Queue
	fallback Queue
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time

	// owner remembers which backend handed out an active job
	owner sync.Map
}

func NewFailoverQueue(primary, fallback Queue, logger *zerolog.Logger) *FailoverQueue {
	return &FailoverQueue{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (q *FailoverQueue) Name() string { return q.primary.Name() }

func (q *FailoverQueue) markDown(err error, op string) {
	if !q.isDown.Swap(true) {
		q.logger.Error().Err(err).Str("queue", q.Name()).Str("op", op).
			Msg("Primary queue failed, falling back to memory")
	}
	q.mu.Lock()
	q.lastCheck = q.now()
	q.mu.Unlock()
}

// usePrimary reports whether the primary should be tried for this call.
func (q *FailoverQueue) usePrimary() bool {
	if !q.isDown.Load() {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.now().Sub(q.lastCheck) > recoveryInterval {
		q.lastCheck = q.now()
		return true
	}
	return false
}

func (q *FailoverQueue) recovered() {
	if q.isDown.Swap(false) {
		q.logger.Info().Str("queue", q.Name()).Msg("Primary queue recovered")
	}
}

func (q *FailoverQueue) Enqueue(ctx context.Context, job models.SyncJob, opts EnqueueOptions) error {
	if q.usePrimary() {
		err := q.primary.Enqueue(ctx, job, opts)
		if err == nil {
			q.recovered()
			return nil
		}
		q.markDown(err, "enqueue")
	}
	return q.fallback.Enqueue(ctx, job, opts)
}

func (q *FailoverQueue) TryDequeue(ctx context.Context) (*models.SyncJob, error) {
	if q.usePrimary() {
		job, err := q.primary.TryDequeue(ctx)
		if err == nil {
			q.recovered()
			if job != nil {
				q.owner.Store(job.SyncID, q.primary)
				return job, nil
			}
		} else {
			q.markDown(err, "dequeue")
		}
	}

	job, err := q.fallback.TryDequeue(ctx)
	if err != nil || job == nil {
		return job, err
	}
	q.owner.Store(job.SyncID, q.fallback)
	return job, nil
}

func (q *FailoverQueue) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	return blockingDequeue(ctx, defaultPollInterval, nil, q.TryDequeue)
}

func (q *FailoverQueue) Complete(ctx context.Context, syncID string, failed bool) error {
	backend := q.fallback
	if v, ok := q.owner.LoadAndDelete(syncID); ok {
		backend = v.(Queue)
	}
	return backend.Complete(ctx, syncID, failed)
}

func (q *FailoverQueue) Cancel(ctx context.Context, match func(models.SyncJob) bool) ([]models.SyncJob, error) {
	var removed []models.SyncJob
	if q.usePrimary() {
		jobs, err := q.primary.Cancel(ctx, match)
		if err != nil {
			q.markDown(err, "cancel")
		}
		removed = append(removed, jobs...)
	}
	jobs, err := q.fallback.Cancel(ctx, match)
	removed = append(removed, jobs...)
	return removed, err
}

// Contains returns an error instead of false while the primary cannot be asked.
func (q *FailoverQueue) Contains(ctx context.Context, syncID string) (bool, error) {
	ok, err := q.fallback.Contains(ctx, syncID)
	if err != nil || ok {
		return ok, err
	}
	if !q.usePrimary() {
		return false, fmt.Errorf("%s queue: primary backend unavailable", q.Name())
	}
	ok, err = q.primary.Contains(ctx, syncID)
	if err != nil {
		q.markDown(err, "contains")
		return false, err
	}
	q.recovered()
	return ok, nil
}

func (q *FailoverQueue) Stats(ctx context.Context) (models.QueueCounts, error) {
	counts, err := q.fallback.Stats(ctx)
	if err != nil {
		return counts, err
	}
	if q.isDown.Load() {
		return counts, nil
	}
	primary, err := q.primary.Stats(ctx)
	if err != nil {
		q.markDown(err, "stats")
		return counts, nil
	}
	counts.Waiting += primary.Waiting
	counts.Delayed += primary.Delayed
	counts.Active += primary.Active
	counts.Completed += primary.Completed
	counts.Failed += primary.Failed
	return counts, nil
}
