// Package queue holds the work queues drained by the sync worker pool.
// Every backend orders ready jobs by priority (higher first) and then by
// enqueue time, and keeps delayed jobs invisible until their not-before time.
package queue

import (
	"context"
	"errors"
	"time"

	"chansync/internal/models"
)

const defaultPollInterval = 500 * time.Millisecond

var (
	ErrClosed    = errors.New("queue closed")
	ErrDuplicate = errors.New("job already queued")
)

type EnqueueOptions struct {
	Priority int
	Delay    time.Duration
}

type Queue interface {
	Name() string
	Enqueue(ctx context.Context, job models.SyncJob, opts EnqueueOptions) error
	// TryDequeue returns (nil, nil) when no job is ready.
	TryDequeue(ctx context.Context) (*models.SyncJob, error)
	// Dequeue blocks until a job is ready or ctx is done.
	Dequeue(ctx context.Context) (*models.SyncJob, error)
	// Complete releases an active job and counts it as completed or failed.
	Complete(ctx context.Context, syncID string, failed bool) error
	// Cancel removes waiting and delayed jobs accepted by match. Active jobs are never touched.
	Cancel(ctx context.Context, match func(models.SyncJob) bool) ([]models.SyncJob, error)
	// Contains reports whether the job is still waiting, delayed or active.
	Contains(ctx context.Context, syncID string) (bool, error)
	Stats(ctx context.Context) (models.QueueCounts, error)
}

// MatchScope selects jobs for a property, and for one channel when channelID is set.
func MatchScope(propertyID, channelID string) func(models.SyncJob) bool {
	return func(job models.SyncJob) bool {
		if job.Request.PropertyID != propertyID {
			return false
		}
		return channelID == "" || job.Request.ChannelID == channelID
	}
}

// blockingDequeue polls try until it yields a job, waking early on wake.
func blockingDequeue(ctx context.Context, interval time.Duration, wake <-chan struct{},
	try func(context.Context) (*models.SyncJob, error),
) (*models.SyncJob, error) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		job, err := try(ctx)
		if err != nil || job != nil {
			return job, err
		}

		timer.Reset(interval)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-timer.C:
		}
	}
}
