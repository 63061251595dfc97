package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chansync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testJob(id, propertyID, channelID string) models.SyncJob {
	return models.SyncJob{
		SyncID: id,
		Request: models.SyncRequest{
			PropertyID: propertyID,
			ChannelID:  channelID,
			RecordIDs:  []string{"r-" + id},
			Operation:  models.OperationUpdate,
			Priority:   models.PriorityNormal,
		},
		Channel: models.ChannelConfig{ChannelID: channelID, PropertyID: propertyID, ProviderType: models.ProviderREST},
	}
}

type backendFactory func(t *testing.T, clock *fakeClock) Queue

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": func(t *testing.T, clock *fakeClock) Queue {
			q := NewMemoryQueue(models.QueuePrimary, 10*time.Millisecond)
			q.now = clock.Now
			return q
		},
		"redis": func(t *testing.T, clock *fakeClock) Queue {
			s, err := miniredis.Run()
			require.NoError(t, err)
			t.Cleanup(s.Close)
			client := redis.NewClient(&redis.Options{Addr: s.Addr()})
			t.Cleanup(func() { client.Close() })
			q := NewRedisQueue(client, "test", models.QueuePrimary, 10*time.Millisecond)
			q.now = clock.Now
			return q
		},
	}
}

func TestQueueBackends(t *testing.T) {
	for name, factory := range backends() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			t.Run("PriorityThenFIFO", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, testJob("low", "p", "c"), EnqueueOptions{Priority: 1}))
				clock.Advance(time.Millisecond)
				require.NoError(t, q.Enqueue(ctx, testJob("normal-1", "p", "c"), EnqueueOptions{Priority: 5}))
				clock.Advance(time.Millisecond)
				require.NoError(t, q.Enqueue(ctx, testJob("high", "p", "c"), EnqueueOptions{Priority: 10}))
				clock.Advance(time.Millisecond)
				require.NoError(t, q.Enqueue(ctx, testJob("normal-2", "p", "c"), EnqueueOptions{Priority: 5}))

				var order []string
				for i := 0; i < 4; i++ {
					job, err := q.TryDequeue(ctx)
					require.NoError(t, err)
					require.NotNil(t, job)
					order = append(order, job.SyncID)
				}
				assert.Equal(t, []string{"high", "normal-1", "normal-2", "low"}, order)

				job, err := q.TryDequeue(ctx)
				require.NoError(t, err)
				assert.Nil(t, job)
			})

			t.Run("DelayedJobInvisibleUntilDue", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, testJob("later", "p", "c"), EnqueueOptions{Priority: 5, Delay: 5 * time.Second}))

				job, err := q.TryDequeue(ctx)
				require.NoError(t, err)
				assert.Nil(t, job)

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), stats.Delayed)
				assert.Equal(t, int64(0), stats.Waiting)

				clock.Advance(5 * time.Second)
				job, err = q.TryDequeue(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, "later", job.SyncID)
				assert.Equal(t, []string{"r-later"}, job.Request.RecordIDs)
			})

			t.Run("CompleteCountsOutcome", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				for i := 0; i < 2; i++ {
					require.NoError(t, q.Enqueue(ctx, testJob(fmt.Sprintf("j%d", i), "p", "c"), EnqueueOptions{Priority: 5}))
				}
				a, err := q.TryDequeue(ctx)
				require.NoError(t, err)
				b, err := q.TryDequeue(ctx)
				require.NoError(t, err)

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(2), stats.Active)

				require.NoError(t, q.Complete(ctx, a.SyncID, false))
				require.NoError(t, q.Complete(ctx, b.SyncID, true))
				assert.Error(t, q.Complete(ctx, a.SyncID, false), "completing twice must fail")

				stats, err = q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, models.QueueCounts{Completed: 1, Failed: 1}, stats)
			})

			t.Run("CancelLeavesActiveJobs", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, testJob("running", "p", "c"), EnqueueOptions{Priority: 10}))
				running, err := q.TryDequeue(ctx)
				require.NoError(t, err)
				require.NotNil(t, running)

				require.NoError(t, q.Enqueue(ctx, testJob("waiting", "p", "c"), EnqueueOptions{Priority: 5}))
				require.NoError(t, q.Enqueue(ctx, testJob("delayed", "p", "c"), EnqueueOptions{Priority: 5, Delay: time.Minute}))
				require.NoError(t, q.Enqueue(ctx, testJob("other-channel", "p", "c2"), EnqueueOptions{Priority: 5}))
				require.NoError(t, q.Enqueue(ctx, testJob("other-property", "p2", "c"), EnqueueOptions{Priority: 5}))

				removed, err := q.Cancel(ctx, MatchScope("p", "c"))
				require.NoError(t, err)
				var ids []string
				for _, j := range removed {
					ids = append(ids, j.SyncID)
				}
				assert.ElementsMatch(t, []string{"waiting", "delayed"}, ids)

				stats, err := q.Stats(ctx)
				require.NoError(t, err)
				assert.Equal(t, int64(1), stats.Active)
				assert.Equal(t, int64(2), stats.Waiting)
				assert.Equal(t, int64(0), stats.Delayed)

				removed, err = q.Cancel(ctx, MatchScope("p", ""))
				require.NoError(t, err)
				assert.Len(t, removed, 1)
				assert.Equal(t, "other-channel", removed[0].SyncID)

				require.NoError(t, q.Complete(ctx, running.SyncID, false))
			})

			t.Run("ContainsUntilCompleteOrCancel", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, testJob("run", "p", "c"), EnqueueOptions{Priority: 5}))
				require.NoError(t, q.Enqueue(ctx, testJob("wait", "p", "c2"), EnqueueOptions{Priority: 1, Delay: time.Minute}))

				for _, id := range []string{"run", "wait"} {
					ok, err := q.Contains(ctx, id)
					require.NoError(t, err)
					assert.True(t, ok, id)
				}
				ok, err := q.Contains(ctx, "missing")
				require.NoError(t, err)
				assert.False(t, ok)

				job, err := q.TryDequeue(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				ok, err = q.Contains(ctx, "run")
				require.NoError(t, err)
				assert.True(t, ok, "active jobs are still held")

				require.NoError(t, q.Complete(ctx, "run", false))
				_, err = q.Cancel(ctx, MatchScope("p", "c2"))
				require.NoError(t, err)
				for _, id := range []string{"run", "wait"} {
					ok, err := q.Contains(ctx, id)
					require.NoError(t, err)
					assert.False(t, ok, id)
				}
			})

			t.Run("DuplicateRejected", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx := context.Background()

				require.NoError(t, q.Enqueue(ctx, testJob("dup", "p", "c"), EnqueueOptions{Priority: 5}))
				err := q.Enqueue(ctx, testJob("dup", "p", "c"), EnqueueOptions{Priority: 5})
				assert.ErrorIs(t, err, ErrDuplicate)
			})

			t.Run("DequeueBlocksUntilEnqueue", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()

				go func() {
					time.Sleep(30 * time.Millisecond)
					_ = q.Enqueue(context.Background(), testJob("late", "p", "c"), EnqueueOptions{Priority: 5})
				}()

				job, err := q.Dequeue(ctx)
				require.NoError(t, err)
				require.NotNil(t, job)
				assert.Equal(t, "late", job.SyncID)
			})

			t.Run("DequeueHonoursContext", func(t *testing.T) {
				clock := newFakeClock()
				q := factory(t, clock)
				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()

				job, err := q.Dequeue(ctx)
				assert.Nil(t, job)
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			})
		})
	}
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(models.QueueRetry, 0)
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), testJob("x", "p", "c"), EnqueueOptions{})
	assert.ErrorIs(t, err, ErrClosed)
	_, err = q.TryDequeue(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, models.QueueRetry, q.Name())
}

func TestRedisQueueUnavailable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer client.Close()
	s.Close()

	q := NewRedisQueue(client, "test", models.QueuePrimary, 0)
	err = q.Enqueue(context.Background(), testJob("x", "p", "c"), EnqueueOptions{Priority: 5})
	assert.Error(t, err)
}
