package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chansync/internal/config"
	"chansync/internal/models"

	"github.com/redis/go-redis/v9"
)

// priorityStride keeps priority dominant over the millisecond timestamp in a ZSET score
// while staying within float64's exact integer range.
const priorityStride = 1e13

// promoteAndPopScript moves due delayed jobs into the waiting set, then claims the
// best waiting job. KEYS: waiting, delayed, scores, active. ARGV: now (ms).
var promoteAndPopScript = redis.NewScript(`
	local due = redis.call("ZRANGEBYSCORE", KEYS[2], "-inf", ARGV[1], "LIMIT", 0, 100)
	for _, id in ipairs(due) do
		redis.call("ZREM", KEYS[2], id)
		local score = redis.call("HGET", KEYS[3], id)
		if score then
			redis.call("ZADD", KEYS[1], score, id)
		end
	end
	local popped = redis.call("ZPOPMIN", KEYS[1])
	if #popped == 0 then
		return false
	end
	local id = popped[1]
	redis.call("HDEL", KEYS[3], id)
	redis.call("SADD", KEYS[4], id)
	return id
`)

// removeIfQueuedScript drops a job only while it is still waiting or delayed.
// KEYS: waiting, delayed, scores, jobs. ARGV: syncID.
var removeIfQueuedScript = redis.NewScript(`
	local removed = redis.call("ZREM", KEYS[1], ARGV[1]) + redis.call("ZREM", KEYS[2], ARGV[1])
	if removed > 0 then
		redis.call("HDEL", KEYS[3], ARGV[1])
		redis.call("HDEL", KEYS[4], ARGV[1])
		return 1
	end
	return 0
`)

// completeScript releases an active job and bumps the outcome counter.
// KEYS: active, jobs, counter. ARGV: syncID.
var completeScript = redis.NewScript(`
	if redis.call("SREM", KEYS[1], ARGV[1]) == 0 then
		return 0
	end
	redis.call("HDEL", KEYS[2], ARGV[1])
	redis.call("INCR", KEYS[3])
	return 1
`)

// NewRedisClient создает клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisQueue keeps jobs in Redis so they survive process restarts and can be
// shared by several engine instances.
type RedisQueue struct {
	client       *redis.Client
	name         string
	pollInterval time.Duration
	now          func() time.Time

	jobsKey      string
	waitingKey   string
	delayedKey   string
	scoresKey    string
	activeKey    string
	completedKey string
	failedKey    string
}

func NewRedisQueue(client *redis.Client, prefix, name string, pollInterval time.Duration) *RedisQueue {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	base := fmt.Sprintf("%s:queue:%s", prefix, name)
	return &RedisQueue{
		client:       client,
		name:         name,
		pollInterval: pollInterval,
		now:          time.Now,
		jobsKey:      base + ":jobs",
		waitingKey:   base + ":waiting",
		delayedKey:   base + ":delayed",
		scoresKey:    base + ":scores",
		activeKey:    base + ":active",
		completedKey: base + ":completed",
		failedKey:    base + ":failed",
	}
}

func (q *RedisQueue) Name() string { return q.name }

func (q *RedisQueue) Enqueue(ctx context.Context, job models.SyncJob, opts EnqueueOptions) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}

	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	added, err := q.client.HSetNX(ctx, q.jobsKey, job.SyncID, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to store job in redis: %w", err)
	}
	if !added {
		return fmt.Errorf("%s: %w", job.SyncID, ErrDuplicate)
	}

	readyAt := now.Add(opts.Delay)
	score := -float64(opts.Priority)*priorityStride + float64(readyAt.UnixMilli())

	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if opts.Delay > 0 {
			pipe.HSet(ctx, q.scoresKey, job.SyncID, score)
			pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(readyAt.UnixMilli()), Member: job.SyncID})
			return nil
		}
		pipe.ZAdd(ctx, q.waitingKey, redis.Z{Score: score, Member: job.SyncID})
		return nil
	})
	if err != nil {
		q.client.HDel(ctx, q.jobsKey, job.SyncID)
		return fmt.Errorf("failed to enqueue job in redis: %w", err)
	}
	return nil
}

func (q *RedisQueue) TryDequeue(ctx context.Context) (*models.SyncJob, error) {
	if q.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	keys := []string{q.waitingKey, q.delayedKey, q.scoresKey, q.activeKey}
	id, err := promoteAndPopScript.Run(ctx, q.client, keys, q.now().UnixMilli()).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue from redis: %w", err)
	}

	payload, err := q.client.HGet(ctx, q.jobsKey, id).Bytes()
	if err != nil {
		q.client.SRem(ctx, q.activeKey, id)
		return nil, fmt.Errorf("job %s payload missing: %w", id, err)
	}

	var job models.SyncJob
	if err := json.Unmarshal(payload, &job); err != nil {
		q.client.SRem(ctx, q.activeKey, id)
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	return blockingDequeue(ctx, q.pollInterval, nil, q.TryDequeue)
}

func (q *RedisQueue) Complete(ctx context.Context, syncID string, failed bool) error {
	counter := q.completedKey
	if failed {
		counter = q.failedKey
	}

	keys := []string{q.activeKey, q.jobsKey, counter}
	n, err := completeScript.Run(ctx, q.client, keys, syncID).Int()
	if err != nil {
		return fmt.Errorf("failed to complete job %s: %w", syncID, err)
	}
	if n == 0 {
		return fmt.Errorf("job %s is not active on %s queue", syncID, q.name)
	}
	return nil
}

func (q *RedisQueue) Cancel(ctx context.Context, match func(models.SyncJob) bool) ([]models.SyncJob, error) {
	waiting, err := q.client.ZRange(ctx, q.waitingKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting jobs: %w", err)
	}
	delayed, err := q.client.ZRange(ctx, q.delayedKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list delayed jobs: %w", err)
	}

	ids := append(waiting, delayed...)
	if len(ids) == 0 {
		return nil, nil
	}

	payloads, err := q.client.HMGet(ctx, q.jobsKey, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load queued jobs: %w", err)
	}

	var removed []models.SyncJob
	keys := []string{q.waitingKey, q.delayedKey, q.scoresKey, q.jobsKey}
	for i, raw := range payloads {
		s, ok := raw.(string)
		if !ok {
			continue
		}
		var job models.SyncJob
		if err := json.Unmarshal([]byte(s), &job); err != nil {
			continue
		}
		if !match(job) {
			continue
		}
		n, err := removeIfQueuedScript.Run(ctx, q.client, keys, ids[i]).Int()
		if err != nil {
			return removed, fmt.Errorf("failed to cancel job %s: %w", ids[i], err)
		}
		if n == 1 {
			removed = append(removed, job)
		}
	}
	return removed, nil
}

// Contains checks the payload hash, which holds every job until it is completed or cancelled.
func (q *RedisQueue) Contains(ctx context.Context, syncID string) (bool, error) {
	if q.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := q.client.HExists(ctx, q.jobsKey, syncID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up job %s: %w", syncID, err)
	}
	return ok, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (models.QueueCounts, error) {
	var (
		waiting, delayed, active *redis.IntCmd
		completed, failed        *redis.StringCmd
	)
	_, err := q.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		waiting = pipe.ZCard(ctx, q.waitingKey)
		delayed = pipe.ZCard(ctx, q.delayedKey)
		active = pipe.SCard(ctx, q.activeKey)
		completed = pipe.Get(ctx, q.completedKey)
		failed = pipe.Get(ctx, q.failedKey)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return models.QueueCounts{}, fmt.Errorf("failed to read queue stats: %w", err)
	}

	completedN, _ := completed.Int64()
	failedN, _ := failed.Int64()
	return models.QueueCounts{
		Waiting:   waiting.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completedN,
		Failed:    failedN,
	}, nil
}
