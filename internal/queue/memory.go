package queue

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"chansync/internal/models"
)

type memItem struct {
	job      models.SyncJob
	priority int
	seq      uint64
	readyAt  time.Time
	index    int
}

// readyHeap orders by priority desc, then by arrival.
type readyHeap []*memItem

func (h readyHeap) Len() int { return len(h) }
func (h readyHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h readyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *readyHeap) Push(x interface{}) {
	it := x.(*memItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *readyHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// delayedHeap orders by not-before time.
type delayedHeap []*memItem

func (h delayedHeap) Len() int { return len(h) }
func (h delayedHeap) Less(i, j int) bool {
	if !h[i].readyAt.Equal(h[j].readyAt) {
		return h[i].readyAt.Before(h[j].readyAt)
	}
	return h[i].seq < h[j].seq
}
func (h delayedHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *delayedHeap) Push(x interface{}) {
	it := x.(*memItem)
	it.index = len(*h)
	*h = append(*h, it)
}
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// MemoryQueue is an in-process queue. Its contents do not survive a restart.
type MemoryQueue struct {
	name         string
	pollInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	ready     readyHeap
	delayed   delayedHeap
	queued    map[string]struct{}
	active    map[string]models.SyncJob
	seq       uint64
	completed int64
	failed    int64
	closed    bool

	wake chan struct{}
}

func NewMemoryQueue(name string, pollInterval time.Duration) *MemoryQueue {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &MemoryQueue{
		name:         name,
		pollInterval: pollInterval,
		now:          time.Now,
		queued:       make(map[string]struct{}),
		active:       make(map[string]models.SyncJob),
		wake:         make(chan struct{}, 1),
	}
}

func (q *MemoryQueue) Name() string { return q.name }

func (q *MemoryQueue) Enqueue(_ context.Context, job models.SyncJob, opts EnqueueOptions) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}
	if _, ok := q.queued[job.SyncID]; ok {
		return fmt.Errorf("%s: %w", job.SyncID, ErrDuplicate)
	}
	if _, ok := q.active[job.SyncID]; ok {
		return fmt.Errorf("%s: %w", job.SyncID, ErrDuplicate)
	}

	now := q.now()
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = now
	}
	q.seq++
	it := &memItem{job: job, priority: opts.Priority, seq: q.seq}
	if opts.Delay > 0 {
		it.readyAt = now.Add(opts.Delay)
		heap.Push(&q.delayed, it)
	} else {
		heap.Push(&q.ready, it)
	}
	q.queued[job.SyncID] = struct{}{}

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *MemoryQueue) TryDequeue(_ context.Context) (*models.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}

	q.promoteLocked(q.now())
	if q.ready.Len() == 0 {
		return nil, nil
	}

	it := heap.Pop(&q.ready).(*memItem)
	delete(q.queued, it.job.SyncID)
	q.active[it.job.SyncID] = it.job
	job := it.job
	return &job, nil
}

func (q *MemoryQueue) promoteLocked(now time.Time) {
	for q.delayed.Len() > 0 && !q.delayed[0].readyAt.After(now) {
		it := heap.Pop(&q.delayed).(*memItem)
		heap.Push(&q.ready, it)
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (*models.SyncJob, error) {
	return blockingDequeue(ctx, q.pollInterval, q.wake, q.TryDequeue)
}

func (q *MemoryQueue) Complete(_ context.Context, syncID string, failed bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.active[syncID]; !ok {
		return fmt.Errorf("job %s is not active on %s queue", syncID, q.name)
	}
	delete(q.active, syncID)
	if failed {
		q.failed++
	} else {
		q.completed++
	}
	return nil
}

func (q *MemoryQueue) Cancel(_ context.Context, match func(models.SyncJob) bool) ([]models.SyncJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var removed []models.SyncJob

	keptReady := q.ready[:0]
	for _, it := range q.ready {
		if match(it.job) {
			removed = append(removed, it.job)
			delete(q.queued, it.job.SyncID)
			continue
		}
		keptReady = append(keptReady, it)
	}
	q.ready = keptReady
	heap.Init(&q.ready)

	keptDelayed := q.delayed[:0]
	for _, it := range q.delayed {
		if match(it.job) {
			removed = append(removed, it.job)
			delete(q.queued, it.job.SyncID)
			continue
		}
		keptDelayed = append(keptDelayed, it)
	}
	q.delayed = keptDelayed
	heap.Init(&q.delayed)

	return removed, nil
}

func (q *MemoryQueue) Contains(_ context.Context, syncID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.queued[syncID]; ok {
		return true, nil
	}
	_, ok := q.active[syncID]
	return ok, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (models.QueueCounts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.promoteLocked(q.now())
	return models.QueueCounts{
		Waiting:   int64(q.ready.Len()),
		Delayed:   int64(q.delayed.Len()),
		Active:    int64(len(q.active)),
		Completed: q.completed,
		Failed:    q.failed,
	}, nil
}

// Close rejects further enqueues and dequeues.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
