package gatekeep

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// WorkFunc is one unit of deferred analysis work.
type WorkFunc func(ctx context.Context) (AnalysisResult, error)

// QueueConfig configures a RequestQueue.
type QueueConfig struct {
	// Capacity is the maximum number of pending items. Default: 64
	Capacity int

	// PacingDelay is the fixed delay between dequeued items, to avoid
	// bursting the downstream provider. Default: 100ms
	PacingDelay time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Capacity <= 0 {
		c.Capacity = 64
	}
	if c.PacingDelay <= 0 {
		c.PacingDelay = 100 * time.Millisecond
	}
	return c
}

func queueFromSettings(s QueueSettings) QueueConfig {
	return QueueConfig{
		Capacity:    s.Capacity,
		PacingDelay: msDuration(s.PacingDelayMs),
	}.withDefaults()
}

type queueResult struct {
	res AnalysisResult
	err error
}

// workItem is the command object for one deferred call. The result channel
// is buffered so the dequeue loop never blocks on delivery.
type workItem struct {
	id         string
	priority   int
	units      int64
	enqueuedAt time.Time
	maxWait    time.Duration
	ctx        context.Context
	work       WorkFunc
	result     chan queueResult
}

// QueueStatus is a snapshot of queue activity.
type QueueStatus struct {
	Depth       int
	AverageWait time.Duration
	Processed   int64
	Failed      int64
}

// RequestQueue buffers calls that cannot proceed immediately. Items are
// dequeued highest priority first, FIFO within equal priority, by a single
// loop that paces the downstream provider.
type RequestQueue struct {
	cfg QueueConfig

	mu        sync.Mutex
	items     []*workItem
	closed    bool
	processed int64
	failed    int64
	totalWait time.Duration
	dequeued  int64

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

// NewRequestQueue creates a queue and starts its dequeue loop.
func NewRequestQueue(cfg QueueConfig) *RequestQueue {
	q := &RequestQueue{
		cfg:  cfg.withDefaults(),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.loop()
	return q
}

// Enqueue defers the work and blocks until it is executed, expires, or the
// caller's context is cancelled. Returns ErrQueueFull immediately when the
// queue is at capacity.
func (q *RequestQueue) Enqueue(ctx context.Context, work WorkFunc, priority int, units int64, maxWait time.Duration) (AnalysisResult, error) {
	item := &workItem{
		id:         uuid.New().String(),
		priority:   priority,
		units:      units,
		enqueuedAt: time.Now(),
		maxWait:    maxWait,
		ctx:        ctx,
		work:       work,
		result:     make(chan queueResult, 1),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return AnalysisResult{}, ErrQueueCleared
	}
	if len(q.items) >= q.cfg.Capacity {
		q.mu.Unlock()
		return AnalysisResult{}, ErrQueueFull
	}
	q.insertLocked(item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}

	select {
	case r := <-item.result:
		return r.res, r.err
	case <-ctx.Done():
		return AnalysisResult{}, ctx.Err()
	}
}

// insertLocked keeps items ordered by priority descending, preserving
// arrival order within equal priority.
func (q *RequestQueue) insertLocked(item *workItem) {
	i := len(q.items)
	for i > 0 && q.items[i-1].priority < item.priority {
		i--
	}
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = item
}

func (q *RequestQueue) loop() {
	defer close(q.done)

	for {
		item := q.pop()
		if item == nil {
			select {
			case <-q.wake:
				continue
			case <-q.stop:
				return
			}
		}

		q.process(item)

		select {
		case <-time.After(q.cfg.PacingDelay):
		case <-q.stop:
			return
		}
	}
}

func (q *RequestQueue) pop() *workItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = nil
	q.items = q.items[:len(q.items)-1]

	q.dequeued++
	q.totalWait += time.Since(item.enqueuedAt)
	return item
}

func (q *RequestQueue) process(item *workItem) {
	waited := time.Since(item.enqueuedAt)

	// Expired or abandoned items are failed without invoking the provider.
	if item.maxWait > 0 && waited > item.maxWait {
		item.result <- queueResult{err: ErrQueueTimeout}
		q.countFailed()
		return
	}
	if err := item.ctx.Err(); err != nil {
		item.result <- queueResult{err: err}
		q.countFailed()
		return
	}

	res, err := item.work(item.ctx)
	item.result <- queueResult{res: res, err: err}

	q.mu.Lock()
	if err != nil {
		q.failed++
	} else {
		q.processed++
	}
	q.mu.Unlock()
}

func (q *RequestQueue) countFailed() {
	q.mu.Lock()
	q.failed++
	q.mu.Unlock()
}

// Clear fails every pending item with ErrQueueCleared.
func (q *RequestQueue) Clear() {
	q.mu.Lock()
	pending := q.items
	q.items = nil
	q.failed += int64(len(pending))
	q.mu.Unlock()

	for _, item := range pending {
		item.result <- queueResult{err: ErrQueueCleared}
	}
}

// Close stops the dequeue loop and clears pending items. The queue accepts
// no further work after Close.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	close(q.stop)
	<-q.done
	q.Clear()
}

// Status reports queue depth, average wait, and cumulative counts.
func (q *RequestQueue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	var avg time.Duration
	if q.dequeued > 0 {
		avg = q.totalWait / time.Duration(q.dequeued)
	}
	return QueueStatus{
		Depth:       len(q.items),
		AverageWait: avg,
		Processed:   q.processed,
		Failed:      q.failed,
	}
}
