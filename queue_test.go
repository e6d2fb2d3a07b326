package gatekeep_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gk "github.com/relayops/gatekeep"
)

func resultWork(id string) gk.WorkFunc {
	return func(context.Context) (gk.AnalysisResult, error) {
		return gk.AnalysisResult{ID: id}, nil
	}
}

// slowWork blocks the dequeue loop long enough for later enqueues to pile up.
func slowWork(d time.Duration) gk.WorkFunc {
	return func(ctx context.Context) (gk.AnalysisResult, error) {
		select {
		case <-time.After(d):
		case <-ctx.Done():
		}
		return gk.AnalysisResult{}, nil
	}
}

func TestQueue_DeliversResultToCaller(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	res, err := q.Enqueue(context.Background(), resultWork("r1"), 0, 10, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "r1", res.ID)

	st := q.Status()
	assert.Equal(t, int64(1), st.Processed)
	assert.Equal(t, int64(0), st.Failed)
}

func TestQueue_HigherPriorityDequeuedFirst(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(id string) gk.WorkFunc {
		return func(context.Context) (gk.AnalysisResult, error) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			return gk.AnalysisResult{}, nil
		}
	}

	// Hold the loop busy so the later items are ordered while pending.
	go q.Enqueue(context.Background(), slowWork(50*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	enqueue := func(id string, priority int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), record(id), priority, 1, time.Second)
			require.NoError(t, err)
		}()
		time.Sleep(5 * time.Millisecond) // deterministic arrival order
	}

	enqueue("low-a", 1)
	enqueue("high", 5)
	enqueue("low-b", 1)
	wg.Wait()

	assert.Equal(t, []string{"high", "low-a", "low-b"}, order)
}

func TestQueue_RejectsWhenAtCapacity(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{Capacity: 1, PacingDelay: time.Millisecond})
	defer q.Close()

	go q.Enqueue(context.Background(), slowWork(80*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	done := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(context.Background(), resultWork("pending"), 0, 1, time.Second)
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)

	_, err := q.Enqueue(context.Background(), resultWork("overflow"), 0, 1, time.Second)
	assert.ErrorIs(t, err, gk.ErrQueueFull)

	require.NoError(t, <-done)
}

func TestQueue_ExpiredItemFailsWithoutExecuting(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	go q.Enqueue(context.Background(), slowWork(60*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	executed := false
	_, err := q.Enqueue(context.Background(), func(context.Context) (gk.AnalysisResult, error) {
		executed = true
		return gk.AnalysisResult{}, nil
	}, 0, 1, 20*time.Millisecond)

	assert.ErrorIs(t, err, gk.ErrQueueTimeout)
	assert.False(t, executed)

	st := q.Status()
	assert.GreaterOrEqual(t, st.Failed, int64(1))
}

func TestQueue_ClearFailsAllPending(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	go q.Enqueue(context.Background(), slowWork(100*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := q.Enqueue(context.Background(), resultWork("x"), 0, 1, time.Second)
			results <- err
		}()
	}
	time.Sleep(10 * time.Millisecond)

	q.Clear()

	assert.ErrorIs(t, <-results, gk.ErrQueueCleared)
	assert.ErrorIs(t, <-results, gk.ErrQueueCleared)
}

func TestQueue_CallerCancellationUnblocksEnqueue(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	go q.Enqueue(context.Background(), slowWork(100*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := q.Enqueue(ctx, resultWork("cancelled"), 0, 1, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_StatusReportsDepthAndAverageWait(t *testing.T) {
	q := gk.NewRequestQueue(gk.QueueConfig{PacingDelay: time.Millisecond})
	defer q.Close()

	go q.Enqueue(context.Background(), slowWork(50*time.Millisecond), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	go q.Enqueue(context.Background(), resultWork("waiting"), 0, 1, time.Second)
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, 1, q.Status().Depth)
}
