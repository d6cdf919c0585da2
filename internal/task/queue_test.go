package task

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testChartConfig() ChartConfig {
	return ChartConfig{
		Option: map[string]any{
			"series": []any{map[string]any{"type": "bar", "data": []any{1.0, 2.0, 3.0}}},
		},
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) count(et EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == et {
			n++
		}
	}
	return n
}

func (r *eventRecorder) taskIDs(et EventType) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, ev := range r.events {
		if ev.Type == et && ev.Task != nil {
			ids = append(ids, ev.Task.ID)
		}
	}
	return ids
}

func (r *eventRecorder) waitFor(t *testing.T, et EventType, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.count(et) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, saw %d", n, et, r.count(et))
}

func newTestQueue(t *testing.T, cfg QueueConfig) (*Queue, *eventRecorder) {
	t.Helper()
	q := NewQueue(cfg, zap.NewNop())
	t.Cleanup(q.Stop)
	rec := &eventRecorder{}
	q.Notify(rec.record)
	return q, rec
}

func TestQueue_DuplicateIDRejected(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 1})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	dup := NewTask(testChartConfig())
	dup.ID = a.ID
	assert.ErrorIs(t, q.Enqueue(dup), ErrDuplicateTask)
	assert.Equal(t, 1, rec.count(EventTaskEnqueued))
}

func TestQueue_FIFOAdmissionAndCompletion(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 1})

	var submitted []string
	for i := 0; i < 4; i++ {
		task := NewTask(testChartConfig())
		submitted = append(submitted, task.ID)
		require.NoError(t, q.Enqueue(task))
	}

	// one in flight, three pending
	st := q.Status()
	assert.Equal(t, 1, st.ProcessingCount)
	assert.Equal(t, 3, st.PendingCount)

	for i := 0; i < 4; i++ {
		started := rec.taskIDs(EventTaskStarted)
		require.Len(t, started, i+1)
		require.NoError(t, q.CompleteTask(started[i], "https://example.com/x.png", "x.png"))
	}

	assert.Equal(t, submitted, rec.taskIDs(EventTaskStarted))
	assert.Equal(t, submitted, rec.taskIDs(EventTaskCompleted))

	st = q.Status()
	assert.Equal(t, 0, st.PendingCount)
	assert.Equal(t, 0, st.ProcessingCount)
	assert.Equal(t, 4, st.CompletedCount)
	assert.Equal(t, 4, st.TotalProcessed)
	assert.Equal(t, 0, st.TotalFailed)
}

func TestQueue_ConcurrencyBound(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 2})

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(NewTask(testChartConfig())))
	}

	st := q.Status()
	assert.Equal(t, 2, st.ProcessingCount)
	assert.Equal(t, 3, st.PendingCount)

	for q.Status().TotalProcessed < 5 {
		st := q.Status()
		assert.LessOrEqual(t, st.ProcessingCount, 2)
		started := rec.taskIDs(EventTaskStarted)
		require.NoError(t, q.CompleteTask(started[q.Status().TotalProcessed], "url", ""))
	}

	assert.Equal(t, 5, q.Status().CompletedCount)
}

func TestQueue_RetryRequeuesAtHead(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 1, RetryAttempts: 2})

	a := NewTask(testChartConfig())
	b := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	// a is in flight; failing it requeues it ahead of b
	require.NoError(t, q.FailTask(a.ID, "boom"))

	started := rec.taskIDs(EventTaskStarted)
	require.Len(t, started, 2)
	assert.Equal(t, a.ID, started[1], "retried task should jump ahead of pending submissions")
	assert.Equal(t, 1, rec.count(EventTaskRetry))

	got, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.Error)
}

func TestQueue_RetryBudgetExhaustedFails(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 1, RetryAttempts: 2})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.FailTask(a.ID, "boom"))
	}

	assert.Equal(t, 2, rec.count(EventTaskRetry))
	assert.Equal(t, 1, rec.count(EventTaskFailed))

	got, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, 2, got.RetryCount)
	require.NotNil(t, got.CompletedAt)
	require.NotNil(t, got.StartedAt)

	st := q.Status()
	assert.Equal(t, 1, st.TotalProcessed)
	assert.Equal(t, 1, st.TotalFailed)
}

func TestQueue_ZeroRetryAttemptsFailsImmediately(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 1, RetryAttempts: 0})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.FailTask(a.ID, "boom"))

	assert.Equal(t, 0, rec.count(EventTaskRetry))
	assert.Equal(t, 1, rec.count(EventTaskFailed))
}

func TestQueue_TimeoutSweepFailsExpiredTasks(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{
		MaxConcurrent: 1,
		TaskTimeout:   30 * time.Millisecond,
		RetryAttempts: 0,
		SweepInterval: 10 * time.Millisecond,
	})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	rec.waitFor(t, EventTaskTimeout, 1, time.Second)
	rec.waitFor(t, EventTaskFailed, 1, time.Second)

	got, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "task timeout", got.Error)
}

func TestQueue_TimeoutThenRetryThenFail(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{
		MaxConcurrent: 1,
		TaskTimeout:   30 * time.Millisecond,
		RetryAttempts: 1,
		SweepInterval: 10 * time.Millisecond,
	})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	rec.waitFor(t, EventTaskRetry, 1, time.Second)
	rec.waitFor(t, EventTaskFailed, 1, 2*time.Second)
	assert.GreaterOrEqual(t, rec.count(EventTaskTimeout), 2)

	got, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "task timeout", got.Error)
	assert.Equal(t, 1, got.RetryCount)
}

func TestQueue_StaleAttemptResultDiscarded(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{
		MaxConcurrent: 1,
		TaskTimeout:   30 * time.Millisecond,
		RetryAttempts: 1,
		SweepInterval: 10 * time.Millisecond,
	})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	rec.waitFor(t, EventTaskRetry, 1, time.Second)

	// attempt 1 was reclaimed by the sweep; its late completion must not
	// finish attempt 2
	err := q.completeAttempt(a.ID, 1, "url", "file")
	assert.ErrorIs(t, err, ErrNotProcessing)
}

func TestQueue_GetTaskLookupAndNotFound(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrent: 1})

	a := NewTask(testChartConfig())
	b := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.Enqueue(b))

	got, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, got.State)

	got, err = q.GetTask(b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)

	_, err = q.GetTask("no-such-task")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQueue_SnapshotsAreCopies(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrent: 1})

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))

	snap, err := q.GetTask(a.ID)
	require.NoError(t, err)
	snap.State = StateFailed
	snap.Error = "mutated"

	fresh, err := q.GetTask(a.ID)
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, fresh.State)
	assert.Empty(t, fresh.Error)
}

func TestQueue_CleanupExpiredEvictsOldRecords(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 3})

	var ids []string
	for i := 0; i < 3; i++ {
		task := NewTask(testChartConfig())
		ids = append(ids, task.ID)
		require.NoError(t, q.Enqueue(task))
		require.NoError(t, q.CompleteTask(task.ID, "url", fmt.Sprintf("f%d.png", i)))
	}

	keep := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(keep))
	require.NoError(t, q.CompleteTask(keep.ID, "url", "keep.png"))

	q.mu.Lock()
	for _, id := range ids {
		q.completed[id].CreatedAt = time.Now().AddDate(0, 0, -10)
	}
	q.mu.Unlock()

	removed := q.CleanupExpired(7)
	assert.Len(t, removed, 3)
	assert.Equal(t, 1, rec.count(EventTasksCleanedUp))

	for _, id := range ids {
		_, err := q.GetTask(id)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	_, err := q.GetTask(keep.ID)
	assert.NoError(t, err)
}

func TestQueue_PauseSuppressesAdmission(t *testing.T) {
	q, rec := newTestQueue(t, QueueConfig{MaxConcurrent: 2})

	q.Pause()
	assert.Equal(t, 1, rec.count(EventQueuePaused))

	require.NoError(t, q.Enqueue(NewTask(testChartConfig())))
	require.NoError(t, q.Enqueue(NewTask(testChartConfig())))

	assert.Equal(t, 0, rec.count(EventTaskStarted))
	assert.Equal(t, 2, q.Status().PendingCount)

	q.Resume()
	assert.Equal(t, 1, rec.count(EventQueueResumed))
	assert.Equal(t, 2, rec.count(EventTaskStarted))
	assert.Equal(t, 0, q.Status().PendingCount)
}

func TestQueue_ContainerAccounting(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrent: 2, RetryAttempts: 0})

	const n = 6
	for i := 0; i < n; i++ {
		require.NoError(t, q.Enqueue(NewTask(testChartConfig())))
	}

	for q.Status().TotalProcessed < n {
		st := q.Status()
		assert.Equal(t, n, st.PendingCount+st.ProcessingCount+st.CompletedCount)

		q.mu.Lock()
		var inflight string
		for id := range q.processing {
			inflight = id
			break
		}
		q.mu.Unlock()
		require.NotEmpty(t, inflight)
		require.NoError(t, q.CompleteTask(inflight, "url", ""))
	}

	st := q.Status()
	assert.Equal(t, n, st.CompletedCount)
	assert.Equal(t, n, st.TotalProcessed)
}

func TestQueue_AverageProcessingTimeExposed(t *testing.T) {
	q, _ := newTestQueue(t, QueueConfig{MaxConcurrent: 1})

	base := time.Now()
	tick := 0
	q.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * 50 * time.Millisecond)
	}

	a := NewTask(testChartConfig())
	require.NoError(t, q.Enqueue(a))
	require.NoError(t, q.CompleteTask(a.ID, "url", ""))

	assert.Equal(t, 50.0, q.Status().AverageProcessingTime)
}
