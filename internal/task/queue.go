package task

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/observability"
)

type EventType string

const (
	EventTaskEnqueued   EventType = "taskEnqueued"
	EventTaskStarted    EventType = "taskStarted"
	EventTaskCompleted  EventType = "taskCompleted"
	EventTaskFailed     EventType = "taskFailed"
	EventTaskRetry      EventType = "taskRetry"
	EventTaskTimeout    EventType = "taskTimeout"
	EventTasksCleanedUp EventType = "tasksCleanedUp"
	EventQueuePaused    EventType = "queuePaused"
	EventQueueResumed   EventType = "queueResumed"
)

// Event is delivered synchronously to listeners after the state mutation it
// describes has completed. Task and Tasks are snapshots.
type Event struct {
	Type  EventType
	Task  *Task
	Tasks []*Task
}

const (
	defaultMaxConcurrent = 10
	defaultTaskTimeout   = 300 * time.Second
	defaultRetryAttempts = 3
	defaultSweepInterval = 30 * time.Second

	durationReservoirSize = 1000
)

type QueueConfig struct {
	MaxConcurrent int
	TaskTimeout   time.Duration
	RetryAttempts int
	// SweepInterval controls the timeout sweep cadence.
	SweepInterval time.Duration
}

// withDefaults fills unset fields. Range enforcement for externally
// supplied values lives in config.Validate.
func (c QueueConfig) withDefaults() QueueConfig {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = defaultMaxConcurrent
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultTaskTimeout
	}
	if c.RetryAttempts < 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
	return c
}

// QueueStatus is a point-in-time projection of the queue's containers.
// AverageProcessingTime is milliseconds.
type QueueStatus struct {
	PendingCount          int     `json:"pendingTasks"`
	ProcessingCount       int     `json:"processingTasks"`
	CompletedCount        int     `json:"completedTasks"`
	TotalProcessed        int     `json:"totalProcessed"`
	TotalFailed           int     `json:"totalFailed"`
	AverageProcessingTime float64 `json:"averageProcessingTime"`
	MaxConcurrent         int     `json:"maxConcurrent"`
}

// Queue schedules tasks with bounded concurrency and enforces retries and
// timeouts. Every id lives in exactly one of the pending deque, the
// processing map, or the completed archive. All mutation happens under one
// mutex; events are emitted after the lock is released.
type Queue struct {
	mu         sync.Mutex
	cfg        QueueConfig
	pending    *list.List
	pendingIDs map[string]*list.Element
	processing map[string]*Task
	completed  map[string]*Task

	durations      *observability.Reservoir
	totalProcessed int
	totalFailed    int
	paused         bool

	listeners []func(Event)

	now    func() time.Time
	stopCh chan struct{}
	wg     sync.WaitGroup
	logger *zap.Logger
}

func NewQueue(cfg QueueConfig, logger *zap.Logger) *Queue {
	q := &Queue{
		cfg:        cfg.withDefaults(),
		pending:    list.New(),
		pendingIDs: make(map[string]*list.Element),
		processing: make(map[string]*Task),
		completed:  make(map[string]*Task),
		durations:  observability.NewReservoir(durationReservoirSize),
		now:        time.Now,
		stopCh:     make(chan struct{}),
		logger:     logger,
	}

	q.wg.Add(1)
	go q.sweepLoop()
	return q
}

// Notify registers a listener. Listeners run synchronously in the mutating
// caller's goroutine.
func (q *Queue) Notify(fn func(Event)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *Queue) emit(ev Event) {
	q.mu.Lock()
	listeners := make([]func(Event), len(q.listeners))
	copy(listeners, q.listeners)
	q.mu.Unlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// Enqueue appends a task to the pending deque and attempts admission.
// A task id already present anywhere is rejected without side effects.
func (q *Queue) Enqueue(t *Task) error {
	q.mu.Lock()
	if q.contains(t.ID) {
		q.mu.Unlock()
		return ErrDuplicateTask
	}
	t.State = StatePending
	el := q.pending.PushBack(t)
	q.pendingIDs[t.ID] = el
	snap := t.snapshot()
	q.mu.Unlock()

	q.emit(Event{Type: EventTaskEnqueued, Task: snap})
	q.ProcessNext()
	return nil
}

func (q *Queue) contains(id string) bool {
	if _, ok := q.pendingIDs[id]; ok {
		return true
	}
	if _, ok := q.processing[id]; ok {
		return true
	}
	_, ok := q.completed[id]
	return ok
}

// ProcessNext admits at most one pending task. Admission re-fires on every
// completion, failure, retry and new submission.
func (q *Queue) ProcessNext() bool {
	q.mu.Lock()
	if q.paused || len(q.processing) >= q.cfg.MaxConcurrent || q.pending.Len() == 0 {
		q.mu.Unlock()
		return false
	}

	el := q.pending.Front()
	q.pending.Remove(el)
	t := el.Value.(*Task)
	delete(q.pendingIDs, t.ID)

	now := q.now()
	t.State = StateProcessing
	t.StartedAt = &now
	t.attempt++
	q.processing[t.ID] = t
	snap := t.snapshot()
	q.mu.Unlock()

	q.emit(Event{Type: EventTaskStarted, Task: snap})
	return true
}

// CompleteTask moves an in-flight task to the completed archive and samples
// its processing duration.
func (q *Queue) CompleteTask(id, url, fileName string) error {
	return q.completeAttempt(id, -1, url, fileName)
}

// completeAttempt finishes a specific admission; attempt -1 matches any.
func (q *Queue) completeAttempt(id string, attempt int, url, fileName string) error {
	q.mu.Lock()
	t, ok := q.processing[id]
	if !ok || (attempt >= 0 && t.attempt != attempt) {
		q.mu.Unlock()
		return ErrNotProcessing
	}

	now := q.now()
	t.State = StateCompleted
	t.ImageURL = url
	t.FileName = fileName
	t.CompletedAt = &now
	t.Error = ""
	delete(q.processing, id)
	q.completed[id] = t
	q.totalProcessed++
	if t.StartedAt != nil {
		q.durations.Add(float64(now.Sub(*t.StartedAt).Microseconds()) / 1000.0)
	}
	snap := t.snapshot()
	q.mu.Unlock()

	q.emit(Event{Type: EventTaskCompleted, Task: snap})
	q.ProcessNext()
	return nil
}

// FailTask applies the retry policy to an in-flight task: requeue at the
// head of the pending deque while the retry budget lasts, terminal failure
// once it is spent.
func (q *Queue) FailTask(id, reason string) error {
	return q.failAttempt(id, -1, reason)
}

func (q *Queue) failAttempt(id string, attempt int, reason string) error {
	q.mu.Lock()
	t, ok := q.processing[id]
	if !ok || (attempt >= 0 && t.attempt != attempt) {
		q.mu.Unlock()
		return ErrNotProcessing
	}

	if t.RetryCount < q.cfg.RetryAttempts {
		t.RetryCount++
		t.State = StatePending
		t.Error = ""
		delete(q.processing, id)
		el := q.pending.PushFront(t)
		q.pendingIDs[id] = el
		snap := t.snapshot()
		q.mu.Unlock()

		q.emit(Event{Type: EventTaskRetry, Task: snap})
		q.ProcessNext()
		return nil
	}

	now := q.now()
	t.State = StateFailed
	t.Error = reason
	t.CompletedAt = &now
	delete(q.processing, id)
	q.completed[id] = t
	q.totalProcessed++
	q.totalFailed++
	snap := t.snapshot()
	q.mu.Unlock()

	q.emit(Event{Type: EventTaskFailed, Task: snap})
	q.ProcessNext()
	return nil
}

// GetTask looks an id up in the processing map, the completed archive, then
// the pending deque, and returns a snapshot.
func (q *Queue) GetTask(id string) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if t, ok := q.processing[id]; ok {
		return t.snapshot(), nil
	}
	if t, ok := q.completed[id]; ok {
		return t.snapshot(), nil
	}
	if el, ok := q.pendingIDs[id]; ok {
		return el.Value.(*Task).snapshot(), nil
	}
	return nil, ErrNotFound
}

func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()

	return QueueStatus{
		PendingCount:          q.pending.Len(),
		ProcessingCount:       len(q.processing),
		CompletedCount:        len(q.completed),
		TotalProcessed:        q.totalProcessed,
		TotalFailed:           q.totalFailed,
		AverageProcessingTime: q.durations.Summarize().Avg,
		MaxConcurrent:         q.cfg.MaxConcurrent,
	}
}

// CleanupExpired evicts completed-archive entries older than retentionDays
// (measured from createdAt) and returns the removed snapshots.
func (q *Queue) CleanupExpired(retentionDays int) []*Task {
	q.mu.Lock()
	cutoff := q.now().AddDate(0, 0, -retentionDays)
	var removed []*Task
	for id, t := range q.completed {
		if t.CreatedAt.Before(cutoff) {
			removed = append(removed, t.snapshot())
			delete(q.completed, id)
		}
	}
	q.mu.Unlock()

	q.emit(Event{Type: EventTasksCleanedUp, Tasks: removed})
	return removed
}

// Pause suppresses admission and the timeout sweep. In-flight tasks run to
// completion.
func (q *Queue) Pause() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = true
	q.mu.Unlock()

	q.emit(Event{Type: EventQueuePaused})
}

// Resume re-enables the sweep and re-fires admission until the queue is
// saturated or drained.
func (q *Queue) Resume() {
	q.mu.Lock()
	if !q.paused {
		q.mu.Unlock()
		return
	}
	q.paused = false
	q.mu.Unlock()

	q.emit(Event{Type: EventQueueResumed})
	for q.ProcessNext() {
	}
}

func (q *Queue) Stop() {
	q.mu.Lock()
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) sweepLoop() {
	defer q.wg.Done()
	ticker := time.NewTicker(q.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			q.sweepTimeouts()
		}
	}
}

// sweepTimeouts fails every in-flight task past its deadline with reason
// "task timeout". The work itself is not cancelled; its late result is
// discarded because the record has left the processing map.
func (q *Queue) sweepTimeouts() {
	q.mu.Lock()
	if q.paused {
		q.mu.Unlock()
		return
	}
	now := q.now()
	var expired []*Task
	for _, t := range q.processing {
		if t.StartedAt != nil && now.Sub(*t.StartedAt) > q.cfg.TaskTimeout {
			expired = append(expired, t.snapshot())
		}
	}
	q.mu.Unlock()

	for _, snap := range expired {
		q.emit(Event{Type: EventTaskTimeout, Task: snap})
		if err := q.failAttempt(snap.ID, snap.attempt, "task timeout"); err != nil {
			q.logger.Warn("timeout sweep race", zap.String("task_id", snap.ID), zap.Error(err))
		}
	}
}
