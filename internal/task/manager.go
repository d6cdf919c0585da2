package task

import (
	"context"
	"encoding/base64"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/observability"
	"github.com/rambocode/echarts-server/internal/oss"
	"github.com/rambocode/echarts-server/internal/render"
)

const (
	defaultGaugeInterval = 10 * time.Second
	deleteBatchSize      = 10
	deleteBatchPause     = 100 * time.Millisecond
)

// ObjectStore is what the manager needs from the object-store adapter.
type ObjectStore interface {
	Upload(ctx context.Context, taskID string, buf []byte, contentType, ext string) (*oss.StoredObject, error)
	Delete(ctx context.Context, fileName string) error
}

type ManagerConfig struct {
	Queue             QueueConfig
	TaskRetentionDays int
	// CleanupInterval drives the manager's own recurring retention sweep;
	// zero disables it (the scheduler can still trigger cleanups).
	CleanupInterval time.Duration
	// GaugeInterval drives the queue gauge and system metric refresh.
	GaugeInterval time.Duration
}

// Manager glues validation, scheduling, rasterization, upload and metrics.
type Manager struct {
	queue    *Queue
	renderer render.Renderer
	store    ObjectStore // nil means no object store; data-URL fallback
	metrics  *observability.Collector
	logger   *zap.Logger
	cfg      ManagerConfig

	stopCh chan struct{}
	wg     sync.WaitGroup
	procWG sync.WaitGroup
	sleep  func(time.Duration)
}

func NewManager(cfg ManagerConfig, renderer render.Renderer, store ObjectStore, metrics *observability.Collector, logger *zap.Logger) *Manager {
	if cfg.TaskRetentionDays < 1 || cfg.TaskRetentionDays > 365 {
		cfg.TaskRetentionDays = 7
	}
	if cfg.GaugeInterval <= 0 {
		cfg.GaugeInterval = defaultGaugeInterval
	}

	m := &Manager{
		queue:    NewQueue(cfg.Queue, logger),
		renderer: renderer,
		store:    store,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
		sleep:    time.Sleep,
	}

	m.queue.Notify(m.handleEvent)

	m.wg.Add(1)
	go m.gaugeLoop()
	if cfg.CleanupInterval > 0 {
		m.wg.Add(1)
		go m.cleanupLoop()
	}
	return m
}

// CreateTask validates a submission, constructs the record and enqueues it.
func (m *Manager) CreateTask(cfg ChartConfig) (*Task, error) {
	var violations []string
	if len(cfg.Option) == 0 {
		violations = append(violations, "option is required")
	}
	// 0 is the unset sentinel on ChartConfig; anything below it is a
	// caller error.
	if cfg.Width < 0 {
		violations = append(violations, "width must be a positive number")
	}
	if cfg.Height < 0 {
		violations = append(violations, "height must be a positive number")
	}
	switch cfg.Type {
	case "", "png", "jpeg", "svg", "pdf":
	default:
		violations = append(violations, "type must be one of png, jpeg, svg, pdf")
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	t := NewTask(cfg)
	snap := t.snapshot()
	if err := m.queue.Enqueue(t); err != nil {
		return nil, err
	}
	m.metrics.RecordTaskCreated()
	return snap, nil
}

func (m *Manager) GetTask(id string) (*Task, error) {
	return m.queue.GetTask(id)
}

func (m *Manager) QueueStatus() QueueStatus {
	return m.queue.Status()
}

func (m *Manager) PauseQueue()  { m.queue.Pause() }
func (m *Manager) ResumeQueue() { m.queue.Resume() }

func (m *Manager) handleEvent(ev Event) {
	switch ev.Type {
	case EventTaskStarted:
		m.procWG.Add(1)
		go m.process(ev.Task)
	case EventTaskCompleted:
		duration := 0.0
		if ev.Task.StartedAt != nil && ev.Task.CompletedAt != nil {
			duration = float64(ev.Task.CompletedAt.Sub(*ev.Task.StartedAt).Microseconds()) / 1000.0
		}
		m.metrics.RecordTaskCompleted(duration)
	case EventTaskFailed:
		m.metrics.RecordTaskFailed()
		m.logger.Warn("task failed",
			zap.String("task_id", ev.Task.ID),
			zap.String("error", ev.Task.Error),
			zap.Int("retries", ev.Task.RetryCount),
		)
	case EventTaskRetry:
		m.metrics.RecordTaskRetried()
	case EventTaskTimeout:
		m.metrics.RecordTaskTimeout()
	}
}

// process runs one attempt: rasterize, then upload or inline. Outcomes feed
// back into the queue, which applies retry policy.
func (m *Manager) process(snap *Task) {
	defer m.procWG.Done()

	ctx := context.Background()
	out, err := m.renderer.Render(ctx, render.Request{
		Type:   snap.Config.Type,
		Width:  snap.Config.Width,
		Height: snap.Config.Height,
		Option: snap.Config.Option,
	})
	if err != nil {
		m.failAttempt(snap, err.Error())
		return
	}

	if m.store != nil {
		obj, err := m.store.Upload(ctx, snap.ID, out.Buffer, out.ContentType, out.Extension)
		if err != nil {
			m.failAttempt(snap, err.Error())
			return
		}
		m.finishAttempt(snap, obj.URL, obj.FileName)
		return
	}

	dataURL := "data:" + out.ContentType + ";base64," + base64.StdEncoding.EncodeToString(out.Buffer)
	m.finishAttempt(snap, dataURL, "")
}

func (m *Manager) finishAttempt(snap *Task, url, fileName string) {
	if err := m.queue.completeAttempt(snap.ID, snap.attempt, url, fileName); err != nil {
		// The sweep already reclaimed the slot; the late result is discarded.
		m.logger.Debug("discarding result for reclaimed attempt", zap.String("task_id", snap.ID))
	}
}

func (m *Manager) failAttempt(snap *Task, reason string) {
	if err := m.queue.failAttempt(snap.ID, snap.attempt, reason); err != nil {
		m.logger.Debug("discarding failure for reclaimed attempt", zap.String("task_id", snap.ID))
	}
}

type CleanupError struct {
	FileName string `json:"fileName"`
	Error    string `json:"error"`
}

type CleanupResult struct {
	CleanedTasks int            `json:"cleanedTasks"`
	DeletedFiles int            `json:"deletedFiles"`
	Errors       []CleanupError `json:"errors"`
}

// CleanupExpiredTasks evicts completed records past the retention window
// and deletes their backing objects. Per-file delete failures are collected
// in the result, never fatal.
func (m *Manager) CleanupExpiredTasks() (CleanupResult, error) {
	before := m.queue.Status()

	removed := m.queue.CleanupExpired(m.cfg.TaskRetentionDays)

	var fileNames []string
	for _, t := range removed {
		if t.State == StateCompleted && t.FileName != "" {
			fileNames = append(fileNames, t.FileName)
		}
	}

	res := CleanupResult{CleanedTasks: len(removed), Errors: []CleanupError{}}
	if m.store != nil && len(fileNames) > 0 {
		res.DeletedFiles, res.Errors = m.DeleteOSSFiles(fileNames)
	}

	m.logger.Info("retention cleanup",
		zap.Int("completed_before", before.CompletedCount),
		zap.Int("cleaned_tasks", res.CleanedTasks),
		zap.Int("deleted_files", res.DeletedFiles),
		zap.Int("delete_errors", len(res.Errors)),
	)
	return res, nil
}

// DeleteOSSFiles removes stored objects in batches of ten. Deletes inside a
// batch run concurrently; batches are separated by a short pause to
// throttle the external store.
func (m *Manager) DeleteOSSFiles(fileNames []string) (int, []CleanupError) {
	deleted := 0
	errs := []CleanupError{}
	var mu sync.Mutex

	for start := 0; start < len(fileNames); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(fileNames) {
			end = len(fileNames)
		}

		var wg sync.WaitGroup
		for _, name := range fileNames[start:end] {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := m.store.Delete(context.Background(), name); err != nil {
					mu.Lock()
					errs = append(errs, CleanupError{FileName: name, Error: err.Error()})
					mu.Unlock()
					return
				}
				mu.Lock()
				deleted++
				mu.Unlock()
			}(name)
		}
		wg.Wait()

		if end < len(fileNames) {
			m.sleep(deleteBatchPause)
		}
	}
	return deleted, errs
}

func (m *Manager) gaugeLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.GaugeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			st := m.queue.Status()
			m.metrics.SetQueueGauges(st.PendingCount, st.ProcessingCount)
			m.metrics.RefreshSystem()
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.CleanupExpiredTasks(); err != nil {
				m.logger.Error("scheduled cleanup failed", zap.Error(err))
			}
		}
	}
}

// Destroy stops the gauge refresh and retention timers and tears down the
// queue. In-flight rasterizer work is neither cancelled nor awaited; a
// result that arrives afterwards is still recorded in the queue.
func (m *Manager) Destroy() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.wg.Wait()
	m.queue.Stop()
}
