package cleanup

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/task"
)

const retryBackoffStep = 5 * time.Second

// Runner is the cleanup entry point the scheduler drives; the task manager
// implements it.
type Runner interface {
	CleanupExpiredTasks() (task.CleanupResult, error)
}

type Options struct {
	CleanupHour       int `json:"cleanupHour"`
	MaxRetries        int `json:"maxRetries"`
	TaskRetentionDays int `json:"taskRetentionDays"`
}

func (o Options) withDefaults() Options {
	if o.CleanupHour < 0 || o.CleanupHour > 23 {
		o.CleanupHour = 2
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.TaskRetentionDays <= 0 {
		o.TaskRetentionDays = 7
	}
	return o
}

type Stats struct {
	TotalRuns         int           `json:"totalRuns"`
	TotalTasksCleaned int           `json:"totalTasksCleaned"`
	TotalFilesCleaned int           `json:"totalFilesCleaned"`
	TotalErrors       int           `json:"totalErrors"`
	LastRunDuration   time.Duration `json:"lastRunDuration"`
}

type Status struct {
	IsRunning       bool       `json:"isRunning"`
	LastCleanupTime *time.Time `json:"lastCleanupTime,omitempty"`
	NextCleanupTime *time.Time `json:"nextCleanupTime,omitempty"`
	Stats           Stats      `json:"stats"`
	Options         Options    `json:"options"`
}

// Scheduler fires the manager's cleanup at a configured local time each day
// and retries failed cycles with growing backoff.
type Scheduler struct {
	mu      sync.Mutex
	opts    Options
	runner  Runner
	logger  *zap.Logger
	cron    *cron.Cron
	entryID cron.EntryID
	running bool

	lastCleanupTime *time.Time
	stats           Stats

	sleep func(time.Duration)
}

func NewScheduler(opts Options, runner Runner, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		opts:   opts.withDefaults(),
		runner: runner,
		logger: logger,
		sleep:  time.Sleep,
	}
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	id, err := c.AddFunc(fmt.Sprintf("0 %d * * *", s.opts.CleanupHour), s.runScheduled)
	if err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}
	c.Start()

	s.cron = c
	s.entryID = id
	s.running = true
	s.logger.Info("cleanup scheduler started",
		zap.Int("cleanup_hour", s.opts.CleanupHour),
		zap.Time("next_run", c.Entry(id).Next),
	)
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.cron = nil
	s.running = false
	s.logger.Info("cleanup scheduler stopped")
}

// Restart cancels the armed trigger and recomputes it from new options.
func (s *Scheduler) Restart(opts Options) error {
	s.Stop()
	s.mu.Lock()
	s.opts = opts.withDefaults()
	s.mu.Unlock()
	return s.Start()
}

func (s *Scheduler) runScheduled() {
	res, duration, err := s.runWithRetry()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastCleanupTime = &now
	s.stats.LastRunDuration = duration
	if err != nil {
		// All attempts failed; totals stay as they were.
		return
	}
	s.stats.TotalRuns++
	s.accumulate(res)
}

// TriggerManual runs the same retry loop as a scheduled cycle. It
// accumulates into the task/file/error totals but not the cycle counter.
func (s *Scheduler) TriggerManual() (task.CleanupResult, error) {
	res, duration, err := s.runWithRetry()

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.lastCleanupTime = &now
	s.stats.LastRunDuration = duration
	if err != nil {
		return task.CleanupResult{}, err
	}
	s.accumulate(res)
	return res, nil
}

func (s *Scheduler) accumulate(res task.CleanupResult) {
	s.stats.TotalTasksCleaned += res.CleanedTasks
	s.stats.TotalFilesCleaned += res.DeletedFiles
	s.stats.TotalErrors += len(res.Errors)
}

// runWithRetry invokes the runner up to MaxRetries times, waiting
// 5 s × attempt between failures. Every attempt's error is logged.
func (s *Scheduler) runWithRetry() (task.CleanupResult, time.Duration, error) {
	s.mu.Lock()
	maxRetries := s.opts.MaxRetries
	s.mu.Unlock()

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		res, err := s.runner.CleanupExpiredTasks()
		if err == nil {
			return res, time.Since(start), nil
		}
		lastErr = err
		s.logger.Error("cleanup cycle attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < maxRetries {
			s.sleep(retryBackoffStep * time.Duration(attempt))
		}
	}
	return task.CleanupResult{}, time.Since(start), fmt.Errorf("cleanup failed after %d attempts: %w", maxRetries, lastErr)
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		IsRunning: s.running,
		Stats:     s.stats,
		Options:   s.opts,
	}
	if s.lastCleanupTime != nil {
		t := *s.lastCleanupTime
		st.LastCleanupTime = &t
	}
	if s.running {
		next := s.cron.Entry(s.entryID).Next
		st.NextCleanupTime = &next
	}
	return st
}
