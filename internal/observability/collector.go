package observability

import (
	"runtime"
	"sync"
	"syscall"
	"time"
)

const (
	processingReservoirSize = 1000
	httpReservoirSize       = 1000
	ossReservoirSize        = 500
)

// Collector accumulates task, queue, object-store, HTTP and process metrics.
// Recorders and readers share it; Snapshot and the Prometheus bridge read a
// point-in-time copy under the same lock the recorders take.
type Collector struct {
	mu        sync.Mutex
	startTime time.Time

	tasksCreated   uint64
	tasksCompleted uint64
	tasksFailed    uint64
	tasksRetried   uint64
	tasksTimeout   uint64

	pendingTasks     int
	processingTasks  int
	maxPendingTasks  int
	maxProcessing    int

	ossUploads        uint64
	ossUploadFailures uint64
	ossDeletes        uint64
	ossDeleteFailures uint64
	uploadSizes       *Reservoir
	uploadDurations   *Reservoir

	httpRequests  uint64
	http2xx       uint64
	http4xx       uint64
	http5xx       uint64
	httpDurations *Reservoir

	processingTimes   *Reservoir
	processingSummary Summary

	peakHeapBytes uint64
	cpuSeconds    float64
}

func NewCollector() *Collector {
	return &Collector{
		startTime:       time.Now(),
		uploadSizes:     NewReservoir(ossReservoirSize),
		uploadDurations: NewReservoir(ossReservoirSize),
		httpDurations:   NewReservoir(httpReservoirSize),
		processingTimes: NewReservoir(processingReservoirSize),
	}
}

func (c *Collector) RecordTaskCreated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksCreated++
}

// RecordTaskCompleted counts a successful completion and samples its
// processing duration in milliseconds.
func (c *Collector) RecordTaskCompleted(durationMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksCompleted++
	c.processingTimes.Add(durationMS)
	c.processingSummary = c.processingTimes.Summarize()
}

// RecordTaskFailed counts a terminal failure. Deadline-induced failures are
// additionally counted by RecordTaskTimeout when the timeout is observed.
func (c *Collector) RecordTaskFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksFailed++
}

func (c *Collector) RecordTaskTimeout() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksTimeout++
}

func (c *Collector) RecordTaskRetried() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasksRetried++
}

// SetQueueGauges refreshes the instantaneous queue depths and tracks their
// historical maxima.
func (c *Collector) SetQueueGauges(pending, processing int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingTasks = pending
	c.processingTasks = processing
	if pending > c.maxPendingTasks {
		c.maxPendingTasks = pending
	}
	if processing > c.maxProcessing {
		c.maxProcessing = processing
	}
}

func (c *Collector) RecordUpload(sizeBytes int, durationMS float64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.ossUploadFailures++
		return
	}
	c.ossUploads++
	c.uploadSizes.Add(float64(sizeBytes))
	c.uploadDurations.Add(durationMS)
}

func (c *Collector) RecordDelete(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.ossDeleteFailures++
		return
	}
	c.ossDeletes++
}

func (c *Collector) RecordHTTPRequest(status int, durationMS float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpRequests++
	switch {
	case status >= 200 && status < 300:
		c.http2xx++
	case status >= 400 && status < 500:
		c.http4xx++
	case status >= 500:
		c.http5xx++
	}
	c.httpDurations.Add(durationMS)
}

// RefreshSystem samples process-level readings: peak heap from the runtime
// allocator and cumulative CPU seconds from getrusage. Called on the same
// cadence as the queue gauge refresh.
func (c *Collector) RefreshSystem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	var ru syscall.Rusage
	cpu := 0.0
	if err := syscall.Getrusage(syscall.RUSAGE_SELF, &ru); err == nil {
		cpu = tvSeconds(ru.Utime) + tvSeconds(ru.Stime)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ms.HeapAlloc > c.peakHeapBytes {
		c.peakHeapBytes = ms.HeapAlloc
	}
	if cpu > c.cpuSeconds {
		c.cpuSeconds = cpu
	}
}

func tvSeconds(tv syscall.Timeval) float64 {
	return float64(tv.Sec) + float64(tv.Usec)/1e6
}

// HeapInUse returns the current heap allocation, used by the health endpoint.
func (c *Collector) HeapInUse() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}

type TaskMetrics struct {
	Created   uint64 `json:"created"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
	Retried   uint64 `json:"retried"`
	Timeout   uint64 `json:"timeout"`
}

type QueueMetrics struct {
	PendingTasks      int `json:"pendingTasks"`
	ProcessingTasks   int `json:"processingTasks"`
	MaxPendingTasks   int `json:"maxPendingTasks"`
	MaxProcessingSeen int `json:"maxProcessingTasks"`
}

type OSSMetrics struct {
	Uploads        uint64  `json:"uploads"`
	UploadFailures uint64  `json:"uploadFailures"`
	Deletes        uint64  `json:"deletes"`
	DeleteFailures uint64  `json:"deleteFailures"`
	UploadSizes    Summary `json:"uploadSizes"`
	UploadTimes    Summary `json:"uploadTimes"`
}

type HTTPMetrics struct {
	Requests      uint64  `json:"requests"`
	Responses2xx  uint64  `json:"responses2xx"`
	Responses4xx  uint64  `json:"responses4xx"`
	Responses5xx  uint64  `json:"responses5xx"`
	ResponseTimes Summary `json:"responseTimes"`
}

type SystemMetrics struct {
	StartTime     time.Time `json:"startTime"`
	UptimeSeconds float64   `json:"uptimeSeconds"`
	PeakHeapBytes uint64    `json:"peakHeapBytes"`
	CPUSeconds    float64   `json:"cpuSeconds"`
}

// PerformanceSnapshot is the JSON projection served on the performance
// endpoint. Latency summaries are milliseconds; uptime and CPU time are
// seconds.
type PerformanceSnapshot struct {
	Tasks          TaskMetrics   `json:"tasks"`
	Queue          QueueMetrics  `json:"queue"`
	OSS            OSSMetrics    `json:"oss"`
	HTTP           HTTPMetrics   `json:"http"`
	System         SystemMetrics `json:"system"`
	ProcessingTime Summary       `json:"processingTime"`
}

func (c *Collector) Snapshot() PerformanceSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return PerformanceSnapshot{
		Tasks: TaskMetrics{
			Created:   c.tasksCreated,
			Completed: c.tasksCompleted,
			Failed:    c.tasksFailed,
			Retried:   c.tasksRetried,
			Timeout:   c.tasksTimeout,
		},
		Queue: QueueMetrics{
			PendingTasks:      c.pendingTasks,
			ProcessingTasks:   c.processingTasks,
			MaxPendingTasks:   c.maxPendingTasks,
			MaxProcessingSeen: c.maxProcessing,
		},
		OSS: OSSMetrics{
			Uploads:        c.ossUploads,
			UploadFailures: c.ossUploadFailures,
			Deletes:        c.ossDeletes,
			DeleteFailures: c.ossDeleteFailures,
			UploadSizes:    c.uploadSizes.Summarize(),
			UploadTimes:    c.uploadDurations.Summarize(),
		},
		HTTP: HTTPMetrics{
			Requests:      c.httpRequests,
			Responses2xx:  c.http2xx,
			Responses4xx:  c.http4xx,
			Responses5xx:  c.http5xx,
			ResponseTimes: c.httpDurations.Summarize(),
		},
		System: SystemMetrics{
			StartTime:     c.startTime,
			UptimeSeconds: time.Since(c.startTime).Seconds(),
			PeakHeapBytes: c.peakHeapBytes,
			CPUSeconds:    c.cpuSeconds,
		},
		ProcessingTime: c.processingSummary,
	}
}
