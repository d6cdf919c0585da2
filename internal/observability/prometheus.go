package observability

import (
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
)

// Version is stamped into the echarts_info metric.
const Version = "1.0.0"

var (
	descTasksCreated   = prometheus.NewDesc("echarts_tasks_created_total", "Chart tasks created.", nil, nil)
	descTasksCompleted = prometheus.NewDesc("echarts_tasks_completed_total", "Chart tasks completed successfully.", nil, nil)
	descTasksFailed    = prometheus.NewDesc("echarts_tasks_failed_total", "Chart tasks terminally failed.", nil, nil)
	descTasksRetried   = prometheus.NewDesc("echarts_tasks_retried_total", "Chart task retry attempts.", nil, nil)
	descTasksTimeout   = prometheus.NewDesc("echarts_tasks_timeout_total", "Chart tasks that exceeded the processing deadline.", nil, nil)

	descQueuePending       = prometheus.NewDesc("echarts_queue_pending_tasks", "Tasks waiting for admission.", nil, nil)
	descQueueProcessing    = prometheus.NewDesc("echarts_queue_processing_tasks", "Tasks currently in flight.", nil, nil)
	descQueueMaxPending    = prometheus.NewDesc("echarts_queue_max_pending_tasks", "Highest observed pending depth.", nil, nil)
	descQueueMaxProcessing = prometheus.NewDesc("echarts_queue_max_processing_tasks", "Highest observed in-flight count.", nil, nil)

	descOSSUploads        = prometheus.NewDesc("echarts_oss_uploads_total", "Successful object-store uploads.", nil, nil)
	descOSSUploadFailures = prometheus.NewDesc("echarts_oss_upload_failures_total", "Failed object-store uploads.", nil, nil)
	descOSSDeletes        = prometheus.NewDesc("echarts_oss_deletes_total", "Successful object-store deletes.", nil, nil)
	descOSSDeleteFailures = prometheus.NewDesc("echarts_oss_delete_failures_total", "Failed object-store deletes.", nil, nil)

	descHTTPRequests  = prometheus.NewDesc("echarts_http_requests_total", "HTTP requests received.", nil, nil)
	descHTTPResponses = prometheus.NewDesc("echarts_http_responses_total", "HTTP responses by status class.", []string{"class"}, nil)

	descProcessingMS       = prometheus.NewDesc("echarts_task_processing_duration_ms", "Task processing duration percentiles in milliseconds.", []string{"quantile"}, nil)
	descProcessingMinMS    = prometheus.NewDesc("echarts_task_processing_duration_ms_min", "Minimum sampled task processing duration in milliseconds.", nil, nil)
	descProcessingMaxMS    = prometheus.NewDesc("echarts_task_processing_duration_ms_max", "Maximum sampled task processing duration in milliseconds.", nil, nil)
	descProcessingAvgMS    = prometheus.NewDesc("echarts_task_processing_duration_ms_avg", "Mean sampled task processing duration in milliseconds.", nil, nil)
	descProcessingSamples  = prometheus.NewDesc("echarts_task_processing_samples", "Retained task processing duration samples.", nil, nil)

	descStartTime = prometheus.NewDesc("echarts_process_start_time_seconds", "Unix time the process started.", nil, nil)
	descPeakHeap  = prometheus.NewDesc("echarts_process_peak_heap_bytes", "Highest observed heap allocation.", nil, nil)
	descCPUTotal  = prometheus.NewDesc("echarts_process_cpu_seconds_total", "Cumulative process CPU time.", nil, nil)

	descInfo = prometheus.NewDesc("echarts_info", "Build information.", []string{"version", "goversion"}, nil)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(c, ch)
}

// Collect implements prometheus.Collector. All families carry the echarts_
// prefix; exposition observes one locked snapshot of the collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(descTasksCreated, snap.Tasks.Created)
	counter(descTasksCompleted, snap.Tasks.Completed)
	counter(descTasksFailed, snap.Tasks.Failed)
	counter(descTasksRetried, snap.Tasks.Retried)
	counter(descTasksTimeout, snap.Tasks.Timeout)

	gauge(descQueuePending, float64(snap.Queue.PendingTasks))
	gauge(descQueueProcessing, float64(snap.Queue.ProcessingTasks))
	gauge(descQueueMaxPending, float64(snap.Queue.MaxPendingTasks))
	gauge(descQueueMaxProcessing, float64(snap.Queue.MaxProcessingSeen))

	counter(descOSSUploads, snap.OSS.Uploads)
	counter(descOSSUploadFailures, snap.OSS.UploadFailures)
	counter(descOSSDeletes, snap.OSS.Deletes)
	counter(descOSSDeleteFailures, snap.OSS.DeleteFailures)

	counter(descHTTPRequests, snap.HTTP.Requests)
	counter(descHTTPResponses, snap.HTTP.Responses2xx, "2xx")
	counter(descHTTPResponses, snap.HTTP.Responses4xx, "4xx")
	counter(descHTTPResponses, snap.HTTP.Responses5xx, "5xx")

	gauge(descProcessingMS, snap.ProcessingTime.P50, "0.5")
	gauge(descProcessingMS, snap.ProcessingTime.P95, "0.95")
	gauge(descProcessingMS, snap.ProcessingTime.P99, "0.99")
	gauge(descProcessingMinMS, snap.ProcessingTime.Min)
	gauge(descProcessingMaxMS, snap.ProcessingTime.Max)
	gauge(descProcessingAvgMS, snap.ProcessingTime.Avg)
	gauge(descProcessingSamples, float64(snap.ProcessingTime.Count))

	gauge(descStartTime, float64(snap.System.StartTime.Unix()))
	gauge(descPeakHeap, float64(snap.System.PeakHeapBytes))
	ch <- prometheus.MustNewConstMetric(descCPUTotal, prometheus.CounterValue, snap.System.CPUSeconds)

	gauge(descInfo, 1, Version, runtime.Version())
}
