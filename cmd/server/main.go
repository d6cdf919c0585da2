package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/api/httpapi"
	"github.com/rambocode/echarts-server/internal/cleanup"
	"github.com/rambocode/echarts-server/internal/config"
	"github.com/rambocode/echarts-server/internal/logging"
	"github.com/rambocode/echarts-server/internal/observability"
	"github.com/rambocode/echarts-server/internal/oss"
	"github.com/rambocode/echarts-server/internal/render"
	"github.com/rambocode/echarts-server/internal/task"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		panic(err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Development: cfg.Development()})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.OTelConfig{
		ServiceName: firstNonEmpty(cfg.OTELServiceName, "echarts-server"),
		Endpoint:    cfg.OTELExporterOTLPEndpoint,
		Env:         cfg.Env,
	})
	if err != nil {
		logger.Fatal("otel init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	collector := observability.NewCollector()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collector)

	// Object store is optional; without credentials completed charts carry
	// inline data URLs.
	var store task.ObjectStore
	if cfg.OSS.Configured() {
		client, err := oss.NewAliyunClient(oss.AliyunConfig{
			AccessKeyID:     cfg.OSS.AccessKeyID,
			AccessKeySecret: cfg.OSS.AccessKeySecret,
			Bucket:          cfg.OSS.Bucket,
			Region:          cfg.OSS.Region,
		})
		if err != nil {
			logger.Fatal("oss client init failed", zap.Error(err))
		}
		adapter := oss.NewAdapter(client, oss.AdapterConfig{
			Bucket:       cfg.OSS.Bucket,
			Region:       cfg.OSS.Region,
			CustomDomain: cfg.OSS.CustomDomain,
			PathPrefix:   cfg.OSS.PathPrefix,
		}, collector, logger)

		probeCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := adapter.TestConnection(probeCtx); err != nil {
			logger.Warn("oss connectivity probe failed; uploads will retry", zap.Error(err))
		}
		cancel()

		store = adapter
	} else {
		logger.Info("object store not configured; using inline data URLs")
	}

	manager := task.NewManager(task.ManagerConfig{
		Queue: task.QueueConfig{
			MaxConcurrent: cfg.QueueMaxConcurrent,
			TaskTimeout:   cfg.QueueTaskTimeout,
			RetryAttempts: cfg.QueueRetryAttempts,
		},
		TaskRetentionDays: cfg.TaskRetentionDays,
		CleanupInterval:   cfg.CleanupInterval(),
	}, render.NewChartRenderer(), store, collector, logger)
	defer manager.Destroy()

	scheduler := cleanup.NewScheduler(cleanup.Options{
		CleanupHour:       cfg.CleanupHour,
		TaskRetentionDays: cfg.TaskRetentionDays,
	}, manager, logger)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("cleanup scheduler start failed", zap.Error(err))
	}
	defer scheduler.Stop()

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	server := httpapi.NewServer(httpapi.Config{Port: cfg.Port}, logger, manager, scheduler, collector, metricsHandler)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil && err.Error() != "http: Server closed" {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
