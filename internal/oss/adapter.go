package oss

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rambocode/echarts-server/internal/observability"
)

const (
	defaultMaxRetries = 3
	defaultRetryDelay = time.Second
)

// AdapterConfig controls retries and public URL construction.
type AdapterConfig struct {
	Bucket       string
	Region       string
	CustomDomain string
	PathPrefix   string
	MaxRetries   int
	RetryDelay   time.Duration
}

// Adapter shields callers from transient store failures: every operation is
// retried with linear backoff (retryDelay × attempt), and deletes of
// already-missing objects count as success.
type Adapter struct {
	client  Client
	cfg     AdapterConfig
	metrics *observability.Collector
	logger  *zap.Logger
	sleep   func(time.Duration)
}

// StoredObject is the result of a successful upload.
type StoredObject struct {
	URL      string
	FileName string
}

func NewAdapter(client Client, cfg AdapterConfig, metrics *observability.Collector, logger *zap.Logger) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	cfg.PathPrefix = normalizePrefix(cfg.PathPrefix)
	return &Adapter{
		client:  client,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// GenerateFileName yields "{taskId}_{millis}_{short-random}.{ext}", unique
// across calls, prefixed with the configured path.
func (a *Adapter) GenerateFileName(taskID, ext string) string {
	short := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s%s_%d_%s.%s", a.cfg.PathPrefix, taskID, time.Now().UnixMilli(), short, ext)
}

// PublicURL builds the externally reachable URL for a stored path.
func (a *Adapter) PublicURL(path string) string {
	if a.cfg.CustomDomain != "" {
		return fmt.Sprintf("https://%s/%s", a.cfg.CustomDomain, path)
	}
	return fmt.Sprintf("https://%s.%s.aliyuncs.com/%s", a.cfg.Bucket, a.cfg.Region, path)
}

// Upload stores the buffer under a freshly generated name and returns the
// public URL with the stored filename.
func (a *Adapter) Upload(ctx context.Context, taskID string, buf []byte, contentType, ext string) (*StoredObject, error) {
	fileName := a.GenerateFileName(taskID, ext)

	start := time.Now()
	err := a.withRetry(ctx, "upload", nil, func() error {
		return a.client.Upload(ctx, fileName, buf, contentType)
	})
	a.metrics.RecordUpload(len(buf), float64(time.Since(start).Microseconds())/1000.0, err)
	if err != nil {
		return nil, err
	}

	return &StoredObject{URL: a.PublicURL(fileName), FileName: fileName}, nil
}

// Delete removes a stored object. A missing object is success.
func (a *Adapter) Delete(ctx context.Context, fileName string) error {
	err := a.withRetry(ctx, "delete", isNotFound, func() error {
		return a.client.Delete(ctx, fileName)
	})
	a.metrics.RecordDelete(err)
	return err
}

// TestConnection probes the store with the same retry policy.
func (a *Adapter) TestConnection(ctx context.Context) error {
	return a.withRetry(ctx, "test connection", nil, func() error {
		return a.client.TestConnection(ctx)
	})
}

// withRetry runs fn up to MaxRetries times with linear backoff. A skip
// predicate turns a matching error into success without further attempts.
func (a *Adapter) withRetry(ctx context.Context, op string, skip func(error) bool, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= a.cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if skip != nil && skip(err) {
			return nil
		}
		lastErr = err
		a.logger.Warn("oss operation failed",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < a.cfg.MaxRetries {
			a.sleep(a.cfg.RetryDelay * time.Duration(attempt))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, a.cfg.MaxRetries, lastErr)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}

func normalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix
}
