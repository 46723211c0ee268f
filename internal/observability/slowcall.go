package observability

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.uber.org/zap"

	"github.com/onehubexpress/search/internal/models"
)

// SlowCallDetector flags generative model calls that exceed the configured
// thresholds and records them in the analytics store.
type SlowCallDetector struct {
	warningThreshold  time.Duration
	criticalThreshold time.Duration
	logger            *zap.Logger
	analyticsWriter   AnalyticsWriter
}

type AnalyticsWriter interface {
	WriteQueryPerformance(ctx context.Context, event *models.AnalyticsEvent) error
}

func NewSlowCallDetector(warning, critical time.Duration, logger *zap.Logger, aw AnalyticsWriter) *SlowCallDetector {
	return &SlowCallDetector{
		warningThreshold:  warning,
		criticalThreshold: critical,
		logger:            logger,
		analyticsWriter:   aw,
	}
}

// Intercept is a no-op for calls at or under the warning threshold.
func (d *SlowCallDetector) Intercept(ctx context.Context, query, category, status string, duration time.Duration) {
	if d == nil || duration <= d.warningThreshold {
		return
	}

	traceID := TraceIDFromContext(ctx)
	severity := d.classifySeverity(duration)
	queryHash := hashQueryForLog(query)

	SlowModelCallCounter.WithLabelValues(severity, category).Inc()

	d.logger.Warn("slow model call detected",
		zap.String("trace_id", traceID),
		zap.String("query_hash", queryHash),
		zap.String("category", category),
		zap.String("status", status),
		zap.Float64("duration_ms", float64(duration.Milliseconds())),
		zap.String("severity", severity),
	)

	if d.analyticsWriter == nil {
		return
	}

	event := &models.AnalyticsEvent{
		EventType:  "model_call_performance",
		QueryHash:  queryHash,
		Category:   category,
		DurationMs: float64(duration.Milliseconds()),
		Status:     status,
		Timestamp:  time.Now().UTC(),
		TraceID:    traceID,
		Source:     severity,
	}
	go func() {
		writeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.analyticsWriter.WriteQueryPerformance(writeCtx, event); err != nil {
			d.logger.Error("failed to write model call analytics",
				zap.String("trace_id", traceID),
				zap.Error(err),
			)
		}
	}()
}

func (d *SlowCallDetector) classifySeverity(dur time.Duration) string {
	if dur > d.criticalThreshold {
		return "critical"
	}
	if dur > d.warningThreshold {
		return "warning"
	}
	return "normal"
}

// HashQuery returns a stable 16-hex-digit digest used in logs and analytics
// instead of the raw query text.
func HashQuery(q string) string {
	return hashQueryForLog(q)
}

func hashQueryForLog(q string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(q))
	return fmt.Sprintf("%016x", h.Sum64())
}
