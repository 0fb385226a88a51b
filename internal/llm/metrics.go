package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/scribe/internal/llm"

type metrics struct {
	duration metric.Float64Histogram
	errors   metric.Int64Counter
}

func newMetrics(logger *zap.Logger) *metrics {
	meter := otel.Meter(instrumentationName)
	m := &metrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"scribe.llm.completion_duration_seconds",
		metric.WithDescription("Duration of completions including retries"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120),
	)
	if err != nil {
		logger.Warn("failed to create completion duration histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"scribe.llm.errors_total",
		metric.WithDescription("Completions that failed after all retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn("failed to create completion error counter", zap.Error(err))
	}
	return m
}

func (m *metrics) record(ctx context.Context, model string, d time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("model", model))
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}
