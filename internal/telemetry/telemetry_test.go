package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("scribe.test"))
	assert.NotNil(t, tel.Meter("scribe.test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_EnabledGRPC(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// OTLP exporters connect lazily, so an unreachable collector still starts.
	tel, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.False(t, tel.Degraded())

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShutdown()
	_ = tel.Shutdown(shutdownCtx)
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Degraded())
}

func TestNewSampler(t *testing.T) {
	params := sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "root",
	}
	assert.Equal(t, sdktrace.RecordAndSample, newSampler(1).ShouldSample(params).Decision)
	assert.Equal(t, sdktrace.Drop, newSampler(0).ShouldSample(params).Decision)
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	tt.Install(t)
	ctx := context.Background()

	_, span := otel.Tracer("scribe.test").Start(ctx, "retrieval.Retrieve")
	span.SetAttributes(attribute.String("scope", "global"), attribute.Int("queries", 3))
	span.End()

	tt.AssertSpanExists(t, "retrieval.Retrieve")
	tt.AssertSpanAttribute(t, "retrieval.Retrieve", "scope", "global")
	tt.AssertSpanAttribute(t, "retrieval.Retrieve", "queries", int64(3))

	counter, err := otel.Meter("scribe.test").Int64Counter("scribe.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	names, err := tt.MetricNames(ctx)
	require.NoError(t, err)
	assert.Contains(t, names, "scribe.test.count")
}
