// Package telemetry sets up OpenTelemetry tracing and metrics for scribe.
//
// Telemetry is disabled by default. When enabled it installs global
// TracerProvider and MeterProvider instances that export over OTLP (gRPC by
// default, or http/protobuf), so packages can use otel.Tracer and otel.Meter
// directly:
//
//	tel, err := telemetry.New(ctx, cfg, logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(ctx)
//
// Exporter failures never stop the process. The instance is marked degraded
// and falls back to the global no-op providers.
//
// Tests use NewTestTelemetry, which records spans in memory and collects
// metrics on demand.
package telemetry
