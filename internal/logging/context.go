package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type documentCtxKey struct{}
type sectionCtxKey struct{}
type threadCtxKey struct{}
type loggerCtxKey struct{}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}
	if id := DocumentIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("document.id", id))
	}
	if id := SectionIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("section.id", id))
	}
	if id := ThreadIDFromContext(ctx); id != "" {
		fields = append(fields, zap.String("thread.id", id))
	}
	return fields
}

// WithDocumentID attaches a document id. Empty ids leave ctx unchanged.
func WithDocumentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, documentCtxKey{}, id)
}

// DocumentIDFromContext returns the document id, or "".
func DocumentIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(documentCtxKey{}).(string)
	return id
}

// WithSectionID attaches a section id. Empty ids leave ctx unchanged.
func WithSectionID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, sectionCtxKey{}, id)
}

// SectionIDFromContext returns the section id, or "".
func SectionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sectionCtxKey{}).(string)
	return id
}

// WithThreadID attaches a conversation thread id. Empty ids leave ctx unchanged.
func WithThreadID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, threadCtxKey{}, id)
}

// ThreadIDFromContext returns the thread id, or "".
func ThreadIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(threadCtxKey{}).(string)
	return id
}

// WithLogger stores logger in ctx.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or a no-op logger.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
