package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/indexing"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// SectionSaver indexes a section.
type SectionSaver interface {
	SaveSection(ctx context.Context, section *indexing.Section) error
}

// Worker indexes saved sections received over NATS.
type Worker struct {
	nc      *nats.Conn
	saver   SectionSaver
	config  Config
	logger  *zap.Logger
	metrics *Metrics

	mu  sync.Mutex
	sub *nats.Subscription
	ctx context.Context
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithMetrics records handled events in m.
func WithMetrics(m *Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// NewWorker creates a Worker.
func NewWorker(nc *nats.Conn, saver SectionSaver, cfg Config, logger *zap.Logger, opts ...WorkerOption) (*Worker, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if saver == nil {
		return nil, errors.New("section saver cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{nc: nc, saver: saver, config: cfg.withDefaults(), logger: logger}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start joins the queue group. Each message is handled under a context
// derived from ctx that keeps its values but not its cancellation, bounded
// by HandleTimeout, so events delivered before Stop still complete.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.sub != nil {
		return errors.New("worker already started")
	}
	w.ctx = context.WithoutCancel(ctx)
	sub, err := w.nc.QueueSubscribe(w.config.SavedSubject, w.config.Queue, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.config.SavedSubject, err)
	}
	// Flush so the subscription is registered before Start returns.
	if err := w.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("flush subscription: %w", err)
	}
	w.sub = sub
	w.logger.Info("indexing worker started",
		zap.String("subject", w.config.SavedSubject),
		zap.String("queue", w.config.Queue))
	return nil
}

// Stop drains the subscription and waits, up to DrainTimeout, for the
// messages already delivered to be handled.
func (w *Worker) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.sub = nil
	w.mu.Unlock()
	if sub == nil {
		return nil
	}

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain subscription: %w", err)
	}
	if err := waitDrained(sub, w.config.DrainTimeout); err != nil {
		w.logger.Warn("indexing worker stopped before drain finished", zap.Error(err))
		return err
	}
	w.logger.Info("indexing worker stopped")
	return nil
}

// waitDrained polls until the drained subscription is closed.
func waitDrained(sub *nats.Subscription, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for sub.IsValid() {
		select {
		case <-deadline.C:
			return fmt.Errorf("drain did not finish within %s", timeout)
		case <-ticker.C:
		}
	}
	return nil
}

// Run starts the worker and blocks until ctx is done and the subscription
// has drained.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return w.Stop()
}

func (w *Worker) handle(msg *nats.Msg) {
	w.mu.Lock()
	parent := w.ctx
	w.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, w.config.HandleTimeout)
	defer cancel()
	ctx, span := otel.Tracer(tracerName).Start(extractTrace(ctx, msg), "Worker.handle")
	defer span.End()
	start := time.Now()

	var event SectionSaved
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		w.logger.Warn("dropping malformed section event", zap.String("subject", msg.Subject), zap.Error(err))
		span.SetStatus(codes.Error, "malformed payload")
		w.metrics.observe(outcomeMalformed, 0)
		return
	}
	section := &event.Section
	if err := section.Validate(); err != nil {
		w.logger.Warn("dropping malformed section event", zap.String("subject", msg.Subject), zap.Error(err))
		span.SetStatus(codes.Error, "invalid section")
		w.metrics.observe(outcomeMalformed, 0)
		return
	}
	span.SetAttributes(attribute.String("section_id", section.ID))

	result := SectionIndexed{SectionID: section.ID, DocumentID: section.DocumentID}
	if err := w.saver.SaveSection(ctx, section); err != nil {
		span.RecordError(err)
		w.logger.Error("indexing section failed",
			zap.String("section_id", section.ID),
			zap.String("document_id", section.DocumentID),
			zap.Error(err))
		result.Error = err.Error()
		w.metrics.observe(outcomeFailed, time.Since(start))
	} else {
		w.logger.Debug("indexed section", zap.String("section_id", section.ID))
		w.metrics.observe(outcomeIndexed, time.Since(start))
	}
	result.NumWords = section.NumWords
	result.Summary = section.Summary
	result.SummaryHash = section.SummaryHash
	result.IndexedAt = time.Now().UTC()

	w.publishIndexed(ctx, result)
}

func (w *Worker) publishIndexed(ctx context.Context, result SectionIndexed) {
	data, err := json.Marshal(result)
	if err != nil {
		w.logger.Error("marshal indexed event", zap.Error(err))
		return
	}
	out := nats.NewMsg(w.config.IndexedSubject)
	out.Data = data
	injectTrace(ctx, out)
	if err := w.nc.PublishMsg(out); err != nil {
		w.logger.Warn("publish indexed event failed", zap.String("section_id", result.SectionID), zap.Error(err))
	}
}
