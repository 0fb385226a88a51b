// Package events carries section saves over NATS so indexing can run in
// workers apart from the editor.
//
// Publishers send the saved section on the saved subject. Workers share a
// queue group, so each save is indexed once, and report every outcome on the
// indexed subject. Trace context travels in message headers.
package events

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/indexing"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

const tracerName = "scribe.events"

// Defaults.
const (
	DefaultURL            = "nats://localhost:4222"
	DefaultSavedSubject   = "scribe.sections.saved"
	DefaultIndexedSubject = "scribe.sections.indexed"
	DefaultQueue          = "scribe-indexers"
	DefaultHandleTimeout  = 2 * time.Minute
	DefaultDrainTimeout   = 30 * time.Second
)

// Config names the subjects and queue group.
type Config struct {
	SavedSubject   string
	IndexedSubject string
	Queue          string

	// HandleTimeout bounds indexing of a single event.
	HandleTimeout time.Duration

	// DrainTimeout bounds how long Stop waits for delivered events.
	DrainTimeout time.Duration
}

// DefaultConfig returns the default subjects and queue group.
func DefaultConfig() Config {
	return Config{
		SavedSubject:   DefaultSavedSubject,
		IndexedSubject: DefaultIndexedSubject,
		Queue:          DefaultQueue,
		HandleTimeout:  DefaultHandleTimeout,
		DrainTimeout:   DefaultDrainTimeout,
	}
}

// ConfigFromSettings maps the events section of the config file.
func ConfigFromSettings(cfg config.EventsConfig) Config {
	return Config{
		SavedSubject:   cfg.SavedSubject,
		IndexedSubject: cfg.IndexedSubject,
		Queue:          cfg.Queue,
		HandleTimeout:  cfg.HandleTimeout.Duration(),
		DrainTimeout:   cfg.DrainTimeout.Duration(),
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SavedSubject == "" {
		c.SavedSubject = def.SavedSubject
	}
	if c.IndexedSubject == "" {
		c.IndexedSubject = def.IndexedSubject
	}
	if c.Queue == "" {
		c.Queue = def.Queue
	}
	if c.HandleTimeout <= 0 {
		c.HandleTimeout = def.HandleTimeout
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = def.DrainTimeout
	}
	return c
}

// SectionSaved is the payload of the saved subject.
type SectionSaved struct {
	Section indexing.Section `json:"section"`
	SavedAt time.Time        `json:"saved_at"`
}

// SectionIndexed is the payload of the indexed subject.
type SectionIndexed struct {
	SectionID   string    `json:"section_id"`
	DocumentID  string    `json:"document_id"`
	NumWords    int       `json:"num_words"`
	Summary     string    `json:"summary,omitempty"`
	SummaryHash string    `json:"summary_hash,omitempty"`
	Error       string    `json:"error,omitempty"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// OK reports whether indexing succeeded.
func (e SectionIndexed) OK() bool {
	return e.Error == ""
}

// Connect dials NATS with reconnects enabled.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	if url == "" {
		url = DefaultURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("scribe"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from NATS", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return nc, nil
}

func injectTrace(ctx context.Context, msg *nats.Msg) {
	if msg.Header == nil {
		msg.Header = nats.Header{}
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
}

func extractTrace(ctx context.Context, msg *nats.Msg) context.Context {
	if msg.Header == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))
}
