package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/indexing"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Publisher announces saved sections.
type Publisher struct {
	nc     *nats.Conn
	config Config
	logger *zap.Logger
}

// NewPublisher creates a Publisher on an open connection.
func NewPublisher(nc *nats.Conn, cfg Config, logger *zap.Logger) (*Publisher, error) {
	if nc == nil {
		return nil, errors.New("nats connection cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{nc: nc, config: cfg.withDefaults(), logger: logger}, nil
}

// PublishSectionSaved publishes section on the saved subject.
func (p *Publisher) PublishSectionSaved(ctx context.Context, section *indexing.Section) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Publisher.PublishSectionSaved")
	defer span.End()

	if err := section.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	span.SetAttributes(attribute.String("section_id", section.ID), attribute.String("subject", p.config.SavedSubject))

	data, err := json.Marshal(SectionSaved{Section: *section, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal section: %w", err)
	}
	msg := nats.NewMsg(p.config.SavedSubject)
	msg.Data = data
	injectTrace(ctx, msg)

	if err := p.nc.PublishMsg(msg); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish section saved: %w", err)
	}
	p.logger.Debug("published section save",
		zap.String("section_id", section.ID),
		zap.String("subject", p.config.SavedSubject))
	return nil
}
