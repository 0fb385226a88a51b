// Package memory is the long-term memory bridge: an append-only store of
// conversation facts keyed by subject and conversation, recalled by
// semantic similarity.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "scribe.memory"

// DefaultRecallK is the number of memories recalled when k <= 0.
const DefaultRecallK = 3

// Metadata keys. Memories reuse document_id for the subject so the same
// filters work across every collection.
const (
	keySubject      = "document_id"
	keyConversation = "thread_id"
	keyCreatedAt    = "created_at"
)

// ErrInvalidRequest is returned for blank text, queries or keys.
var ErrInvalidRequest = errors.New("invalid memory request")

// Record is a stored memory.
type Record struct {
	ID             string
	Text           string
	SubjectID      string
	ConversationID string
	CreatedAt      time.Time

	// Score is the similarity on recall, zero otherwise.
	Score float32
}

// Config configures a Service.
type Config struct {
	Collection string
	RecallK    int
}

// ConfigFromSettings maps the loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Collection: cfg.VectorStore.Collections.Memory,
		RecallK:    cfg.Memory.RecallK,
	}
}

// Service stores and recalls memories.
type Service struct {
	store      vectorstore.Store
	collection string
	recallK    int
	scrubber   Scrubber
	logger     *zap.Logger
	now        func() time.Time
}

// Scrubber removes sensitive content from text before it is stored.
type Scrubber interface {
	Scrub(ctx context.Context, text string) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithScrubber scrubs memory text before it is stored.
func WithScrubber(sc Scrubber) Option {
	return func(s *Service) {
		s.scrubber = sc
	}
}

// NewService creates a memory service over store.
func NewService(store vectorstore.Store, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("vector store cannot be nil")
	}
	if err := vectorstore.ValidateCollectionName(cfg.Collection); err != nil {
		return nil, err
	}
	if cfg.RecallK <= 0 {
		cfg.RecallK = DefaultRecallK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:      store,
		collection: cfg.Collection,
		recallK:    cfg.RecallK,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func validateKeys(subjectID, conversationID string) error {
	if strings.TrimSpace(subjectID) == "" {
		return fmt.Errorf("%w: subject id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("%w: conversation id is required", ErrInvalidRequest)
	}
	return nil
}

// Store appends a memory and returns its id. Identical texts are stored
// again; memories are never deduplicated or updated.
func (s *Service) Store(ctx context.Context, text, subjectID, conversationID string) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Service.Store")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	if err := validateKeys(subjectID, conversationID); err != nil {
		return "", err
	}

	if s.scrubber != nil {
		scrubbed, err := s.scrubber.Scrub(ctx, text)
		if err != nil {
			return "", fmt.Errorf("scrubbing memory: %w", err)
		}
		text = scrubbed
	}

	if err := s.ensureCollection(ctx); err != nil {
		return "", err
	}

	id := uuid.New().String()
	doc := vectorstore.Document{
		ID:         id,
		Content:    text,
		Collection: s.collection,
		Metadata: map[string]any{
			"id":            id,
			"namespace":     "memory",
			keySubject:      subjectID,
			keyConversation: conversationID,
			keyCreatedAt:    s.now().UTC().Format(time.RFC3339),
		},
	}
	if _, err := s.store.AddDocuments(ctx, []vectorstore.Document{doc}); err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("storing memory: %w", err)
	}

	span.SetAttributes(attribute.String("memory_id", id))
	s.logger.Info("memory stored",
		zap.String("id", id),
		zap.String("subject_id", subjectID),
		zap.String("conversation_id", conversationID))
	return id, nil
}

func (s *Service) ensureCollection(ctx context.Context) error {
	exists, err := s.store.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.store.CreateCollection(ctx, s.collection, 0); err != nil && !errors.Is(err, vectorstore.ErrCollectionExists) {
		return fmt.Errorf("creating collection: %w", err)
	}
	s.logger.Info("created memory collection", zap.String("collection", s.collection))
	return nil
}

// Recall returns up to k memories of the subject and conversation most
// similar to query. k <= 0 means the configured default. No matches, or no
// memories stored yet, yield an empty slice.
func (s *Service) Recall(ctx context.Context, query, subjectID, conversationID string, k int) ([]Record, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Service.Recall")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if err := validateKeys(subjectID, conversationID); err != nil {
		return nil, err
	}
	if k <= 0 {
		k = s.recallK
	}
	span.SetAttributes(attribute.Int("k", k))

	filters := map[string]any{
		keySubject:      subjectID,
		keyConversation: conversationID,
	}
	results, err := s.store.SearchInCollection(ctx, s.collection, query, k, filters)
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		s.logger.Debug("memory collection does not exist", zap.String("collection", s.collection))
		return []Record{}, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("searching memories: %w", err)
	}

	records := make([]Record, 0, len(results))
	for _, r := range results {
		records = append(records, resultToRecord(r))
	}
	span.SetAttributes(attribute.Int("results_count", len(records)))
	s.logger.Debug("memories recalled",
		zap.String("subject_id", subjectID),
		zap.String("conversation_id", conversationID),
		zap.Int("count", len(records)))
	return records, nil
}

// RecallTexts is Recall returning only the memory texts.
func (s *Service) RecallTexts(ctx context.Context, query, subjectID, conversationID string, k int) ([]string, error) {
	records, err := s.Recall(ctx, query, subjectID, conversationID, k)
	if err != nil {
		return nil, err
	}
	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	return texts, nil
}

func resultToRecord(r vectorstore.SearchResult) Record {
	rec := Record{
		ID:             r.ID,
		Text:           r.Content,
		SubjectID:      metadataString(r.Metadata, keySubject),
		ConversationID: metadataString(r.Metadata, keyConversation),
		Score:          r.Score,
	}
	if ts := metadataString(r.Metadata, keyCreatedAt); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			rec.CreatedAt = parsed
		}
	}
	return rec
}

func metadataString(metadata map[string]any, key string) string {
	if v, ok := metadata[key].(string); ok {
		return v
	}
	return ""
}
