// Package indexing keeps the vector index in step with document sections.
//
// SaveSection replaces a section's passages and summary entries whenever it
// is saved. New entries are written before stale ones are removed, so a
// failed save leaves the previous index intact. BuildHierarchy rebuilds a document's hierarchical summary index
// offline.
package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/scribe/internal/chunker"
	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/llm"
	"github.com/fyrsmithlabs/scribe/internal/raptor"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "scribe.indexing"

var (
	// ErrInvalidSection is returned for sections missing an id or document id.
	ErrInvalidSection = errors.New("invalid section")

	// ErrInvalidConfig indicates invalid indexer configuration.
	ErrInvalidConfig = errors.New("invalid indexing configuration")

	// ErrNoBuilder is returned by BuildHierarchy when no builder is configured.
	ErrNoBuilder = errors.New("hierarchy builder not configured")
)

const summaryPrompt = "Summarize the following section of a document in four sentences:\n\n%s"

// Split is a chunk size and overlap in runes.
type Split struct {
	Size    int
	Overlap int
}

// Config configures an Indexer.
type Config struct {
	Collections retrieval.Collections

	General   Split
	Summary   Split
	Hierarchy Split

	// SummaryWordThreshold is the word count above which sections are
	// summarized. Default 100.
	SummaryWordThreshold int

	// HierarchyLevels is the maximum number of summary levels. Default 3.
	HierarchyLevels int
}

// DefaultConfig returns the default indexing settings.
func DefaultConfig() Config {
	return Config{
		Collections: retrieval.Collections{
			General:   "scribe_general",
			Summary:   "scribe_summary",
			Hierarchy: "scribe_hierarchy",
		},
		General:              Split{chunker.DefaultSize, chunker.DefaultOverlap},
		Summary:              Split{chunker.SummarySize, chunker.SummaryOverlap},
		Hierarchy:            Split{chunker.HierarchySize, chunker.HierarchyOverlap},
		SummaryWordThreshold: 100,
		HierarchyLevels:      3,
	}
}

// ConfigFromSettings maps the loaded configuration.
func ConfigFromSettings(cfg *config.Config) Config {
	return Config{
		Collections: retrieval.Collections{
			General:   cfg.VectorStore.Collections.General,
			Summary:   cfg.VectorStore.Collections.Summary,
			Hierarchy: cfg.VectorStore.Collections.Hierarchy,
		},
		General:              Split{cfg.Chunking.General.Size, cfg.Chunking.General.Overlap},
		Summary:              Split{cfg.Chunking.Summary.Size, cfg.Chunking.Summary.Overlap},
		Hierarchy:            Split{cfg.Chunking.Hierarchy.Size, cfg.Chunking.Hierarchy.Overlap},
		SummaryWordThreshold: cfg.Indexing.SummaryWordThreshold,
		HierarchyLevels:      cfg.Indexing.HierarchyLevels,
	}
}

func (c *Config) validate() error {
	for _, name := range []string{c.Collections.General, c.Collections.Summary, c.Collections.Hierarchy} {
		if err := vectorstore.ValidateCollectionName(name); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	for _, s := range []Split{c.General, c.Summary, c.Hierarchy} {
		if s.Size <= 0 || s.Overlap < 0 || s.Overlap >= s.Size {
			return fmt.Errorf("%w: chunk size %d with overlap %d", ErrInvalidConfig, s.Size, s.Overlap)
		}
	}
	if c.SummaryWordThreshold < 0 {
		return fmt.Errorf("%w: summary word threshold must be non-negative", ErrInvalidConfig)
	}
	if c.HierarchyLevels < 1 {
		return fmt.Errorf("%w: hierarchy levels must be at least 1", ErrInvalidConfig)
	}
	return nil
}

// Indexer writes sections into the vector index.
type Indexer struct {
	store     vectorstore.Store
	completer llm.Completer
	builder   *raptor.Builder
	scrubber  Scrubber
	config    Config
	logger    *zap.Logger
}

// Scrubber removes sensitive content from text before it is indexed.
type Scrubber interface {
	Scrub(ctx context.Context, text string) (string, error)
}

// Option configures an Indexer.
type Option func(*Indexer)

// WithScrubber scrubs section content before it is chunked, embedded or
// summarized. The caller's section keeps its original content.
func WithScrubber(s Scrubber) Option {
	return func(ix *Indexer) {
		ix.scrubber = s
	}
}

// NewIndexer creates an Indexer. builder may be nil when hierarchy builds
// are not needed.
func NewIndexer(store vectorstore.Store, completer llm.Completer, builder *raptor.Builder, cfg Config, logger *zap.Logger, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: vector store is required", ErrInvalidConfig)
	}
	if completer == nil {
		return nil, fmt.Errorf("%w: completer is required", ErrInvalidConfig)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ix := &Indexer{store: store, completer: completer, builder: builder, config: cfg, logger: logger}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

func (ix *Indexer) scrub(ctx context.Context, text string) (string, error) {
	if ix.scrubber == nil {
		return text, nil
	}
	scrubbed, err := ix.scrubber.Scrub(ctx, text)
	if err != nil {
		return "", fmt.Errorf("scrubbing content: %w", err)
	}
	return scrubbed, nil
}

// SaveSection derives the section's counts, replaces its passage entries
// and keeps its summary entries current. Long sections get a summary, which
// is reused while the content is unchanged; short sections lose theirs.
// section is updated in place.
func (ix *Indexer) SaveSection(ctx context.Context, section *Section) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Indexer.SaveSection")
	defer span.End()

	if err := section.Validate(); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("section_id", section.ID),
		attribute.String("document_id", section.DocumentID),
	)

	section.Derive()

	content, err := ix.scrub(ctx, section.Content)
	if err != nil {
		span.RecordError(err)
		return err
	}

	passages, err := ix.replaceChunks(ctx, ix.config.Collections.General, retrieval.NamespaceGeneral, section, content, ix.config.General)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "indexing passages failed")
		return fmt.Errorf("indexing passages: %w", err)
	}

	if section.NumWords <= ix.config.SummaryWordThreshold {
		section.Summary = ""
		section.SummaryHash = ""
		if err := ix.store.DeleteByFilter(ctx, ix.config.Collections.Summary, sectionFilter(section)); err != nil {
			span.RecordError(err)
			return fmt.Errorf("clearing summary: %w", err)
		}
		ix.logger.Debug("section saved",
			zap.String("section_id", section.ID),
			zap.Int("passages", passages),
			zap.Int("num_words", section.NumWords))
		return nil
	}

	if section.summaryCurrent() {
		ix.logger.Debug("reusing section summary", zap.String("section_id", section.ID))
	} else {
		summary, err := ix.completer.Complete(ctx, fmt.Sprintf(summaryPrompt, content), 0)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "summary failed")
			return fmt.Errorf("summarizing section: %w", err)
		}
		section.Summary = summary
		section.SummaryHash = ContentHash(section.Content)
	}

	summaries, err := ix.replaceChunks(ctx, ix.config.Collections.Summary, retrieval.NamespaceSummary, section, section.Summary, ix.config.Summary)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("indexing summary: %w", err)
	}

	span.SetAttributes(attribute.Int("passages", passages), attribute.Int("summary_chunks", summaries))
	ix.logger.Info("section saved",
		zap.String("section_id", section.ID),
		zap.String("document_id", section.DocumentID),
		zap.Int("passages", passages),
		zap.Int("summary_chunks", summaries),
		zap.Int("num_words", section.NumWords))
	return nil
}

// replaceChunks upserts text's chunks for the section, then deletes the
// section's entries the new chunks no longer cover. A failed upsert leaves
// the previous entries in place. It returns the number of chunks written.
func (ix *Indexer) replaceChunks(ctx context.Context, collection string, ns retrieval.Namespace, section *Section, text string, split Split) (int, error) {
	chunks, err := chunker.Split(text, split.Size, split.Overlap)
	if err != nil {
		return 0, err
	}

	docs := make([]vectorstore.Document, len(chunks))
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = chunker.ChunkID(section.ID, c.Index)
		docs[i] = chunkDocument(collection, ns, section, ids[i], c.Text)
	}
	if len(docs) > 0 {
		if _, err := ix.store.AddDocuments(ctx, docs); err != nil {
			return 0, err
		}
	}
	if err := ix.store.DeleteByFilterExcept(ctx, collection, sectionFilter(section), ids); err != nil {
		return len(docs), fmt.Errorf("deleting stale chunks: %w", err)
	}
	return len(docs), nil
}

func sectionFilter(section *Section) map[string]any {
	return map[string]any{
		"document_id": section.DocumentID,
		"section_id":  section.ID,
	}
}

func chunkDocument(collection string, ns retrieval.Namespace, section *Section, id, text string) vectorstore.Document {
	return vectorstore.Document{
		ID:         id,
		Content:    text,
		Collection: collection,
		Metadata: map[string]any{
			"id":               id,
			"namespace":        string(ns),
			"section_id":       section.ID,
			"document_id":      section.DocumentID,
			"section_metadata": section.metadataJSON(),
			"title":            section.Title,
		},
	}
}
