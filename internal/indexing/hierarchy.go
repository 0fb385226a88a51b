package indexing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/chunker"
	"github.com/fyrsmithlabs/scribe/internal/raptor"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// addBatchSize bounds the documents sent per AddDocuments call.
const addBatchSize = 100

// HierarchyReport describes a completed hierarchy build.
type HierarchyReport struct {
	DocumentID string
	Leaves     int
	Levels     int
	Summaries  int

	// Err is the level failure that cut the build short, if any. The
	// levels before it were still indexed.
	Err error
}

// Partial reports whether the build stopped early.
func (r *HierarchyReport) Partial() bool {
	return r.Err != nil
}

type leafSource struct {
	section *Section
	index   int
}

// BuildHierarchy replaces the document's hierarchy entries with a fresh
// summary tree over all of its sections. The new entries are upserted before
// stale ones are purged. A level failure is logged and
// recorded in the report; the levels built before it are still indexed.
func (ix *Indexer) BuildHierarchy(ctx context.Context, documentID string, sections []Section) (*HierarchyReport, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Indexer.BuildHierarchy")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID), attribute.Int("section_count", len(sections)))

	if strings.TrimSpace(documentID) == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidSection)
	}
	if ix.builder == nil {
		return nil, ErrNoBuilder
	}

	var (
		leaves  []string
		sources []leafSource
	)
	for i := range sections {
		section := &sections[i]
		if err := section.Validate(); err != nil {
			return nil, err
		}
		if section.DocumentID != documentID {
			return nil, fmt.Errorf("%w: section %s belongs to document %s", ErrInvalidSection, section.ID, section.DocumentID)
		}
		content, err := ix.scrub(ctx, section.Content)
		if err != nil {
			return nil, err
		}
		chunks, err := chunker.Split(content, ix.config.Hierarchy.Size, ix.config.Hierarchy.Overlap)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			leaves = append(leaves, c.Text)
			sources = append(sources, leafSource{section: section, index: c.Index})
		}
	}

	tree, buildErr := ix.builder.Build(ctx, leaves, ix.config.HierarchyLevels)
	if buildErr != nil && !errors.Is(buildErr, raptor.ErrLevelAborted) {
		return nil, fmt.Errorf("building hierarchy: %w", buildErr)
	}

	report := &HierarchyReport{
		DocumentID: documentID,
		Leaves:     len(leaves),
		Levels:     tree.Depth(),
		Err:        buildErr,
	}
	if buildErr != nil {
		ix.logger.Warn("hierarchy build stopped early, indexing completed levels",
			zap.String("document_id", documentID),
			zap.Int("levels", report.Levels),
			zap.Error(buildErr))
	}

	collection := ix.config.Collections.Hierarchy
	nodes := tree.Flatten()
	report.Summaries = len(nodes) - len(leaves)
	docs := make([]vectorstore.Document, 0, len(nodes))
	leaf := 0
	for _, node := range nodes {
		if node.Level == 0 {
			src := sources[leaf]
			leaf++
			doc := chunkDocument(collection, retrieval.NamespaceHierarchy, src.section, chunker.ChunkID(src.section.ID, src.index), node.Text)
			doc.Metadata["level"] = 0
			doc.Metadata["cluster"] = -1
			docs = append(docs, doc)
			continue
		}
		id := fmt.Sprintf("%s_level%d_summary%d", documentID, node.Level, node.Cluster)
		docs = append(docs, vectorstore.Document{
			ID:         id,
			Content:    node.Text,
			Collection: collection,
			Metadata: map[string]any{
				"id":          id,
				"namespace":   string(retrieval.NamespaceHierarchy),
				"document_id": documentID,
				"level":       node.Level,
				"cluster":     node.Cluster,
			},
		})
	}

	for start := 0; start < len(docs); start += addBatchSize {
		end := min(start+addBatchSize, len(docs))
		if _, err := ix.store.AddDocuments(ctx, docs[start:end]); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("indexing hierarchy: %w", err)
		}
	}

	// Only entries the new tree does not cover are purged. A failed upsert
	// above returns before this, keeping the previous hierarchy.
	ids := make([]string, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
	}
	if err := ix.store.DeleteByFilterExcept(ctx, collection, map[string]any{"document_id": documentID}, ids); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("purging stale hierarchy entries: %w", err)
	}

	span.SetAttributes(
		attribute.Int("leaves", report.Leaves),
		attribute.Int("levels", report.Levels),
		attribute.Int("summaries", report.Summaries),
	)
	ix.logger.Info("hierarchy built",
		zap.String("document_id", documentID),
		zap.Int("leaves", report.Leaves),
		zap.Int("levels", report.Levels),
		zap.Int("summaries", report.Summaries))
	return report, nil
}
