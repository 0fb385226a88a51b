package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const chromemTracerName = "scribe.vectorstore.chromem"

// ChromemConfig configures the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps everything in memory.
	// A leading ~ expands to the home directory.
	Path string

	// Compress gzips persisted collections.
	Compress bool

	// VectorSize is the expected embedding dimension. Default 384.
	VectorSize int
}

// ChromemStore implements Store on chromem-go. Search is exact cosine
// similarity over the whole collection.
type ChromemStore struct {
	// mu keeps readers and writers out of the window in which
	// DeleteByFilterExcept has removed documents it is about to restore.
	mu sync.RWMutex

	db       *chromem.DB
	embedder Embedder
	config   ChromemConfig
	logger   *zap.Logger
}

// NewChromemStore opens (or creates) a chromem database.
func NewChromemStore(config ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.VectorSize == 0 {
		config.VectorSize = 384
	}
	if config.VectorSize < 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandHome(config.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding path: %w", err)
		}
		if err := os.MkdirAll(path, 0700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		config.Path = path
	}

	logger.Debug("chromem store opened",
		zap.String("path", config.Path),
		zap.Bool("compress", config.Compress),
		zap.Int("vector_size", config.VectorSize),
	)

	return &ChromemStore{db: db, embedder: embedder, config: config, logger: logger}, nil
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}

// embeddingFunc must always be passed to chromem; a nil func makes it fall
// back to its OpenAI default for persisted collections.
func (s *ChromemStore) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// AddDocuments embeds docs in one batch and upserts them.
func (s *ChromemStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.AddDocuments")
	defer span.End()
	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return nil, ErrEmptyDocuments
	}
	name, err := batchCollection(docs)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("collection", name))

	collection, err := s.db.GetOrCreateCollection(name, nil, s.embeddingFunc())
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}

	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Content
	}
	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if len(embeddings) != len(docs) {
		return nil, fmt.Errorf("%w: got %d vectors for %d documents", ErrEmbeddingFailed, len(embeddings), len(docs))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(docs))
	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  stringifyMetadata(doc.Metadata),
			Embedding: embeddings[i],
		}
	}

	// Embeddings are precomputed, so one worker is enough.
	if err := collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("adding documents: %w", err)
	}

	s.logger.Debug("added documents", zap.String("collection", name), zap.Int("count", len(docs)))
	return ids, nil
}

// SearchInCollection runs a filtered similarity query.
func (s *ChromemStore) SearchInCollection(ctx context.Context, collectionName, query string, k int, filters map[string]any) ([]SearchResult, error) {
	ctx, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.SearchInCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("k", k))

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return nil, ErrCollectionNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	// chromem rejects nResults above the document count.
	count := collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.Query(ctx, query, k, stringifyMetadata(filters), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", collectionName, err)
	}

	out := make([]SearchResult, len(results))
	for i, r := range results {
		out[i] = SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Score:    r.Similarity,
			Metadata: unstringifyMetadata(r.Metadata),
		}
	}
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// DeleteDocumentsFromCollection removes documents by ID.
func (s *ChromemStore) DeleteDocumentsFromCollection(ctx context.Context, collectionName string, ids []string) error {
	ctx, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.DeleteDocumentsFromCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return ErrCollectionNotFound
	}
	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting from %s: %w", collectionName, err)
	}
	return nil
}

// DeleteByFilter removes documents whose metadata matches all filters.
func (s *ChromemStore) DeleteByFilter(ctx context.Context, collectionName string, filters map[string]any) error {
	ctx, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if len(filters) == 0 {
		return ErrEmptyFilter
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return nil
	}
	if err := collection.Delete(ctx, stringifyMetadata(filters), nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting by filter from %s: %w", collectionName, err)
	}
	return nil
}

// DeleteByFilterExcept removes documents matching all filters unless their ID
// is in keep. chromem cannot combine a metadata filter with an ID exclusion,
// so kept documents are copied, the filter match is deleted and the copies
// are restored with their stored embeddings.
func (s *ChromemStore) DeleteByFilterExcept(ctx context.Context, collectionName string, filters map[string]any, keep []string) error {
	ctx, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.DeleteByFilterExcept")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("keep_count", len(keep)))

	if len(filters) == 0 {
		return ErrEmptyFilter
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	collection := s.db.GetCollection(collectionName, s.embeddingFunc())
	if collection == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]chromem.Document, 0, len(keep))
	for _, id := range keep {
		doc, err := collection.GetByID(ctx, id)
		if err != nil {
			// Not stored, nothing to restore.
			continue
		}
		kept = append(kept, doc)
	}

	if err := collection.Delete(ctx, stringifyMetadata(filters), nil); err != nil {
		span.RecordError(err)
		return fmt.Errorf("deleting by filter from %s: %w", collectionName, err)
	}
	if len(kept) == 0 {
		return nil
	}
	if err := collection.AddDocuments(ctx, kept, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("restoring kept documents in %s: %w", collectionName, err)
	}
	return nil
}

// CreateCollection creates an empty collection.
func (s *ChromemStore) CreateCollection(ctx context.Context, collectionName string, vectorSize int) error {
	_, span := otel.Tracer(chromemTracerName).Start(ctx, "ChromemStore.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = s.config.VectorSize
	}
	if vectorSize != s.config.VectorSize {
		return fmt.Errorf("%w: vector size %d does not match configured size %d", ErrInvalidConfig, vectorSize, s.config.VectorSize)
	}
	if s.db.GetCollection(collectionName, s.embeddingFunc()) != nil {
		return ErrCollectionExists
	}
	if _, err := s.db.CreateCollection(collectionName, nil, s.embeddingFunc()); err != nil {
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", collectionName, err)
	}
	s.logger.Info("created collection", zap.String("collection", collectionName))
	return nil
}

// CollectionExists reports whether the collection exists.
func (s *ChromemStore) CollectionExists(_ context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}
	return s.db.GetCollection(collectionName, s.embeddingFunc()) != nil, nil
}

// ListCollections returns collection names in sorted order.
func (s *ChromemStore) ListCollections(_ context.Context) ([]string, error) {
	collections := s.db.ListCollections()
	names := make([]string, 0, len(collections))
	for name := range collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error {
	return nil
}

var _ Store = (*ChromemStore)(nil)
