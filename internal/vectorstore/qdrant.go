package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const qdrantTracerName = "scribe.vectorstore.qdrant"

// Payload keys reserved by QdrantStore.
const (
	payloadContent = "content"
	payloadID      = "id"
)

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host string
	Port int // gRPC port, 6334 by default (not the 6333 REST port)

	APIKey string
	UseTLS bool

	// VectorSize is the dimension used when collections are auto-created.
	VectorSize int
	Distance   qdrant.Distance

	// MaxRetries and RetryBackoff drive exponential backoff on transient
	// gRPC failures.
	MaxRetries   int
	RetryBackoff time.Duration

	// MaxMessageSize bounds gRPC messages in both directions.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.Distance == 0 {
		c.Distance = qdrant.Distance_Cosine
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func isNotFound(err error) bool {
	st, ok := status.FromError(err)
	return ok && st.Code() == grpccodes.NotFound
}

// QdrantStore implements Store on Qdrant's native gRPC client.
//
// Chunk IDs such as "sec1_chunk0" are not valid Qdrant point IDs, so each
// point gets a name-based UUID derived from the chunk ID. Upserting the same
// chunk ID therefore replaces the previous point. The original ID is kept in
// the payload.
type QdrantStore struct {
	client   *qdrant.Client
	embedder Embedder
	config   QdrantConfig
	logger   *zap.Logger

	// known caches collections seen to exist.
	known sync.Map
}

// NewQdrantStore connects to Qdrant and runs a health check.
func NewQdrantStore(config QdrantConfig, embedder Embedder, logger *zap.Logger) (*QdrantStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", config.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, embedder: embedder, config: config, logger: logger}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}
	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// withRetry runs op, retrying transient gRPC failures with exponential backoff.
func (s *QdrantStore) withRetry(ctx context.Context, name string, op func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.config.MaxRetries), retry.NewExponential(s.config.RetryBackoff))
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := op(ctx)
		if err != nil && IsTransientError(err) {
			s.logger.Debug("qdrant call failed, retrying",
				zap.String("operation", name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// pointID maps a chunk ID to a stable Qdrant UUID point ID.
func pointID(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(id)).String())
}

// buildPayload stores content, id and metadata as string values so keyword
// filters behave the same as in ChromemStore.
func buildPayload(doc Document) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(doc.Metadata)+2)
	for k, v := range doc.Metadata {
		payload[k] = qdrant.NewValueString(stringifyValue(v))
	}
	payload[payloadContent] = qdrant.NewValueString(doc.Content)
	payload[payloadID] = qdrant.NewValueString(doc.ID)
	return payload
}

// buildFilter turns exact-match filters into a Must filter. Keys are sorted so
// the request is deterministic.
func buildFilter(filters map[string]any) *qdrant.Filter {
	if len(filters) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conditions := make([]*qdrant.Condition, 0, len(keys))
	for _, k := range keys {
		conditions = append(conditions, &qdrant.Condition{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: k,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{Keyword: stringifyValue(filters[k])},
					},
				},
			},
		})
	}
	return &qdrant.Filter{Must: conditions}
}

// buildExceptFilter adds a MustNot condition excluding the keep IDs.
func buildExceptFilter(filters map[string]any, keep []string) *qdrant.Filter {
	filter := buildFilter(filters)
	if filter == nil || len(keep) == 0 {
		return filter
	}
	pointIDs := make([]*qdrant.PointId, len(keep))
	for i, id := range keep {
		pointIDs[i] = pointID(id)
	}
	filter.MustNot = []*qdrant.Condition{qdrant.NewHasID(pointIDs...)}
	return filter
}

// resultFromPoint converts a scored point back into a SearchResult.
func resultFromPoint(point *qdrant.ScoredPoint) SearchResult {
	result := SearchResult{Score: point.GetScore(), Metadata: make(map[string]any, len(point.GetPayload()))}
	for k, v := range point.GetPayload() {
		switch val := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			switch k {
			case payloadContent:
				result.Content = val.StringValue
				continue
			case payloadID:
				result.ID = val.StringValue
			}
			result.Metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			result.Metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			result.Metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			result.Metadata[k] = val.BoolValue
		}
	}
	return result
}

// ensureCollection creates the collection on first use.
func (s *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	exists, err := s.CollectionExists(ctx, name)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	err = s.CreateCollection(ctx, name, s.config.VectorSize)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

// AddDocuments embeds docs and upserts them as points.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) ([]string, error) {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.AddDocuments")
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

	if err := s.ensureCollection(ctx, name); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("preparing collection %s: %w", name, err)
	}

	ids := make([]string, len(docs))
	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		ids[i] = doc.ID
		points[i] = &qdrant.PointStruct{
			Id:      pointID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: buildPayload(doc),
		}
	}

	err = s.withRetry(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("upserting points to %s: %w", name, err)
	}
	return ids, nil
}

// SearchInCollection embeds query and runs a filtered nearest-neighbor query.
func (s *QdrantStore) SearchInCollection(ctx context.Context, collectionName, query string, k int, filters map[string]any) ([]SearchResult, error) {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.SearchInCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("k", k))

	if err := ValidateCollectionName(collectionName); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	const maxK = 10000
	if k > maxK {
		k = maxK
	}
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query cannot be empty")
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var points []*qdrant.ScoredPoint
	err = s.withRetry(ctx, "query", func(ctx context.Context) error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(k)),
			Filter:         buildFilter(filters),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrCollectionNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("searching collection %s: %w", collectionName, err)
	}

	results := make([]SearchResult, len(points))
	for i, p := range points {
		results[i] = resultFromPoint(p)
	}
	span.SetAttributes(attribute.Int("results_count", len(results)))
	return results, nil
}

// DeleteDocumentsFromCollection removes points by chunk ID.
func (s *QdrantStore) DeleteDocumentsFromCollection(ctx context.Context, collectionName string, ids []string) error {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.DeleteDocumentsFromCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}
	err := s.withRetry(ctx, "delete", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelector(pointIDs...),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return ErrCollectionNotFound
		}
		span.RecordError(err)
		return fmt.Errorf("deleting from %s: %w", collectionName, err)
	}
	return nil
}

// DeleteByFilter removes every point matching all filters.
func (s *QdrantStore) DeleteByFilter(ctx context.Context, collectionName string, filters map[string]any) error {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.DeleteByFilter")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName))

	if len(filters) == 0 {
		return ErrEmptyFilter
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	err := s.withRetry(ctx, "delete_by_filter", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(buildFilter(filters)),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("deleting by filter from %s: %w", collectionName, err)
	}
	return nil
}

// DeleteByFilterExcept removes every point matching all filters whose chunk
// ID is not in keep.
func (s *QdrantStore) DeleteByFilterExcept(ctx context.Context, collectionName string, filters map[string]any, keep []string) error {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.DeleteByFilterExcept")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("keep_count", len(keep)))

	if len(filters) == 0 {
		return ErrEmptyFilter
	}
	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}

	filter := buildExceptFilter(filters, keep)
	err := s.withRetry(ctx, "delete_by_filter_except", func(ctx context.Context) error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collectionName,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		return err
	})
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		span.RecordError(err)
		return fmt.Errorf("deleting stale points from %s: %w", collectionName, err)
	}
	return nil
}

// CreateCollection creates a cosine collection of the given dimension.
func (s *QdrantStore) CreateCollection(ctx context.Context, collectionName string, vectorSize int) error {
	ctx, span := otel.Tracer(qdrantTracerName).Start(ctx, "QdrantStore.CreateCollection")
	defer span.End()
	span.SetAttributes(attribute.String("collection", collectionName), attribute.Int("vector_size", vectorSize))

	if err := ValidateCollectionName(collectionName); err != nil {
		return err
	}
	if vectorSize == 0 {
		vectorSize = s.config.VectorSize
	}

	err := s.withRetry(ctx, "create_collection", func(ctx context.Context) error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collectionName,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(vectorSize),
				Distance: s.config.Distance,
			}),
		})
	})
	if err != nil {
		if st, ok := status.FromError(err); ok && st.Code() == grpccodes.AlreadyExists {
			return ErrCollectionExists
		}
		span.RecordError(err)
		return fmt.Errorf("creating collection %s: %w", collectionName, err)
	}
	s.known.Store(collectionName, true)
	s.logger.Info("created collection", zap.String("collection", collectionName), zap.Int("vector_size", vectorSize))
	return nil
}

// CollectionExists reports whether the collection exists.
func (s *QdrantStore) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	if err := ValidateCollectionName(collectionName); err != nil {
		return false, err
	}
	if _, ok := s.known.Load(collectionName); ok {
		return true, nil
	}

	var exists bool
	err := s.withRetry(ctx, "collection_exists", func(ctx context.Context) error {
		ok, err := s.client.CollectionExists(ctx, collectionName)
		if err != nil {
			return err
		}
		exists = ok
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("checking collection %s: %w", collectionName, err)
	}
	if exists {
		s.known.Store(collectionName, true)
	}
	return exists, nil
}

// ListCollections returns collection names in sorted order.
func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.withRetry(ctx, "list_collections", func(ctx context.Context) error {
		res, err := s.client.ListCollections(ctx)
		if err != nil {
			return err
		}
		names = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

var _ Store = (*QdrantStore)(nil)
