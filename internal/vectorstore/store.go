// Package vectorstore stores and searches embedded text chunks.
//
// Two backends implement Store: ChromemStore (embedded chromem-go, the
// default, optionally persisted to disk) and QdrantStore (Qdrant over gRPC).
// Every call names its collection explicitly; scribe keeps one collection
// per namespace (general, summary, hierarchy, memory).
//
// Metadata filters are exact-match on string values and are combined with
// AND semantics in both backends.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrCollectionNotFound is returned when a collection does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrCollectionExists is returned when creating an existing collection.
	ErrCollectionExists = errors.New("collection already exists")

	// ErrInvalidConfig indicates invalid store configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyDocuments is returned by AddDocuments for an empty batch.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrEmptyFilter is returned by DeleteByFilter without any condition.
	ErrEmptyFilter = errors.New("delete filter cannot be empty")

	// ErrConnectionFailed indicates the Qdrant client could not be created.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrEmbeddingFailed wraps embedder failures.
	ErrEmbeddingFailed = errors.New("failed to generate embeddings")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// Embedder turns text into dense vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Document is a chunk to embed and store.
type Document struct {
	// ID is the caller-chosen identifier. Adding a document with an existing
	// ID replaces it.
	ID       string
	Content  string
	Metadata map[string]any

	// Collection is the target collection. All documents in one AddDocuments
	// call must share it.
	Collection string
}

// SearchResult is a single nearest-neighbor hit.
type SearchResult struct {
	ID       string
	Content  string
	Score    float32 // higher is more similar
	Metadata map[string]any
}

// Store is the vector index used by indexing, retrieval and memory.
type Store interface {
	// AddDocuments embeds and upserts docs, returning their IDs.
	AddDocuments(ctx context.Context, docs []Document) ([]string, error)

	// SearchInCollection returns up to k hits most similar to query whose
	// metadata matches every filter. An empty collection yields no hits.
	// A missing collection yields ErrCollectionNotFound.
	SearchInCollection(ctx context.Context, collection, query string, k int, filters map[string]any) ([]SearchResult, error)

	// DeleteDocumentsFromCollection removes documents by ID.
	DeleteDocumentsFromCollection(ctx context.Context, collection string, ids []string) error

	// DeleteByFilter removes every document whose metadata matches all
	// filters. Deleting from a missing collection is a no-op.
	DeleteByFilter(ctx context.Context, collection string, filters map[string]any) error

	// DeleteByFilterExcept removes every document matching all filters
	// whose ID is not in keep. It lets callers upsert a new set first and
	// drop only what the new set no longer contains.
	DeleteByFilterExcept(ctx context.Context, collection string, filters map[string]any, keep []string) error

	// CreateCollection creates a collection. vectorSize 0 means the
	// configured default.
	CreateCollection(ctx context.Context, collection string, vectorSize int) error

	CollectionExists(ctx context.Context, collection string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	Close() error
}

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName rejects names outside ^[a-z0-9_]{1,64}$.
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// batchCollection returns the collection shared by docs.
func batchCollection(docs []Document) (string, error) {
	name := docs[0].Collection
	for i, doc := range docs {
		if doc.Collection != name {
			return "", fmt.Errorf("document at index %d has collection %q but batch targets %q", i, doc.Collection, name)
		}
		if doc.ID == "" {
			return "", fmt.Errorf("document at index %d has no id", i)
		}
	}
	if err := ValidateCollectionName(name); err != nil {
		return "", err
	}
	return name, nil
}
