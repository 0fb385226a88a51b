package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, s Store) {
	t.Helper()
	docs := []Document{
		{ID: "s1_chunk0", Content: "the harbor lighthouse guides ships at night", Metadata: map[string]any{"document_id": "d1", "section_id": "s1"}},
		{ID: "s1_chunk1", Content: "fishermen repair nets on the pier", Metadata: map[string]any{"document_id": "d1", "section_id": "s1"}},
		{ID: "s2_chunk0", Content: "mountain goats climb steep cliffs", Metadata: map[string]any{"document_id": "d1", "section_id": "s2"}},
		{ID: "s9_chunk0", Content: "the harbor lighthouse in another book", Metadata: map[string]any{"document_id": "d2", "section_id": "s9"}},
	}
	for i := range docs {
		docs[i].Collection = "scribe_general"
	}
	ids, err := s.AddDocuments(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, ids, 4)
}

func TestChromemStore_SearchRanksBySimilarity(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)

	results, err := s.SearchInCollection(context.Background(), "scribe_general", "mountain goats cliffs", 2, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "s2_chunk0", results[0].ID)
	assert.Equal(t, "mountain goats climb steep cliffs", results[0].Content)
	assert.Equal(t, "s2", results[0].Metadata["section_id"])
}

func TestChromemStore_FiltersAreConjunctive(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)
	ctx := context.Background()

	results, err := s.SearchInCollection(ctx, "scribe_general", "harbor lighthouse", 10, map[string]any{"document_id": "d1"})
	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, r := range results {
		assert.Equal(t, "d1", r.Metadata["document_id"])
	}
	assert.Equal(t, "s1_chunk0", results[0].ID)

	results, err = s.SearchInCollection(ctx, "scribe_general", "harbor lighthouse", 10,
		map[string]any{"document_id": "d1", "section_id": "s2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s2_chunk0", results[0].ID)
}

func TestChromemStore_KCappedAtCount(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)

	results, err := s.SearchInCollection(context.Background(), "scribe_general", "harbor", 50, nil)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestChromemStore_UpsertReplacesByID(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, []Document{{
		ID: "s2_chunk0", Collection: "scribe_general", Content: "desert camels cross dunes",
		Metadata: map[string]any{"document_id": "d1", "section_id": "s2"},
	}})
	require.NoError(t, err)

	results, err := s.SearchInCollection(ctx, "scribe_general", "desert camels dunes", 10, map[string]any{"section_id": "s2"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "desert camels cross dunes", results[0].Content)
}

func TestChromemStore_DeleteByFilter(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteByFilter(ctx, "scribe_general", map[string]any{"section_id": "s1"}))

	results, err := s.SearchInCollection(ctx, "scribe_general", "harbor nets", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "s1", r.Metadata["section_id"])
	}

	assert.ErrorIs(t, s.DeleteByFilter(ctx, "scribe_general", nil), ErrEmptyFilter)
	assert.NoError(t, s.DeleteByFilter(ctx, "scribe_missing", map[string]any{"section_id": "s1"}))
}

func TestChromemStore_DeleteByFilterExcept(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteByFilterExcept(ctx, "scribe_general", map[string]any{"section_id": "s1"}, []string{"s1_chunk0", "s1_chunk7"}))

	results, err := s.SearchInCollection(ctx, "scribe_general", "harbor nets", 10, nil)
	require.NoError(t, err)
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []string{"s1_chunk0", "s2_chunk0", "s9_chunk0"}, ids)

	// The kept document is still searchable with its metadata.
	results, err = s.SearchInCollection(ctx, "scribe_general", "harbor lighthouse ships", 1, map[string]any{"section_id": "s1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "the harbor lighthouse guides ships at night", results[0].Content)
	assert.Equal(t, "d1", results[0].Metadata["document_id"])

	require.NoError(t, s.DeleteByFilterExcept(ctx, "scribe_general", map[string]any{"section_id": "s1"}, nil))
	results, err = s.SearchInCollection(ctx, "scribe_general", "harbor", 10, map[string]any{"section_id": "s1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.DeleteByFilterExcept(ctx, "scribe_general", nil, []string{"x"}), ErrEmptyFilter)
	assert.NoError(t, s.DeleteByFilterExcept(ctx, "scribe_missing", map[string]any{"section_id": "s1"}, nil))
}

func TestChromemStore_DeleteDocumentsFromCollection(t *testing.T) {
	s := NewTestStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DeleteDocumentsFromCollection(ctx, "scribe_general", []string{"s1_chunk0", "s9_chunk0"}))
	results, err := s.SearchInCollection(ctx, "scribe_general", "lighthouse", 10, nil)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	assert.NoError(t, s.DeleteDocumentsFromCollection(ctx, "scribe_general", nil))
	assert.ErrorIs(t, s.DeleteDocumentsFromCollection(ctx, "scribe_missing", []string{"x"}), ErrCollectionNotFound)
}

func TestChromemStore_MissingAndEmptyCollections(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	_, err := s.SearchInCollection(ctx, "scribe_memory", "anything", 3, nil)
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	require.NoError(t, s.CreateCollection(ctx, "scribe_memory", 0))
	results, err := s.SearchInCollection(ctx, "scribe_memory", "anything", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.ErrorIs(t, s.CreateCollection(ctx, "scribe_memory", 0), ErrCollectionExists)
	assert.ErrorIs(t, s.CreateCollection(ctx, "scribe_other", 7), ErrInvalidConfig)

	exists, err := s.CollectionExists(ctx, "scribe_memory")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestChromemStore_InvalidInput(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()

	_, err := s.AddDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyDocuments)

	_, err = s.AddDocuments(ctx, []Document{
		{ID: "a", Content: "x", Collection: "one"},
		{ID: "b", Content: "y", Collection: "two"},
	})
	assert.Error(t, err)

	_, err = s.AddDocuments(ctx, []Document{{ID: "a", Content: "x", Collection: "Bad-Name"}})
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	_, err = s.SearchInCollection(ctx, "scribe_general", "q", 0, nil)
	assert.Error(t, err)
	_, err = s.SearchInCollection(ctx, "scribe_general", "   ", 3, nil)
	assert.Error(t, err)
}

func TestChromemStore_EmbedderFailure(t *testing.T) {
	s, err := NewChromemStore(ChromemConfig{VectorSize: TestVectorSize}, &HashEmbedder{Fail: true}, nil)
	require.NoError(t, err)

	_, err = s.AddDocuments(context.Background(), []Document{{ID: "a", Content: "x", Collection: "scribe_general"}})
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
}

func TestChromemStore_ListCollectionsSorted(t *testing.T) {
	s := NewTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"scribe_summary", "scribe_general", "scribe_hierarchy"} {
		require.NoError(t, s.CreateCollection(ctx, name, TestVectorSize))
	}

	names, err := s.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"scribe_general", "scribe_hierarchy", "scribe_summary"}, names)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: TestVectorSize}, &HashEmbedder{}, nil)
	require.NoError(t, err)
	seed(t, s)
	require.NoError(t, s.Close())

	reopened, err := NewChromemStore(ChromemConfig{Path: dir, VectorSize: TestVectorSize}, &HashEmbedder{}, nil)
	require.NoError(t, err)
	results, err := reopened.SearchInCollection(ctx, "scribe_general", "fishermen nets pier", 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1_chunk1", results[0].ID)
}

func TestNewChromemStore_RequiresEmbedder(t *testing.T) {
	_, err := NewChromemStore(ChromemConfig{}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
