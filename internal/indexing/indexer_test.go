package indexing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/logging"
	"github.com/fyrsmithlabs/scribe/internal/raptor"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// scriptedCompleter answers "summary N" and fails on prompts containing
// failOn.
type scriptedCompleter struct {
	mu      sync.Mutex
	failOn  string
	prompts []string
}

var errCompletion = errors.New("completion unavailable")

func (c *scriptedCompleter) Complete(_ context.Context, prompt string, _ float64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, prompt)
	if c.failOn != "" && strings.Contains(prompt, c.failOn) {
		return "", errCompletion
	}
	return fmt.Sprintf("summary %d", len(c.prompts)), nil
}

func (c *scriptedCompleter) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prompts)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.General = Split{Size: 60, Overlap: 10}
	cfg.Summary = Split{Size: 40, Overlap: 5}
	return cfg
}

func newTestIndexer(t *testing.T, completer *scriptedCompleter) (*Indexer, *vectorstore.ChromemStore) {
	t.Helper()
	store := vectorstore.NewTestStore(t)
	ix, err := NewIndexer(store, completer, nil, testConfig(), nil)
	require.NoError(t, err)
	return ix, store
}

// words returns n distinct words joined by spaces.
func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(w, " ")
}

// entries returns the ids stored in collection for the given metadata key
// and value, sorted.
func entries(t *testing.T, store vectorstore.Store, collection, key, value string) []vectorstore.SearchResult {
	t.Helper()
	results, err := store.SearchInCollection(context.Background(), collection, "word0 summary", 1000, map[string]any{key: value})
	if errors.Is(err, vectorstore.ErrCollectionNotFound) {
		return nil
	}
	require.NoError(t, err)
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	return results
}

func ids(results []vectorstore.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.ID
	}
	return out
}

func TestSaveSection_ShortSection(t *testing.T) {
	completer := &scriptedCompleter{}
	ix, store := newTestIndexer(t, completer)
	section := &Section{
		ID:         "s1",
		DocumentID: "doc-1",
		Title:      "Opening",
		Content:    "The lighthouse keeper counted ships. Nobody came to the island that winter.",
		Metadata:   map[string]any{"chapter": "1"},
	}

	require.NoError(t, ix.SaveSection(context.Background(), section))

	assert.Equal(t, 12, section.NumWords)
	assert.Equal(t, len(section.Content), section.Length)
	assert.Empty(t, section.Summary)
	assert.Zero(t, completer.calls(), "short sections are not summarized")

	passages := entries(t, store, "scribe_general", "section_id", "s1")
	require.Equal(t, []string{"s1_chunk0", "s1_chunk1"}, ids(passages))
	md := passages[0].Metadata
	assert.Equal(t, "s1_chunk0", md["id"])
	assert.Equal(t, "general", md["namespace"])
	assert.Equal(t, "s1", md["section_id"])
	assert.Equal(t, "doc-1", md["document_id"])
	assert.Equal(t, `{"chapter":"1"}`, md["section_metadata"])
	assert.Equal(t, "Opening", md["title"])

	assert.Empty(t, entries(t, store, "scribe_summary", "section_id", "s1"))
}

func TestSaveSection_LongSectionSummarized(t *testing.T) {
	completer := &scriptedCompleter{}
	ix, store := newTestIndexer(t, completer)
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: words(120)}

	require.NoError(t, ix.SaveSection(context.Background(), section))

	require.Equal(t, 1, completer.calls())
	assert.True(t, strings.HasPrefix(completer.prompts[0], "Summarize the following section of a document in four sentences:\n\nword0 word1"))
	assert.Equal(t, "summary 1", section.Summary)
	assert.Equal(t, ContentHash(section.Content), section.SummaryHash)

	summaries := entries(t, store, "scribe_summary", "section_id", "s1")
	require.Equal(t, []string{"s1_chunk0"}, ids(summaries))
	assert.Equal(t, "summary 1", summaries[0].Content)
	assert.Equal(t, "summary", summaries[0].Metadata["namespace"])
}

func TestSaveSection_SummaryReuse(t *testing.T) {
	completer := &scriptedCompleter{}
	ix, _ := newTestIndexer(t, completer)
	ctx := context.Background()
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: words(120)}

	require.NoError(t, ix.SaveSection(ctx, section))
	require.NoError(t, ix.SaveSection(ctx, section))
	assert.Equal(t, 1, completer.calls(), "unchanged content reuses the summary")

	section.Content = words(130)
	require.NoError(t, ix.SaveSection(ctx, section))
	assert.Equal(t, 2, completer.calls())
	assert.Equal(t, "summary 2", section.Summary)
}

func TestSaveSection_ShrinkingSectionClearsStaleEntries(t *testing.T) {
	completer := &scriptedCompleter{}
	ix, store := newTestIndexer(t, completer)
	ctx := context.Background()
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: words(120)}

	require.NoError(t, ix.SaveSection(ctx, section))
	require.Greater(t, len(entries(t, store, "scribe_general", "section_id", "s1")), 1)
	require.NotEmpty(t, entries(t, store, "scribe_summary", "section_id", "s1"))

	section.Content = "word0 only remains"
	require.NoError(t, ix.SaveSection(ctx, section))

	assert.Equal(t, []string{"s1_chunk0"}, ids(entries(t, store, "scribe_general", "section_id", "s1")))
	assert.Empty(t, entries(t, store, "scribe_summary", "section_id", "s1"))
	assert.Empty(t, section.Summary)
	assert.Empty(t, section.SummaryHash)
}

func TestSaveSection_EmbedderOutageKeepsPreviousEntries(t *testing.T) {
	embedder := &vectorstore.HashEmbedder{}
	store := vectorstore.NewTestStoreWithEmbedder(t, embedder)
	ix, err := NewIndexer(store, &scriptedCompleter{}, nil, testConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	section := &Section{ID: "s1", DocumentID: "doc-1", Content: "word0 the first draft"}
	require.NoError(t, ix.SaveSection(ctx, section))

	embedder.Fail = true
	section.Content = "word0 a rewritten draft that never got indexed"
	err = ix.SaveSection(ctx, section)
	embedder.Fail = false
	require.ErrorIs(t, err, vectorstore.ErrEmbeddingFailed)

	got := entries(t, store, "scribe_general", "section_id", "s1")
	require.Len(t, got, 1)
	assert.Equal(t, "word0 the first draft", got[0].Content)
}

func TestSaveSection_ResaveOverwritesInPlace(t *testing.T) {
	ix, store := newTestIndexer(t, &scriptedCompleter{})
	ctx := context.Background()
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: words(40)}

	require.NoError(t, ix.SaveSection(ctx, section))
	before := ids(entries(t, store, "scribe_general", "section_id", "s1"))
	require.Greater(t, len(before), 2)

	section.Content = words(20)
	require.NoError(t, ix.SaveSection(ctx, section))
	after := ids(entries(t, store, "scribe_general", "section_id", "s1"))
	require.NotEmpty(t, after)
	assert.Less(t, len(after), len(before))
	assert.Subset(t, before, after)
}

func TestSaveSection_OtherSectionsUntouched(t *testing.T) {
	ix, store := newTestIndexer(t, &scriptedCompleter{})
	ctx := context.Background()

	require.NoError(t, ix.SaveSection(ctx, &Section{ID: "s1", DocumentID: "doc-1", Content: "word0 first section"}))
	require.NoError(t, ix.SaveSection(ctx, &Section{ID: "s2", DocumentID: "doc-1", Content: "word0 second section"}))
	require.NoError(t, ix.SaveSection(ctx, &Section{ID: "s1", DocumentID: "doc-1", Content: "word0 first section again"}))

	assert.Len(t, entries(t, store, "scribe_general", "document_id", "doc-1"), 2)
	assert.Equal(t, "word0 second section", entries(t, store, "scribe_general", "section_id", "s2")[0].Content)
}

func TestSaveSection_SummaryFailure(t *testing.T) {
	completer := &scriptedCompleter{failOn: "Summarize"}
	ix, store := newTestIndexer(t, completer)
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: words(120)}

	err := ix.SaveSection(context.Background(), section)
	assert.ErrorIs(t, err, errCompletion)
	assert.NotEmpty(t, entries(t, store, "scribe_general", "section_id", "s1"), "passages indexed before the summary")
	assert.Empty(t, section.Summary)
}

func TestSaveSection_InvalidSection(t *testing.T) {
	ix, _ := newTestIndexer(t, &scriptedCompleter{})
	tests := []struct {
		name    string
		section *Section
	}{
		{"nil", nil},
		{"missing id", &Section{DocumentID: "doc-1", Content: "x"}},
		{"missing document", &Section{ID: "s1", Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, ix.SaveSection(context.Background(), tt.section), ErrInvalidSection)
		})
	}
}

func TestSection_Derive(t *testing.T) {
	s := &Section{Content: "héllo wörld\n\tagain"}
	s.Derive()
	assert.Equal(t, 18, s.Length)
	assert.Equal(t, 3, s.NumWords)
}

func TestNewIndexer_Validation(t *testing.T) {
	store := vectorstore.NewTestStore(t)
	completer := &scriptedCompleter{}

	_, err := NewIndexer(nil, completer, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = NewIndexer(store, nil, nil, DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad := DefaultConfig()
	bad.Summary = Split{Size: 10, Overlap: 10}
	_, err = NewIndexer(store, completer, nil, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultConfig()
	bad.Collections.General = "Not Valid"
	_, err = NewIndexer(store, completer, nil, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultConfig()
	bad.HierarchyLevels = 0
	_, err = NewIndexer(store, completer, nil, bad, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewIndexer(store, completer, nil, ConfigFromSettings(config.Default()), nil)
	assert.NoError(t, err)
	assert.Equal(t, DefaultConfig(), ConfigFromSettings(config.Default()))
}

// fixedClusterer groups three inputs into two clusters and everything else
// into one.
type fixedClusterer struct{}

func (fixedClusterer) Cluster(_ context.Context, vectors [][]float32) ([][]int, error) {
	out := make([][]int, len(vectors))
	for i := range out {
		out[i] = []int{0}
	}
	if len(vectors) == 3 {
		out[2] = []int{1}
	}
	return out, nil
}

func newHierarchyIndexer(t *testing.T, completer *scriptedCompleter) (*Indexer, *vectorstore.ChromemStore, *logging.TestLogger) {
	t.Helper()
	logs := logging.NewTestLogger()
	store := vectorstore.NewTestStore(t)
	builder, err := raptor.NewBuilder(&vectorstore.HashEmbedder{}, completer, fixedClusterer{}, nil)
	require.NoError(t, err)
	ix, err := NewIndexer(store, completer, builder, DefaultConfig(), logs.Underlying())
	require.NoError(t, err)
	return ix, store, logs
}

func threeSections() []Section {
	return []Section{
		{ID: "s1", DocumentID: "doc-1", Title: "One", Content: "word0 the harbor at dawn"},
		{ID: "s2", DocumentID: "doc-1", Title: "Two", Content: "word0 the harbor at dusk"},
		{ID: "s3", DocumentID: "doc-1", Title: "Three", Content: "word0 a letter from the city"},
	}
}

func TestBuildHierarchy(t *testing.T) {
	ix, store, _ := newHierarchyIndexer(t, &scriptedCompleter{})

	report, err := ix.BuildHierarchy(context.Background(), "doc-1", threeSections())
	require.NoError(t, err)
	assert.Equal(t, &HierarchyReport{DocumentID: "doc-1", Leaves: 3, Levels: 2, Summaries: 3}, report)
	assert.False(t, report.Partial())

	got := entries(t, store, "scribe_hierarchy", "document_id", "doc-1")
	assert.Equal(t, []string{
		"doc-1_level1_summary0",
		"doc-1_level1_summary1",
		"doc-1_level2_summary0",
		"s1_chunk0",
		"s2_chunk0",
		"s3_chunk0",
	}, ids(got))

	byID := map[string]vectorstore.SearchResult{}
	for _, r := range got {
		byID[r.ID] = r
	}
	assert.Equal(t, "0", byID["s1_chunk0"].Metadata["level"])
	assert.Equal(t, "hierarchy", byID["s1_chunk0"].Metadata["namespace"])
	assert.Equal(t, "s1", byID["s1_chunk0"].Metadata["section_id"])
	assert.Equal(t, "1", byID["doc-1_level1_summary1"].Metadata["level"])
	assert.Equal(t, "1", byID["doc-1_level1_summary1"].Metadata["cluster"])
	assert.Equal(t, "2", byID["doc-1_level2_summary0"].Metadata["level"])
}

func TestBuildHierarchy_RebuildPurgesOldEntries(t *testing.T) {
	ix, store, _ := newHierarchyIndexer(t, &scriptedCompleter{})
	ctx := context.Background()

	_, err := ix.BuildHierarchy(ctx, "doc-1", threeSections())
	require.NoError(t, err)
	_, err = ix.BuildHierarchy(ctx, "doc-2", []Section{{ID: "x1", DocumentID: "doc-2", Content: "word0 elsewhere"}})
	require.NoError(t, err)

	report, err := ix.BuildHierarchy(ctx, "doc-1", threeSections()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, report.Levels)

	assert.Equal(t, []string{"doc-1_level1_summary0", "s1_chunk0"}, ids(entries(t, store, "scribe_hierarchy", "document_id", "doc-1")))
	assert.Len(t, entries(t, store, "scribe_hierarchy", "document_id", "doc-2"), 2)
}

func TestBuildHierarchy_StoreOutageKeepsPreviousTree(t *testing.T) {
	completer := &scriptedCompleter{}
	embedder := &vectorstore.HashEmbedder{}
	store := vectorstore.NewTestStoreWithEmbedder(t, embedder)
	builder, err := raptor.NewBuilder(&vectorstore.HashEmbedder{}, completer, fixedClusterer{}, nil)
	require.NoError(t, err)
	ix, err := NewIndexer(store, completer, builder, DefaultConfig(), nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = ix.BuildHierarchy(ctx, "doc-1", threeSections())
	require.NoError(t, err)
	before := ids(entries(t, store, "scribe_hierarchy", "document_id", "doc-1"))
	require.Len(t, before, 6)

	embedder.Fail = true
	_, err = ix.BuildHierarchy(ctx, "doc-1", threeSections()[:1])
	embedder.Fail = false
	require.Error(t, err)

	assert.Equal(t, before, ids(entries(t, store, "scribe_hierarchy", "document_id", "doc-1")))
}

func TestBuildHierarchy_PartialTreeIsIndexed(t *testing.T) {
	ix, store, logs := newHierarchyIndexer(t, &scriptedCompleter{failOn: "summary 1"})

	report, err := ix.BuildHierarchy(context.Background(), "doc-1", threeSections())
	require.NoError(t, err)
	assert.True(t, report.Partial())
	assert.ErrorIs(t, report.Err, raptor.ErrLevelAborted)
	assert.Equal(t, 1, report.Levels)
	assert.Equal(t, 2, report.Summaries)

	assert.Len(t, entries(t, store, "scribe_hierarchy", "document_id", "doc-1"), 5)
	logs.AssertLogged(t, zapcore.WarnLevel, "hierarchy build stopped early")
}

func TestBuildHierarchy_InvalidInput(t *testing.T) {
	ix, _, _ := newHierarchyIndexer(t, &scriptedCompleter{})
	ctx := context.Background()

	_, err := ix.BuildHierarchy(ctx, " ", threeSections())
	assert.ErrorIs(t, err, ErrInvalidSection)

	_, err = ix.BuildHierarchy(ctx, "doc-2", threeSections())
	assert.ErrorIs(t, err, ErrInvalidSection)

	_, err = ix.BuildHierarchy(ctx, "doc-1", []Section{{DocumentID: "doc-1", Content: "x"}})
	assert.ErrorIs(t, err, ErrInvalidSection)

	plain, _ := newTestIndexer(t, &scriptedCompleter{})
	_, err = plain.BuildHierarchy(ctx, "doc-1", threeSections())
	assert.ErrorIs(t, err, ErrNoBuilder)
}

func TestBuildHierarchy_NoContent(t *testing.T) {
	ix, store, _ := newHierarchyIndexer(t, &scriptedCompleter{})

	report, err := ix.BuildHierarchy(context.Background(), "doc-1", []Section{{ID: "s1", DocumentID: "doc-1", Content: "   "}})
	require.NoError(t, err)
	assert.Equal(t, &HierarchyReport{DocumentID: "doc-1"}, report)
	assert.Empty(t, entries(t, store, "scribe_hierarchy", "document_id", "doc-1"))
}

// replacingScrubber masks a fixed secret.
type replacingScrubber struct {
	secret string
	err    error
}

func (s replacingScrubber) Scrub(_ context.Context, text string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return strings.ReplaceAll(text, s.secret, "[REDACTED:test]"), nil
}

func TestSaveSection_ScrubsContent(t *testing.T) {
	completer := &scriptedCompleter{}
	store := vectorstore.NewTestStore(t)
	ix, err := NewIndexer(store, completer, nil, testConfig(), nil, WithScrubber(replacingScrubber{secret: "hunter2"}))
	require.NoError(t, err)

	content := words(120) + " password hunter2"
	section := &Section{ID: "s1", DocumentID: "doc-1", Content: content}
	require.NoError(t, ix.SaveSection(context.Background(), section))

	assert.Equal(t, content, section.Content)
	assert.Equal(t, ContentHash(content), section.SummaryHash)
	require.Equal(t, 1, completer.calls())
	assert.NotContains(t, completer.prompts[0], "hunter2")
	assert.Contains(t, completer.prompts[0], "[REDACTED:test]")

	for _, e := range entries(t, store, "scribe_general", "section_id", "s1") {
		assert.NotContains(t, e.Content, "hunter2")
	}
}

func TestSaveSection_ScrubFailure(t *testing.T) {
	store := vectorstore.NewTestStore(t)
	ix, err := NewIndexer(store, &scriptedCompleter{}, nil, testConfig(), nil, WithScrubber(replacingScrubber{err: errors.New("rules unavailable")}))
	require.NoError(t, err)

	err = ix.SaveSection(context.Background(), &Section{ID: "s1", DocumentID: "doc-1", Content: "word0 text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scrubbing content")
	assert.Empty(t, entries(t, store, "scribe_general", "section_id", "s1"))
}
