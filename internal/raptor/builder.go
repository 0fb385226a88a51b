// Package raptor builds a hierarchical summary index over a document.
//
// Leaf chunks are embedded and clustered; each cluster is summarized into a
// node of the next level, and the process repeats on the summaries. Every
// level can then be indexed alongside the leaves so retrieval matches at
// several granularities.
package raptor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const tracerName = "scribe.raptor"

var (
	// ErrLevelAborted wraps the failure that stopped a build early. The tree
	// returned alongside it holds every level completed before the failure.
	ErrLevelAborted = errors.New("hierarchy level aborted")

	// ErrInvalidLevels is returned when fewer than one level is requested.
	ErrInvalidLevels = errors.New("level count must be at least 1")
)

// SummaryTemperature is used for cluster summaries.
const SummaryTemperature = 0.2

const summaryPrompt = `Here is a group of related passages from a document.

Write a detailed summary of the passages. Use only facts stated in the passages and do not add anything that is not present in them.

Passages:
%s`

const passageSeparator = "\n\n---\n\n"

// Embedder embeds a batch of texts.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Level is one round of clustering and summarization.
type Level struct {
	// Number is 1 for summaries of leaves, 2 for summaries of those, etc.
	Number int

	// Embeddings holds one vector per input node.
	Embeddings [][]float32

	// Assignments lists, per input node, the clusters it belongs to.
	Assignments [][]int

	// Summaries holds one summary per cluster, indexed by cluster id.
	Summaries []string
}

// Tree is the output of a build.
type Tree struct {
	Leaves []string
	Levels []Level
}

// Depth returns the number of summary levels.
func (t *Tree) Depth() int {
	return len(t.Levels)
}

// Node is a flattened tree entry.
type Node struct {
	Text string

	// Level is 0 for leaves.
	Level int

	// Cluster is the cluster a summary was built from, -1 for leaves.
	Cluster int

	// Parents lists the clusters of the next level this node was grouped
	// into. Empty at the top.
	Parents []int
}

// Flatten returns the leaves followed by every level's summaries in level
// order.
func (t *Tree) Flatten() []Node {
	nodes := make([]Node, 0, len(t.Leaves))
	for i, leaf := range t.Leaves {
		nodes = append(nodes, Node{Text: leaf, Level: 0, Cluster: -1, Parents: t.parents(0, i)})
	}
	for li, level := range t.Levels {
		for c, summary := range level.Summaries {
			nodes = append(nodes, Node{Text: summary, Level: level.Number, Cluster: c, Parents: t.parents(li+1, c)})
		}
	}
	return nodes
}

func (t *Tree) parents(levelIdx, node int) []int {
	if levelIdx >= len(t.Levels) {
		return nil
	}
	assignments := t.Levels[levelIdx].Assignments
	if node >= len(assignments) {
		return nil
	}
	return append([]int(nil), assignments[node]...)
}

// Builder builds summary trees.
type Builder struct {
	embedder   Embedder
	summarizer llm.Completer
	clusterer  Clusterer
	logger     *zap.Logger
}

// NewBuilder returns a Builder. A nil clusterer means a GMMClusterer with
// default settings.
func NewBuilder(embedder Embedder, summarizer llm.Completer, clusterer Clusterer, logger *zap.Logger) (*Builder, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if summarizer == nil {
		return nil, errors.New("summarizer is required")
	}
	if clusterer == nil {
		clusterer = NewGMMClusterer(DefaultGMMConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{embedder: embedder, summarizer: summarizer, clusterer: clusterer, logger: logger}, nil
}

// Build summarizes leaves into at most nLevels levels. It stops early once a
// level forms a single cluster. If a level fails, Build returns the levels
// completed so far together with an error wrapping ErrLevelAborted.
func (b *Builder) Build(ctx context.Context, leaves []string, nLevels int) (*Tree, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Builder.Build")
	defer span.End()
	span.SetAttributes(attribute.Int("leaf_count", len(leaves)), attribute.Int("max_levels", nLevels))

	if nLevels < 1 {
		return nil, ErrInvalidLevels
	}
	tree := &Tree{Leaves: append([]string(nil), leaves...)}
	if len(leaves) == 0 {
		return tree, nil
	}

	current := tree.Leaves
	for number := 1; number <= nLevels; number++ {
		level, err := b.buildLevel(ctx, number, current)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "level aborted")
			b.logger.Warn("hierarchy level aborted",
				zap.Int("level", number),
				zap.Int("completed_levels", len(tree.Levels)),
				zap.Error(err))
			return tree, fmt.Errorf("%w: level %d: %w", ErrLevelAborted, number, err)
		}
		tree.Levels = append(tree.Levels, *level)

		b.logger.Debug("built hierarchy level",
			zap.Int("level", number),
			zap.Int("inputs", len(current)),
			zap.Int("clusters", len(level.Summaries)))

		if len(level.Summaries) <= 1 {
			break
		}
		current = level.Summaries
	}

	span.SetAttributes(attribute.Int("levels", tree.Depth()))
	return tree, nil
}

func (b *Builder) buildLevel(ctx context.Context, number int, texts []string) (*Level, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Builder.buildLevel")
	defer span.End()
	span.SetAttributes(attribute.Int("level", number), attribute.Int("inputs", len(texts)))

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding: got %d vectors for %d texts", len(vectors), len(texts))
	}

	raw, err := b.clusterer.Cluster(ctx, vectors)
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}
	assignments, members, err := compact(raw, len(texts))
	if err != nil {
		return nil, fmt.Errorf("clustering: %w", err)
	}

	summaries := make([]string, len(members))
	for c, group := range members {
		passages := make([]string, len(group))
		for k, i := range group {
			passages[k] = texts[i]
		}
		summary, err := b.summarizer.Complete(ctx, fmt.Sprintf(summaryPrompt, strings.Join(passages, passageSeparator)), SummaryTemperature)
		if err != nil {
			return nil, fmt.Errorf("summarizing cluster %d: %w", c, err)
		}
		summaries[c] = strings.TrimSpace(summary)
	}

	span.SetAttributes(attribute.Int("clusters", len(summaries)))
	return &Level{
		Number:      number,
		Embeddings:  vectors,
		Assignments: assignments,
		Summaries:   summaries,
	}, nil
}

// compact renumbers cluster ids to 0..m-1 in ascending order of the original
// ids and returns the per-input assignments with the members of each cluster.
func compact(raw [][]int, n int) ([][]int, [][]int, error) {
	if len(raw) != n {
		return nil, nil, fmt.Errorf("got %d assignments for %d inputs", len(raw), n)
	}
	maxID := -1
	for i, ids := range raw {
		if len(ids) == 0 {
			return nil, nil, fmt.Errorf("input %d has no cluster", i)
		}
		for _, id := range ids {
			if id < 0 {
				return nil, nil, fmt.Errorf("input %d has negative cluster id %d", i, id)
			}
			maxID = max(maxID, id)
		}
	}

	byID := make([][]int, maxID+1)
	for i, ids := range raw {
		for _, id := range ids {
			if last := len(byID[id]) - 1; last >= 0 && byID[id][last] == i {
				continue
			}
			byID[id] = append(byID[id], i)
		}
	}

	remap := make([]int, maxID+1)
	var members [][]int
	for id, group := range byID {
		if len(group) == 0 {
			remap[id] = -1
			continue
		}
		remap[id] = len(members)
		members = append(members, group)
	}

	assignments := make([][]int, n)
	for i, ids := range raw {
		seen := make(map[int]bool, len(ids))
		for _, id := range ids {
			c := remap[id]
			if seen[c] {
				continue
			}
			seen[c] = true
			assignments[i] = append(assignments[i], c)
		}
	}
	return assignments, members, nil
}
