// Package retrieval runs scoped similarity search across the general,
// summary and hierarchy collections and fuses the ranked lists.
//
// Every sub-search of one request uses the same metadata filter: the
// document always, plus the section for section scope. A failed sub-search
// contributes an empty list so a partial outage degrades the answer instead
// of failing it.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/fusion"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "scribe.retrieval"

var (
	// ErrInvalidRequest indicates a malformed retrieval request.
	ErrInvalidRequest = errors.New("invalid retrieval request")

	// ErrInvalidConfig indicates invalid retriever configuration.
	ErrInvalidConfig = errors.New("invalid retrieval configuration")
)

// Collections names the backing collection of each namespace.
type Collections struct {
	General   string
	Summary   string
	Hierarchy string
}

func (c Collections) of(ns Namespace) string {
	switch ns {
	case NamespaceGeneral:
		return c.General
	case NamespaceSummary:
		return c.Summary
	case NamespaceHierarchy:
		return c.Hierarchy
	}
	return ""
}

// Config configures a Retriever.
type Config struct {
	Collections Collections
	Depth       DepthPolicy

	// RRFK is the fusion damping constant. <= 0 means fusion.DefaultK.
	RRFK float64

	// TopK truncates fused results when a request does not set its own.
	// 0 keeps everything.
	TopK int

	// MaxConcurrency bounds parallel sub-searches. <= 0 means 8.
	MaxConcurrency int
}

// Request is one retrieval.
type Request struct {
	Queries    []string
	Scope      Scope
	DocumentID string
	SectionID  string

	// TopK overrides Config.TopK when positive.
	TopK int
}

// Result is a fused hit.
type Result struct {
	Content  string
	Metadata map[string]any

	// Namespace is where the hit was first seen.
	Namespace Namespace

	// SourceScore is the similarity reported by the first search that
	// returned the hit.
	SourceScore float32

	FusedScore float64
}

// Retriever executes scoped, fused retrievals.
type Retriever struct {
	store  vectorstore.Store
	config Config
	logger *zap.Logger
}

// New validates cfg and returns a Retriever.
func New(store vectorstore.Store, cfg Config, logger *zap.Logger) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.Depth.Validate(); err != nil {
		return nil, err
	}
	if cfg.Collections.General == "" || cfg.Collections.Summary == "" || cfg.Collections.Hierarchy == "" {
		return nil, fmt.Errorf("%w: every namespace needs a collection", ErrInvalidConfig)
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.RRFK <= 0 {
		cfg.RRFK = fusion.DefaultK
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{store: store, config: cfg, logger: logger}, nil
}

// Depth returns the per-query depth used for scope.
func (r *Retriever) Depth(scope Scope) Depth {
	return r.config.Depth.For(scope)
}

// namespaceOrder is both the sub-search slot order and the presentation
// order of fused results: document framing before passage detail.
var namespaceOrder = []Namespace{NamespaceSummary, NamespaceHierarchy, NamespaceGeneral}

// Filters returns the metadata filter shared by every sub-search of req.
func Filters(req Request) map[string]any {
	filters := map[string]any{"document_id": req.DocumentID}
	if req.Scope == ScopeSection {
		filters["section_id"] = req.SectionID
	}
	return filters
}

func validate(req Request) error {
	if !req.Scope.Valid() {
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidRequest, req.Scope)
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidRequest)
	}
	if req.Scope == ScopeSection && strings.TrimSpace(req.SectionID) == "" {
		return fmt.Errorf("%w: section scope requires a section id", ErrInvalidRequest)
	}
	return nil
}

// Retrieve searches every (query, namespace) pair with a positive depth,
// fuses the lists by RRF, orders summary hits first, then hierarchy hits,
// then passages, and truncates to TopK.
func (r *Retriever) Retrieve(ctx context.Context, req Request) ([]Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.String("scope", string(req.Scope)),
		attribute.String("document.id", req.DocumentID),
		attribute.Int("queries", len(req.Queries)),
	)

	if err := validate(req); err != nil {
		return nil, err
	}

	queries := make([]string, 0, len(req.Queries))
	for _, q := range req.Queries {
		if strings.TrimSpace(q) != "" {
			queries = append(queries, q)
		}
	}
	if len(queries) == 0 {
		return []Result{}, nil
	}

	depth := r.config.Depth.For(req.Scope)
	filters := Filters(req)

	lists := make([][]vectorstore.SearchResult, len(queries)*len(namespaceOrder))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MaxConcurrency)
	for qi, query := range queries {
		for ni, ns := range namespaceOrder {
			k := depth.of(ns)
			if k <= 0 {
				continue
			}
			slot := qi*len(namespaceOrder) + ni
			g.Go(func() error {
				lists[slot] = r.search(gctx, ns, query, k, filters)
				return nil
			})
		}
	}
	// Sub-searches never return errors.
	_ = g.Wait()

	results := r.fuse(lists)
	topK := r.config.TopK
	if req.TopK > 0 {
		topK = req.TopK
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	r.logger.Debug("retrieval complete",
		zap.String("scope", string(req.Scope)),
		zap.String("document_id", req.DocumentID),
		zap.Int("queries", len(queries)),
		zap.Int("results", len(results)),
	)
	return results, nil
}

// search runs one sub-search. Errors are logged and yield an empty list.
func (r *Retriever) search(ctx context.Context, ns Namespace, query string, k int, filters map[string]any) []vectorstore.SearchResult {
	collection := r.config.Collections.of(ns)
	hits, err := r.store.SearchInCollection(ctx, collection, query, k, filters)
	switch {
	case errors.Is(err, vectorstore.ErrCollectionNotFound):
		r.logger.Debug("collection not found, treating as empty",
			zap.String("namespace", string(ns)),
			zap.String("collection", collection),
		)
		return nil
	case err != nil:
		r.logger.Warn("sub-search failed, treating as empty",
			zap.String("namespace", string(ns)),
			zap.String("collection", collection),
			zap.Error(err),
		)
		return nil
	}
	return hits
}

type origin struct {
	namespace Namespace
	score     float32
}

func (r *Retriever) fuse(lists [][]vectorstore.SearchResult) []Result {
	items := make([][]fusion.Item, len(lists))
	origins := make(map[string]origin)
	for slot, hits := range lists {
		ns := namespaceOrder[slot%len(namespaceOrder)]
		items[slot] = make([]fusion.Item, len(hits))
		for i, hit := range hits {
			item := fusion.Item{Content: hit.Content, Metadata: hit.Metadata, Score: hit.Score}
			items[slot][i] = item
			key := fusion.Key(item)
			if _, seen := origins[key]; !seen {
				origins[key] = origin{namespace: ns, score: hit.Score}
			}
		}
	}

	fused := fusion.Reciprocal(items, r.config.RRFK)
	byNamespace := make(map[Namespace][]Result, len(namespaceOrder))
	for _, f := range fused {
		o := origins[fusion.Key(f.Item)]
		byNamespace[o.namespace] = append(byNamespace[o.namespace], Result{
			Content:     f.Item.Content,
			Metadata:    f.Item.Metadata,
			Namespace:   o.namespace,
			SourceScore: o.score,
			FusedScore:  f.Score,
		})
	}

	results := make([]Result, 0, len(fused))
	for _, ns := range namespaceOrder {
		results = append(results, byNamespace[ns]...)
	}
	return results
}

// Contents returns the result texts in order.
func Contents(results []Result) []string {
	out := make([]string, len(results))
	for i, res := range results {
		out[i] = res.Content
	}
	return out
}
