package query

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/llm"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// DefaultVariants is the number of alternative phrasings requested.
const DefaultVariants = 4

const rewritePrompt = `You are an AI language model assistant. Your task is to generate %d different versions of the given user question to retrieve relevant %s from a vector database. By generating multiple perspectives on the user question, your goal is to help the user overcome some of the limitations of the distance-based similarity search. Provide these alternative questions separated by newlines. Original question: %s
Output (%d queries):`

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\(?\d+[.):]|[a-zA-Z][.)])\s+`)

// Rewriter expands a question into several phrasings.
type Rewriter struct {
	completer llm.Completer
	variants  int
	logger    *zap.Logger
}

// NewRewriter returns a Rewriter asking for variants phrasings. variants <= 0
// means DefaultVariants.
func NewRewriter(completer llm.Completer, variants int, logger *zap.Logger) *Rewriter {
	if variants <= 0 {
		variants = DefaultVariants
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{completer: completer, variants: variants, logger: logger}
}

func scopeTarget(scope retrieval.Scope) string {
	switch scope {
	case retrieval.ScopeSection:
		return "passages from the current section of a document"
	case retrieval.ScopeDocument:
		return "passages and section summaries from a document"
	default:
		return "passages, section summaries and high-level overviews from a document"
	}
}

// Rewrite returns query followed by up to the configured number of distinct
// alternative phrasings. A completion failure yields just the query.
func (r *Rewriter) Rewrite(ctx context.Context, query string, scope retrieval.Scope) ([]string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Rewriter.Rewrite")
	defer span.End()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	prompt := fmt.Sprintf(rewritePrompt, r.variants, scopeTarget(scope), query, r.variants)
	raw, err := r.completer.Complete(ctx, prompt, 0)
	if err != nil {
		r.logger.Warn("query rewrite failed, using original query", zap.Error(err))
		return []string{query}, nil
	}

	queries := mergeVariants(query, parseVariants(raw), r.variants)
	span.SetAttributes(attribute.Int("variants", len(queries)-1))
	return queries, nil
}

// parseVariants splits model output into cleaned, non-empty lines.
func parseVariants(raw string) []string {
	var out []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = listMarker.ReplaceAllString(line, "")
		line = strings.TrimSpace(strings.Trim(line, "\"'`"))
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// mergeVariants puts query first and appends up to limit variants that
// differ from everything before them.
func mergeVariants(query string, variants []string, limit int) []string {
	seen := map[string]bool{normalize(query): true}
	out := []string{query}
	for _, v := range variants {
		if len(out)-1 >= limit {
			break
		}
		n := normalize(v)
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, v)
	}
	return out
}
