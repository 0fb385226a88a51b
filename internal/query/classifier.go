// Package query classifies user requests and rewrites questions into
// several phrasings for retrieval.
package query

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/llm"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "scribe.query"

// ErrEmptyQuery is returned for blank queries.
var ErrEmptyQuery = errors.New("query cannot be empty")

// Intent is what the user wants done.
type Intent string

const (
	IntentEdit      Intent = "edit"
	IntentQuestion  Intent = "question"
	IntentGenerate  Intent = "generate"
	IntentSummarize Intent = "summarize"
)

// Classification is the routing decision for a query.
type Classification struct {
	Intent Intent
	Scope  retrieval.Scope

	// FailedClosed is set when the model output was unusable and the
	// broadest retrieval was chosen instead.
	FailedClosed bool

	// Raw is the model output.
	Raw string
}

func (c Classification) IsQuestion() bool {
	return c.Intent == IntentQuestion
}

// NeedsRetrieval reports whether answering requires document content.
func (c Classification) NeedsRetrieval() bool {
	return c.Intent == IntentQuestion || c.Intent == IntentSummarize
}

// failClosed is the classification used when the model cannot be trusted.
func failClosed(raw string) Classification {
	return Classification{Intent: IntentQuestion, Scope: retrieval.ScopeGlobal, FailedClosed: true, Raw: raw}
}

const classifyPrompt = `Classify the user's request about their book or document.

Intents:
- EDIT: change existing text ("Make this paragraph more concise", "Fix the grammar here")
- QUESTION: asks about the content and needs it looked up ("What color are the sleeping bags?", "Who is the main character?")
- GENERATE: write new text ("Write a new scene about the storm")
- SUMMARIZE: condense existing content ("Summarize chapter 3")

Scopes:
- SECTION: only the current section
- DOCUMENT: the whole book or document
- GLOBAL: unclear, or needs both detail and overview

User query: %s

Respond with EXACTLY one line in the format "<INTENT> - scope: <SCOPE>", for example "QUESTION - scope: DOCUMENT". Do not add anything else.

Response:`

var classificationPattern = regexp.MustCompile(`^(EDIT|QUESTION|GENERATE|SUMMARIZE)\s*-\s*SCOPE\s*:\s*(SECTION|DOCUMENT|GLOBAL)$`)

// ParseClassification parses model output. It accepts surrounding quotes,
// backticks and a trailing period in any case. ok is false when the output
// matches no known literal.
func ParseClassification(raw string) (Classification, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"'`")
	s = strings.TrimSuffix(strings.TrimSpace(s), ".")
	s = strings.ToUpper(strings.TrimSpace(s))

	if s == "NOT_QUESTION" {
		return Classification{Intent: IntentGenerate, Scope: retrieval.ScopeSection, Raw: raw}, true
	}
	m := classificationPattern.FindStringSubmatch(s)
	if m == nil {
		return Classification{}, false
	}
	return Classification{
		Intent: Intent(strings.ToLower(m[1])),
		Scope:  retrieval.Scope(strings.ToLower(m[2])),
		Raw:    raw,
	}, true
}

// Classifier routes queries with one deterministic completion.
type Classifier struct {
	completer llm.Completer
	logger    *zap.Logger
}

// NewClassifier returns a Classifier.
func NewClassifier(completer llm.Completer, logger *zap.Logger) *Classifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{completer: completer, logger: logger}
}

// Classify returns the intent and scope of query. A completion error or
// unrecognized output yields a fail-closed classification, not an error.
func (c *Classifier) Classify(ctx context.Context, query string) (Classification, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Classifier.Classify")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return Classification{}, ErrEmptyQuery
	}

	raw, err := c.completer.Complete(ctx, fmt.Sprintf(classifyPrompt, query), 0)
	if err != nil {
		c.logger.Warn("classification failed, using broadest scope", zap.Error(err))
		span.SetAttributes(attribute.Bool("failed_closed", true))
		return failClosed(""), nil
	}

	cls, ok := ParseClassification(raw)
	if !ok {
		c.logger.Warn("unrecognized classification, using broadest scope", zap.String("raw", raw))
		cls = failClosed(raw)
	}
	span.SetAttributes(
		attribute.String("intent", string(cls.Intent)),
		attribute.String("scope", string(cls.Scope)),
		attribute.Bool("failed_closed", cls.FailedClosed),
	)
	return cls, nil
}
