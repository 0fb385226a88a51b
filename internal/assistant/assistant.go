// Package assistant wires classification, query rewriting and scoped
// retrieval into the request pipeline behind the writing assistant.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/scribe/internal/llm"
	"github.com/fyrsmithlabs/scribe/internal/query"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const tracerName = "scribe.assistant"

// Completion temperatures.
const (
	AnswerTemperature    = 0.4
	SummarizeTemperature = 0.2
	GenerateTemperature  = 0.7
	MaxTemperature       = 2.0
)

// ErrInvalidRequest is returned for blank queries, missing document ids and
// out-of-range temperatures.
var ErrInvalidRequest = errors.New("invalid assistant request")

// Classifier decides intent and scope.
type Classifier interface {
	Classify(ctx context.Context, q string) (query.Classification, error)
}

// Rewriter expands a question into phrasings for retrieval.
type Rewriter interface {
	Rewrite(ctx context.Context, q string, scope retrieval.Scope) ([]string, error)
}

// Retriever runs scoped retrievals.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]retrieval.Result, error)
}

// Recaller returns long-term memories of a conversation.
type Recaller interface {
	RecallTexts(ctx context.Context, q, subjectID, conversationID string, k int) ([]string, error)
}

// Request is one user query in the context of a document.
type Request struct {
	Query      string
	DocumentID string

	// SectionID is the section being edited. Optional.
	SectionID string

	// ThreadID enables recall of conversation memories in Answer. Optional.
	ThreadID string

	// TopK overrides the retriever's result cap when positive.
	TopK int
}

// Retrieval is the outcome of ClassifyAndRetrieve.
type Retrieval struct {
	Classification query.Classification

	// Scope is the scope searched. It differs from the classified scope
	// when a section question arrives without a section id.
	Scope retrieval.Scope

	// Queries are the phrasings searched, original first. Empty when the
	// request needed no retrieval.
	Queries []string

	Results []retrieval.Result
}

// Found reports whether any supporting content was retrieved.
func (r *Retrieval) Found() bool {
	return r != nil && len(r.Results) > 0
}

// Contents returns the retrieved texts in order.
func (r *Retrieval) Contents() []string {
	if r == nil {
		return nil
	}
	return retrieval.Contents(r.Results)
}

// Answer is the reply to a request. Grounded is false when the intent did
// not call for retrieval and the query was completed as a writing
// instruction instead.
type Answer struct {
	Text      string
	Grounded  bool
	Retrieval *Retrieval
}

// Assistant runs the pipeline.
type Assistant struct {
	classifier Classifier
	rewriter   Rewriter
	retriever  Retriever
	completer  llm.Completer
	memory     Recaller
	logger     *zap.Logger
}

// Option configures an Assistant.
type Option func(*Assistant)

// WithMemory enables memory recall in Answer.
func WithMemory(m Recaller) Option {
	return func(a *Assistant) {
		a.memory = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Assistant) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Assistant.
func New(classifier Classifier, rewriter Rewriter, retriever Retriever, completer llm.Completer, opts ...Option) (*Assistant, error) {
	if classifier == nil || rewriter == nil || retriever == nil || completer == nil {
		return nil, errors.New("classifier, rewriter, retriever and completer are required")
	}
	a := &Assistant{
		classifier: classifier,
		rewriter:   rewriter,
		retriever:  retriever,
		completer:  completer,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func validate(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		return fmt.Errorf("%w: document id is required", ErrInvalidRequest)
	}
	return nil
}

// ClassifyAndRetrieve classifies the query and, when it needs document
// content, rewrites it and retrieves at the classified scope. A section
// scope without a section id is widened to the document.
func (a *Assistant) ClassifyAndRetrieve(ctx context.Context, req Request) (*Retrieval, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Assistant.ClassifyAndRetrieve")
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", req.DocumentID))

	cls, err := a.classifier.Classify(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("classifying query: %w", err)
	}
	out := &Retrieval{Classification: cls, Scope: cls.Scope, Results: []retrieval.Result{}}
	span.SetAttributes(
		attribute.String("intent", string(cls.Intent)),
		attribute.String("scope", string(cls.Scope)),
	)
	if !cls.NeedsRetrieval() {
		a.logger.Debug("query needs no retrieval", zap.String("intent", string(cls.Intent)))
		return out, nil
	}

	if out.Scope == retrieval.ScopeSection && strings.TrimSpace(req.SectionID) == "" {
		a.logger.Debug("no section id, widening scope to document")
		out.Scope = retrieval.ScopeDocument
	}

	queries, err := a.rewriter.Rewrite(ctx, req.Query, out.Scope)
	if err != nil {
		return nil, fmt.Errorf("rewriting query: %w", err)
	}
	out.Queries = queries

	rreq := retrieval.Request{
		Queries:    queries,
		Scope:      out.Scope,
		DocumentID: req.DocumentID,
		TopK:       req.TopK,
	}
	if out.Scope == retrieval.ScopeSection {
		rreq.SectionID = req.SectionID
	}
	results, err := a.retriever.Retrieve(ctx, rreq)
	if err != nil {
		return nil, fmt.Errorf("retrieving: %w", err)
	}
	out.Results = results

	span.SetAttributes(attribute.Int("results", len(results)))
	a.logger.Info("retrieval complete",
		zap.String("document_id", req.DocumentID),
		zap.String("intent", string(cls.Intent)),
		zap.String("scope", string(out.Scope)),
		zap.Bool("failed_closed", cls.FailedClosed),
		zap.Int("queries", len(queries)),
		zap.Int("results", len(results)))
	return out, nil
}

// Answer retrieves for the query and answers it from the retrieved passages
// only. When nothing is found the model is told so rather than left to
// guess. Edit and generate intents skip the passages prompt and complete
// the query directly at GenerateTemperature.
func (a *Assistant) Answer(ctx context.Context, req Request) (*Answer, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "Assistant.Answer")
	defer span.End()

	ret, err := a.ClassifyAndRetrieve(ctx, req)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("intent", string(ret.Classification.Intent)))

	if !ret.Classification.NeedsRetrieval() {
		text, err := a.Generate(ctx, a.notes(ctx, req)+req.Query, GenerateTemperature)
		if err != nil {
			return nil, fmt.Errorf("generating: %w", err)
		}
		return &Answer{Text: strings.TrimSpace(text), Retrieval: ret}, nil
	}

	passages := noPassages
	if ret.Found() {
		passages = strings.Join(ret.Contents(), "\n\n")
	}

	prompt := fmt.Sprintf(answerPrompt, a.notes(ctx, req), passages, req.Query)
	text, err := a.completer.Complete(ctx, prompt, AnswerTemperature)
	if err != nil {
		return nil, fmt.Errorf("answering: %w", err)
	}
	span.SetAttributes(attribute.Bool("found", ret.Found()))
	return &Answer{Text: strings.TrimSpace(text), Grounded: true, Retrieval: ret}, nil
}

// notes renders recalled conversation memories, or nothing.
func (a *Assistant) notes(ctx context.Context, req Request) string {
	if a.memory == nil || strings.TrimSpace(req.ThreadID) == "" {
		return ""
	}
	texts, err := a.memory.RecallTexts(ctx, req.Query, req.DocumentID, req.ThreadID, 0)
	if err != nil {
		a.logger.Warn("memory recall failed", zap.Error(err))
		return ""
	}
	if len(texts) == 0 {
		return ""
	}
	return fmt.Sprintf(notesBlock, "- "+strings.Join(texts, "\n- "))
}

// Generate completes prompt at the given temperature.
func (a *Assistant) Generate(ctx context.Context, prompt string, temperature float64) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	if temperature < 0 || temperature > MaxTemperature {
		return "", fmt.Errorf("%w: temperature %.2f outside [0, %.1f]", ErrInvalidRequest, temperature, MaxTemperature)
	}
	return a.completer.Complete(ctx, prompt, temperature)
}

// Summarize condenses text without adding information.
func (a *Assistant) Summarize(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is required", ErrInvalidRequest)
	}
	return a.completer.Complete(ctx, fmt.Sprintf(summarizePrompt, text), SummarizeTemperature)
}
