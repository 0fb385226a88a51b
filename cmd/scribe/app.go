package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/assistant"
	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/embeddings"
	"github.com/fyrsmithlabs/scribe/internal/indexing"
	"github.com/fyrsmithlabs/scribe/internal/llm"
	"github.com/fyrsmithlabs/scribe/internal/logging"
	"github.com/fyrsmithlabs/scribe/internal/memory"
	"github.com/fyrsmithlabs/scribe/internal/query"
	"github.com/fyrsmithlabs/scribe/internal/raptor"
	"github.com/fyrsmithlabs/scribe/internal/redact"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"github.com/fyrsmithlabs/scribe/internal/telemetry"
	"github.com/fyrsmithlabs/scribe/internal/vectorstore"
	"go.uber.org/zap"
)

// app holds the wired dependencies of one command invocation. The
// completion model is created on first use so commands that never call it
// work without provider credentials.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	embedder  embeddings.Provider
	store     vectorstore.Store

	llmOnce sync.Once
	llm     *llm.Client
	llmErr  error

	// redactor is nil unless redaction is enabled.
	redactor *redact.Redactor
}

// newApp loads configuration and opens logging, telemetry, the embedder and
// the vector store.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid logging config: %w", err)
	}
	// The OTEL log sink needs a provider this binary does not install.
	logCfg.Output.OTEL = false
	logger, err := logging.NewLogger(logCfg, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a := &app{cfg: cfg, logger: logger}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Telemetry, version), logger.Underlying())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetry = tel

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfigFromSettings(cfg.Embeddings), logger.Underlying())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create embedding provider: %w", err)
	}
	a.embedder = embedder

	store, err := vectorstore.NewStore(cfg, embedder, logger.Underlying())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}
	a.store = store

	if cfg.Redaction.Enabled {
		r, err := redact.New(redact.ConfigFromSettings(cfg.Redaction), logger.Underlying().Named("redact"))
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create redactor: %w", err)
		}
		a.redactor = r
	}

	logger.Debug(ctx, "scribe initialized",
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Bool("telemetry", tel.IsEnabled()),
		zap.Bool("telemetry_degraded", tel.Degraded()),
		zap.Bool("redaction", a.redactor != nil))
	return a, nil
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn(context.Background(), "closing vector store", zap.Error(err))
		}
	}
	if a.embedder != nil {
		_ = a.embedder.Close()
	}
	if a.telemetry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *app) zapLogger() *zap.Logger {
	return a.logger.Underlying()
}

func (a *app) completer() (*llm.Client, error) {
	a.llmOnce.Do(func() {
		a.llm, a.llmErr = llm.NewFromSettings(a.cfg.LLM, a.zapLogger().Named("llm"))
	})
	return a.llm, a.llmErr
}

func (a *app) indexer() (*indexing.Indexer, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}
	clusterer := raptor.NewGMMClusterer(raptor.GMMConfigFromSettings(a.cfg.Hierarchy))
	builder, err := raptor.NewBuilder(a.embedder, completer, clusterer, a.zapLogger().Named("raptor"))
	if err != nil {
		return nil, err
	}
	var opts []indexing.Option
	if a.redactor != nil {
		opts = append(opts, indexing.WithScrubber(a.redactor))
	}
	return indexing.NewIndexer(a.store, completer, builder, indexing.ConfigFromSettings(a.cfg), a.zapLogger().Named("indexing"), opts...)
}

func (a *app) retriever() (*retrieval.Retriever, error) {
	return retrieval.New(a.store, retrieval.ConfigFromSettings(a.cfg), a.zapLogger().Named("retrieval"))
}

func (a *app) memory() (*memory.Service, error) {
	var opts []memory.Option
	if a.redactor != nil {
		opts = append(opts, memory.WithScrubber(a.redactor))
	}
	return memory.NewService(a.store, memory.ConfigFromSettings(a.cfg), a.zapLogger().Named("memory"), opts...)
}

func (a *app) rewriter() (*query.Rewriter, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}
	return query.NewRewriter(completer, a.cfg.Retrieval.RewriteCount, a.zapLogger().Named("query")), nil
}

func (a *app) assistant() (*assistant.Assistant, error) {
	completer, err := a.completer()
	if err != nil {
		return nil, err
	}
	retriever, err := a.retriever()
	if err != nil {
		return nil, err
	}
	mem, err := a.memory()
	if err != nil {
		return nil, err
	}
	rewriter, err := a.rewriter()
	if err != nil {
		return nil, err
	}
	return assistant.New(
		query.NewClassifier(completer, a.zapLogger().Named("query")),
		rewriter,
		retriever,
		completer,
		assistant.WithMemory(mem),
		assistant.WithLogger(a.zapLogger().Named("assistant")),
	)
}

// withApp runs fn with a fresh app and closes it afterwards.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

var errMissingInput = errors.New("missing input")
