package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/scribe/internal/assistant"
	"github.com/fyrsmithlabs/scribe/internal/events"
	scribehttp "github.com/fyrsmithlabs/scribe/internal/http"
	"github.com/fyrsmithlabs/scribe/internal/indexing"
	"github.com/fyrsmithlabs/scribe/internal/logging"
	"github.com/fyrsmithlabs/scribe/internal/retrieval"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSaveSectionCmd() *cobra.Command {
	var files []string
	cmd := &cobra.Command{
		Use:   "save-section",
		Short: "Index one or more sections",
		Long: `Index sections read from JSON files. Each file holds a section object
or an array of them:

  {"id": "intro", "document_id": "handbook", "title": "Intro", "content": "..."}

Long sections are summarized. The updated sections, including any new
summary, are printed so callers can persist them.

Examples:
  scribe save-section --file intro.json
  cat intro.json | scribe save-section --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sections, err := readSections(files, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				ix, err := a.indexer()
				if err != nil {
					return err
				}
				for i := range sections {
					ctx := logging.WithSectionID(logging.WithDocumentID(cmd.Context(), sections[i].DocumentID), sections[i].ID)
					if err := ix.SaveSection(ctx, &sections[i]); err != nil {
						return fmt.Errorf("section %s: %w", sections[i].ID, err)
					}
					a.logger.Info(ctx, "section saved", zap.Int("num_words", sections[i].NumWords))
				}
				return printJSON(cmd.OutOrStdout(), sections)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "section JSON file, - for stdin (repeatable)")
	return cmd
}

func newBuildIndexCmd() *cobra.Command {
	var (
		documentID string
		files      []string
	)
	cmd := &cobra.Command{
		Use:   "build-index",
		Short: "Build the summary hierarchy of a document",
		Long: `Rebuild the hierarchical index of a document from all of its sections.
Previous hierarchy entries of the document are replaced.

Examples:
  scribe build-index --document-id handbook --file sections.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(documentID) == "" {
				return fmt.Errorf("%w: --document-id is required", errMissingInput)
			}
			sections, err := readSections(files, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				ix, err := a.indexer()
				if err != nil {
					return err
				}
				ctx := logging.WithDocumentID(cmd.Context(), documentID)
				report, err := ix.BuildHierarchy(ctx, documentID, sections)
				if err != nil {
					return err
				}
				out := map[string]any{
					"document_id": report.DocumentID,
					"leaves":      report.Leaves,
					"levels":      report.Levels,
					"summaries":   report.Summaries,
					"partial":     report.Partial(),
				}
				if report.Err != nil {
					out["error"] = report.Err.Error()
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document-id", "", "document to rebuild")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "section JSON file, - for stdin (repeatable)")
	return cmd
}

// resultView is the printed form of a retrieval hit.
type resultView struct {
	Namespace string         `json:"namespace"`
	Score     float64        `json:"score"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func viewResults(results []retrieval.Result) []resultView {
	views := make([]resultView, len(results))
	for i, r := range results {
		views[i] = resultView{
			Namespace: string(r.Namespace),
			Score:     r.FusedScore,
			Content:   r.Content,
			Metadata:  r.Metadata,
		}
	}
	return views
}

func newRetrieveCmd() *cobra.Command {
	var (
		documentID string
		sectionID  string
		scope      string
		topK       int
		rewrite    bool
	)
	cmd := &cobra.Command{
		Use:   "retrieve <query>",
		Short: "Search indexed content at an explicit scope",
		Long: `Run a scoped multi-index search and print the fused results.

Scope is section, document or global. With --rewrite the query is first
expanded into alternative phrasings by the completion model.

Examples:
  scribe retrieve --document-id handbook "onboarding checklist"
  scribe retrieve --scope section --document-id handbook --section-id intro "tone"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := retrieval.ParseScope(scope)
			if err != nil {
				return err
			}
			q := strings.Join(args, " ")
			return withApp(cmd.Context(), func(a *app) error {
				retriever, err := a.retriever()
				if err != nil {
					return err
				}
				queries := []string{q}
				if rewrite {
					rw, err := a.rewriter()
					if err != nil {
						return err
					}
					if queries, err = rw.Rewrite(cmd.Context(), q, s); err != nil {
						return err
					}
				}
				results, err := retriever.Retrieve(cmd.Context(), retrieval.Request{
					Queries:    queries,
					Scope:      s,
					DocumentID: documentID,
					SectionID:  sectionID,
					TopK:       topK,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), viewResults(results))
			})
		},
	}
	cmd.Flags().StringVar(&documentID, "document-id", "", "document to search")
	cmd.Flags().StringVar(&sectionID, "section-id", "", "section to search (section scope)")
	cmd.Flags().StringVar(&scope, "scope", string(retrieval.ScopeDocument), "section, document or global")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum results (0 uses the configured default)")
	cmd.Flags().BoolVar(&rewrite, "rewrite", false, "expand the query before searching")
	return cmd
}

func newAskCmd() *cobra.Command {
	var (
		req      assistant.Request
		remember bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer a question grounded in a document",
		Long: `Classify the question, retrieve supporting content at the inferred scope
and answer from it.

With --thread-id, memories of that conversation are recalled into the
prompt. Add --remember to store the exchange as a new memory.

Examples:
  scribe ask --document-id handbook "Who approves expenses?"
  scribe ask --document-id handbook --thread-id t1 --remember "And above 1000?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Query = strings.Join(args, " ")
			if remember && req.ThreadID == "" {
				return fmt.Errorf("%w: --remember needs --thread-id", errMissingInput)
			}
			return withApp(cmd.Context(), func(a *app) error {
				asst, err := a.assistant()
				if err != nil {
					return err
				}
				ctx := logging.WithThreadID(logging.WithDocumentID(cmd.Context(), req.DocumentID), req.ThreadID)
				answer, err := asst.Answer(ctx, req)
				if err != nil {
					return err
				}
				if remember {
					mem, err := a.memory()
					if err != nil {
						return err
					}
					exchange := fmt.Sprintf("Q: %s\nA: %s", req.Query, answer.Text)
					if _, err := mem.Store(ctx, exchange, req.DocumentID, req.ThreadID); err != nil {
						a.logger.Warn(ctx, "failed to remember exchange", zap.Error(err))
					}
				}
				if !asJSON {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), answer.Text)
					return err
				}
				out := map[string]any{
					"answer":   answer.Text,
					"grounded": answer.Grounded,
					"intent":   string(answer.Retrieval.Classification.Intent),
					"scope":    string(answer.Retrieval.Scope),
				}
				if len(answer.Retrieval.Queries) > 0 {
					out["queries"] = answer.Retrieval.Queries
				}
				if answer.Retrieval.Found() {
					out["results"] = viewResults(answer.Retrieval.Results)
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&req.DocumentID, "document-id", "", "document the question is about")
	cmd.Flags().StringVar(&req.SectionID, "section-id", "", "section being edited")
	cmd.Flags().StringVar(&req.ThreadID, "thread-id", "", "conversation for memory recall")
	cmd.Flags().IntVar(&req.TopK, "top-k", 0, "maximum supporting passages")
	cmd.Flags().BoolVar(&remember, "remember", false, "store the exchange in memory")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the answer with its retrieval as JSON")
	return cmd
}

func newGenerateCmd() *cobra.Command {
	var temperature float64
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Complete a prompt without retrieval",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				asst, err := a.assistant()
				if err != nil {
					return err
				}
				text, err := asst.Generate(cmd.Context(), strings.Join(args, " "), temperature)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
	cmd.Flags().Float64Var(&temperature, "temperature", 0.7, "sampling temperature (0 to 2)")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize a text file",
		Long: `Summarize plain text read from a file.

Examples:
  scribe summarize --file notes.txt
  pbpaste | scribe summarize --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return fmt.Errorf("%w: --file is required", errMissingInput)
			}
			data, err := readInput(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				asst, err := a.assistant()
				if err != nil {
					return err
				}
				text, err := asst.Summarize(cmd.Context(), string(data))
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "text file, - for stdin")
	return cmd
}

func newMemoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Store and recall conversation memories",
	}

	var subject, thread string
	var k int
	storeCmd := &cobra.Command{
		Use:   "store <text>",
		Short: "Store a memory",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				mem, err := a.memory()
				if err != nil {
					return err
				}
				id, err := mem.Store(cmd.Context(), strings.Join(args, " "), subject, thread)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			})
		},
	}
	recallCmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Recall the memories most similar to a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				mem, err := a.memory()
				if err != nil {
					return err
				}
				records, err := mem.Recall(cmd.Context(), strings.Join(args, " "), subject, thread, k)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), records)
			})
		},
	}
	for _, c := range []*cobra.Command{storeCmd, recallCmd} {
		c.Flags().StringVar(&subject, "document-id", "", "subject of the conversation")
		c.Flags().StringVar(&thread, "thread-id", "", "conversation id")
	}
	recallCmd.Flags().IntVarP(&k, "k", "k", 0, "number of memories (0 uses the configured default)")

	cmd.AddCommand(storeCmd, recallCmd)
	return cmd
}

func newPublishSectionCmd() *cobra.Command {
	var (
		files []string
		url   string
	)
	cmd := &cobra.Command{
		Use:   "publish-section",
		Short: "Queue sections for indexing by workers",
		Long: `Publish saved sections on NATS. Running workers index them and report
the outcome on the indexed subject.

Examples:
  scribe publish-section --file intro.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sections, err := readSections(files, cmd.InOrStdin())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app) error {
				nc, err := events.Connect(natsURL(a, url), a.zapLogger())
				if err != nil {
					return err
				}
				defer nc.Close()
				pub, err := events.NewPublisher(nc, events.ConfigFromSettings(a.cfg.Events), a.zapLogger().Named("events"))
				if err != nil {
					return err
				}
				for i := range sections {
					if err := pub.PublishSectionSaved(cmd.Context(), &sections[i]); err != nil {
						return fmt.Errorf("section %s: %w", sections[i].ID, err)
					}
				}
				if err := nc.Flush(); err != nil {
					return fmt.Errorf("flush: %w", err)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "published %d section(s)\n", len(sections))
				return err
			})
		},
	}
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, "section JSON file, - for stdin (repeatable)")
	cmd.Flags().StringVar(&url, "nats-url", "", "NATS server URL (overrides config)")
	return cmd
}

func newWorkerCmd() *cobra.Command {
	var url, metricsAddr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Index sections published on NATS until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				ctx := cmd.Context()
				ix, err := a.indexer()
				if err != nil {
					return err
				}
				nc, err := events.Connect(natsURL(a, url), a.zapLogger())
				if err != nil {
					return err
				}
				defer nc.Close()

				reg := prometheus.NewRegistry()
				reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
				metrics, err := events.NewMetrics(reg)
				if err != nil {
					return err
				}

				worker, err := events.NewWorker(nc, ix, events.ConfigFromSettings(a.cfg.Events), a.zapLogger().Named("events"), events.WithMetrics(metrics))
				if err != nil {
					return err
				}

				if metricsAddr == "" {
					metricsAddr = a.cfg.Events.MetricsAddr
				}
				if metricsAddr != "" {
					srv, err := scribehttp.NewServer(reg, workerChecks(a, nc), a.zapLogger().Named("http"), scribehttp.Config{Addr: metricsAddr})
					if err != nil {
						return err
					}
					go func() {
						if err := srv.Start(); err != nil {
							a.logger.Error(ctx, "ops server failed", zap.Error(err))
						}
					}()
					defer func() {
						shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
						defer cancel()
						if err := srv.Shutdown(shutdownCtx); err != nil {
							a.logger.Warn(shutdownCtx, "ops server shutdown", zap.Error(err))
						}
					}()
				}

				a.logger.Info(ctx, "worker running", zap.String("nats_url", nc.ConnectedUrl()))
				err = worker.Run(ctx)
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				a.logger.Info(context.Background(), "worker shutdown complete")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&url, "nats-url", "", "NATS server URL (overrides config)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /health, /ready and /metrics on this address")
	return cmd
}

// workerChecks reports the worker ready while NATS is connected and the
// vector store answers.
func workerChecks(a *app, nc *nats.Conn) map[string]scribehttp.CheckFunc {
	return map[string]scribehttp.CheckFunc{
		"nats": func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats %s", status)
			}
			return nil
		},
		"vectorstore": func(ctx context.Context) error {
			_, err := a.store.ListCollections(ctx)
			return err
		},
	}
}

func natsURL(a *app, override string) string {
	if override != "" {
		return override
	}
	return a.cfg.Events.URL
}

var _ events.SectionSaver = (*indexing.Indexer)(nil)
