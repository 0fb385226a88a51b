// Scribe is a retrieval-augmented writing assistant.
//
// It indexes document sections into a vector store, builds a summary
// hierarchy per document, and answers questions grounded in the indexed
// content. Indexing can run inline or in workers fed over NATS.
//
// Usage:
//
//	# Index a section from a JSON file
//	scribe save-section --file intro.json
//
//	# Ask a question about a document
//	scribe ask --document-id handbook "What does chapter two conclude?"
//
//	# Run an indexing worker
//	scribe worker
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "scribe",
		Short: "Retrieval-augmented writing assistant",
		Long: `scribe indexes the sections of your documents and answers questions
grounded in them.

Configuration is read from ~/.config/scribe/config.yaml and SCRIBE_*
environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/scribe/config.yaml)")

	root.AddCommand(
		newSaveSectionCmd(),
		newBuildIndexCmd(),
		newRetrieveCmd(),
		newAskCmd(),
		newGenerateCmd(),
		newSummarizeCmd(),
		newMemoryCmd(),
		newPublishSectionCmd(),
		newWorkerCmd(),
		newRedactCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "scribe by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
