package main

import (
	"fmt"

	"github.com/fyrsmithlabs/scribe/internal/config"
	"github.com/fyrsmithlabs/scribe/internal/redact"
	"github.com/spf13/cobra"
)

func newRedactCmd() *cobra.Command {
	var report bool
	cmd := &cobra.Command{
		Use:   "redact [file]",
		Short: "Redact secrets from a file or stdin",
		Long: `Print the text with detected secrets replaced by [REDACTED:<rule>]
markers. This is the same scrubbing applied to indexed sections and
memories when redaction is enabled.

Examples:
  scribe redact draft.md
  cat notes.txt | scribe redact -
  scribe redact --report draft.md`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}
			data, err := readInput(path, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := config.LoadWithFile(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			r, err := redact.New(redact.ConfigFromSettings(cfg.Redaction), nil)
			if err != nil {
				return err
			}
			result, err := r.Redact(cmd.Context(), string(data))
			if err != nil {
				return err
			}
			if report {
				return printJSON(cmd.OutOrStdout(), result)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), result.Text)
			return err
		},
	}
	cmd.Flags().BoolVar(&report, "report", false, "print the findings instead of the text")
	return cmd
}
