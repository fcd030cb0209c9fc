package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/logging"
)

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	cmd := &cobra.Command{
		Use:           "importctl",
		Short:         "Stage, inspect and commit catalog import files",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), logLevel, logFormat))
		},
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format: text or json")

	cmd.AddCommand(newInspectCmd(), newErrorsCmd(), newCommitCmd())
	return cmd
}
