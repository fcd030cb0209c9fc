package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

func newErrorsCmd() *cobra.Command {
	var (
		overrides []string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "errors FILE",
		Short: "Write the invalid rows of a file as CSV with an _errors column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mem := catalog.NewMemory()
			sf, err := stageFile(cmd.Context(), args[0], "", overrides, mem, mem)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}

			n, err := sf.service.ExportErrors(cmd.Context(), sf.result.ImportID, w)
			if err != nil {
				return err
			}
			slog.Info("exported invalid rows", "file", args[0], "rows", n, "total", sf.result.Stats.TotalRows)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&overrides, "map", nil, "Override a column mapping as column=field (repeatable)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Write to this file instead of stdout")
	return cmd
}
