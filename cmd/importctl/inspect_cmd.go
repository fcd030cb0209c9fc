package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/core"
)

type inspectOutput struct {
	File       string              `json:"file"`
	Size       string              `json:"size"`
	DurationMS int64               `json:"duration_ms"`
	Mapping    []map[string]string `json:"mapping"`
	Stats      core.ImportStats    `json:"stats"`
	Invalid    []core.StagedRow    `json:"invalid_rows,omitempty"`
}

func newInspectCmd() *cobra.Command {
	var (
		overrides []string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "inspect FILE",
		Short: "Stage a file locally and report the inferred mapping and row validity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			mem := catalog.NewMemory()
			sf, err := stageFile(cmd.Context(), args[0], "", overrides, mem, mem)
			if err != nil {
				return err
			}

			out := inspectOutput{
				File:       args[0],
				Size:       humanize.Bytes(uint64(sf.result.ByteSize)),
				DurationMS: time.Since(start).Milliseconds(),
				Mapping:    mappingView(sf.result.Headers, sf.mapping),
				Stats:      sf.result.Stats,
			}
			if limit > 0 && sf.result.Stats.InvalidRows > 0 {
				page, err := sf.service.ListRows(cmd.Context(), sf.result.ImportID, 1, limit, core.FilterInvalid)
				if err != nil {
					return err
				}
				out.Invalid = page.Rows
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringArrayVar(&overrides, "map", nil, "Override a column mapping as column=field (repeatable)")
	cmd.Flags().IntVar(&limit, "invalid", 10, "Number of invalid rows to include")
	return cmd
}
