package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
	"github.com/JonMunkholm/catalogimport/internal/config"
	"github.com/JonMunkholm/catalogimport/internal/core"
	"github.com/JonMunkholm/catalogimport/internal/database"
)

type catalogTarget interface {
	core.Catalog
	core.CommitRecorder
}

func newCommitCmd() *cobra.Command {
	var (
		overrides []string
		defaults  []string
		mode      string
		strategy  string
		vendor    string
		dryRun    bool
	)

	cmd := &cobra.Command{
		Use:   "commit FILE",
		Short: "Stage a file and commit its valid rows to the catalog database",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := core.ParseCommitMode(mode)
			if err != nil {
				return err
			}
			ms, err := core.ParseMatchStrategy(strategy)
			if err != nil {
				return err
			}
			defs, err := parseDefaults(defaults)
			if err != nil {
				return err
			}

			var target catalogTarget = catalog.NewMemory()
			if !dryRun {
				pg, closeDB, err := openCatalog(cmd.Context())
				if err != nil {
					return err
				}
				defer closeDB()
				target = pg
			}

			sf, err := stageFile(cmd.Context(), args[0], vendor, overrides, target, target)
			if err != nil {
				return err
			}

			ctx := core.ContextWithClient(cmd.Context(), "", "importctl")
			report, err := sf.service.Commit(ctx, sf.result.ImportID, core.CommitOptions{
				Mode:     m,
				Strategy: ms,
				Defaults: defs,
			})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	cmd.Flags().StringArrayVar(&overrides, "map", nil, "Override a column mapping as column=field (repeatable)")
	cmd.Flags().StringArrayVar(&defaults, "default", nil, "Commit default as field=value (repeatable)")
	cmd.Flags().StringVar(&mode, "mode", string(core.ModeCreate), "Commit mode: create, update or upsert")
	cmd.Flags().StringVar(&strategy, "strategy", "", "Match strategy: external_id, internal_id, composite, legacy_ref or none")
	cmd.Flags().StringVar(&vendor, "vendor", core.DefaultScope, "Owner scope to commit into")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Commit into an empty in-memory catalog instead of the database")
	return cmd
}

// openCatalog connects to the database named by DATABASE_URL.
func openCatalog(ctx context.Context) (*catalog.Postgres, func(), error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, nil, err
	}

	pg := catalog.NewPostgres(pool)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pg, pool.Close, nil
}

func parseDefaults(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid --default %q: want field=value", p)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

