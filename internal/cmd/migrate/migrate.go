// Package migrate implements the "migrate" sub-command: applying every
// registered plugin's schema (the pgvector extension; per-table DDL happens
// lazily via Store.EnsureTable once module descriptors are known) ahead of
// "serve" (§6 "Persistence schema").
package migrate

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/federated-memory/federated-memory/internal/config"
	registrymigrate "github.com/federated-memory/federated-memory/internal/registry/migrate"

	// Import plugins to trigger init() registration of their migrators.
	_ "github.com/federated-memory/federated-memory/internal/plugin/vector/pgvector"
)

// Command returns the migrate sub-command.
func Command() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply the pgvector extension ahead of serving",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "db-url",
				Sources:  cli.EnvVars("DATABASE_URL"),
				Usage:    "Postgres connection URL",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := config.DefaultConfig()
			cfg.DatabaseURL = cmd.String("db-url")
			cfg.VectorType = "pgvector"
			cfg.VectorMigrateAtStart = true
			ctx = config.WithContext(ctx, &cfg)

			log.Info("Running migrations...")
			if err := registrymigrate.RunAll(ctx); err != nil {
				return err
			}
			log.Info("All migrations completed successfully")
			return nil
		},
	}
}
