package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vladislavdragonenkov/streamflow/internal/app"
	"github.com/vladislavdragonenkov/streamflow/internal/storage/postgres"
)

const migrateTimeout = 30 * time.Second

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage PostgreSQL schema migrations",
	}
	cmd.PersistentFlags().StringVar(&dsn, "dsn", "", "PostgreSQL DSN (fallback: POSTGRES_DSN)")

	withStore := func(cmd *cobra.Command, fn func(ctx context.Context, store *postgres.Store) error) error {
		resolved, err := resolveDSN(dsn)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), migrateTimeout)
		defer cancel()

		store, err := postgres.Open(ctx, resolved)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(ctx, store)
	}

	printVersion := func(ctx context.Context, cmd *cobra.Command, store *postgres.Store, action string) error {
		v, err := store.MigrationVersion(ctx)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s ok: version=%d\n", action, v)
		return err
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
					if err := store.MigrateUp(ctx); err != nil {
						return err
					}
					return printVersion(ctx, cmd, store, "migrate up")
				})
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
					if err := store.MigrateDown(ctx); err != nil {
						return err
					}
					return printVersion(ctx, cmd, store, "migrate down")
				})
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withStore(cmd, func(ctx context.Context, store *postgres.Store) error {
					return printVersion(ctx, cmd, store, "migrate version")
				})
			},
		},
	)
	return cmd
}

func resolveDSN(flagValue string) (string, error) {
	if dsn := strings.TrimSpace(flagValue); dsn != "" {
		return dsn, nil
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		return "", err
	}
	if dsn := strings.TrimSpace(cfg.PostgresDSN); dsn != "" {
		return dsn, nil
	}
	return "", errors.New("POSTGRES_DSN (or --dsn) is required")
}
