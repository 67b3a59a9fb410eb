// Package cli implements the sourcefinder command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/logging"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/spf13/cobra"
)

// Version is stamped at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// BuildCLI assembles the root command and its subcommands.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sourcefinder",
		Short: "Submit sequence similarity searches and manage the sourcefinder service",
		Long: `sourcefinder submits BLAST-family similarity searches to a remote search
service and follows them to completion.

Environment:
  SEARCH_BASE_URL   search service (required by search)
  DATABASE_URL      PostgreSQL (required by keys and migrate)`,
		Version:       Version,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(buildSearchCommand())
	rootCmd.AddCommand(buildKeysCommand())
	rootCmd.AddCommand(buildMigrateCommand())

	return rootCmd
}

// withStore runs fn against the configured database.
func withStore(ctx context.Context, stderr io.Writer, fn func(store.Store) error) error {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	_, closer := logging.SetupTo(cfg.Log, stderr)
	defer closer.Close()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Debug("database connected")

	return fn(store.NewPostgresStore(pool))
}
