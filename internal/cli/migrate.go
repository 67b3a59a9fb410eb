package cli

import (
	"fmt"

	"github.com/kiranshivaraju/sourcefinder/internal/config"
	"github.com/kiranshivaraju/sourcefinder/internal/logging"
	"github.com/kiranshivaraju/sourcefinder/internal/store"
	"github.com/spf13/cobra"
)

func buildMigrateCommand() *cobra.Command {
	var dir string
	var down int

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply all pending migrations, or roll back the last N with --down N.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if down < 0 {
				return fmt.Errorf("--down must not be negative")
			}
			cmd.SilenceUsage = true

			cfg, err := config.LoadDatabase()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			_, closer := logging.SetupTo(cfg.Log, cmd.ErrOrStderr())
			defer closer.Close()

			if down > 0 {
				if err := store.RollbackMigrations(cfg.Database.URL, dir, down); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %d migration(s)\n", down)
				return nil
			}

			if err := store.RunMigrations(cfg.Database.URL, dir); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "migrations", "migrations directory")
	cmd.Flags().IntVar(&down, "down", 0, "roll back this many migrations instead of applying")

	return cmd
}
