package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hitoshi/mediasync/internal/config"
	"github.com/hitoshi/mediasync/internal/database"
)

func newMigrateCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the configured SQL store",
		Long: `Apply every pending migration for store_driver=postgres or sqlite.

The sync command applies migrations on start as well; this command is useful
for preparing a database ahead of the first run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := st.cfg
			if cfg.StoreDriver != config.StorePostgres && cfg.StoreDriver != config.StoreSQLite {
				warn(cmd.OutOrStdout(), "store_driver=%s has no schema to migrate", cfg.StoreDriver)
				return nil
			}

			log := st.consoleLogger(cmd.ErrOrStderr())
			log.Info("running database migrations")
			if err := database.RunMigrations(cfg.StoreDriver, cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			ok(cmd.OutOrStdout(), "migrations applied (%s %s)", cfg.StoreDriver, maskDatabaseURL(cfg.DatabaseURL))
			return nil
		},
	}
}
