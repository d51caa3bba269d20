package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-idempotent-orders/internal/config"
	"github.com/tbourn/go-idempotent-orders/internal/repo"
	"github.com/tbourn/go-idempotent-orders/internal/sysutil"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade database schemas",
		Long: `Create or upgrade the SQLite tables for orders, products and idempotency
records. With IDEMPOTENCY_STORE=postgres the embedded Postgres migrations are
applied to DATABASE_URL as well.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())

			db, err := repo.OpenSQLite(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open sqlite %q: %w", cfg.DBPath, err)
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}

			if err := migrateSchemas(cfg, db); err != nil {
				return err
			}
			logger.Info().Str("db_path", cfg.DBPath).Str("idempotency_store", cfg.Idempotency.Store).Msg("migrations applied")
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
