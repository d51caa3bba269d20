package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-idempotent-orders/internal/config"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
	"github.com/tbourn/go-idempotent-orders/internal/sysutil"
	"github.com/tbourn/go-idempotent-orders/internal/worker"
)

// NewPurgeCommand creates the purge command.
func NewPurgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired idempotency records once",
		Long: `Delete expired idempotency records from the configured store and exit.
Useful from cron when the server runs with IDEMPOTENCY_SWEEP_INTERVAL=0.
Redis evicts expired keys itself, so purge is a no-op there.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, cmd.ErrOrStderr())

			st, err := OpenStores(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			p, ok := st.Idem.(idempotency.Purger)
			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s store evicts expired records itself\n", cfg.Idempotency.Store)
				return nil
			}
			n, err := worker.NewSweeper(p, cfg.Idempotency.SweepInterval, logger).RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired idempotency records\n", n)
			return nil
		},
	}
}
