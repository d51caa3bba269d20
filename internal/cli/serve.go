package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-idempotent-orders/internal/config"
	httpapi "github.com/tbourn/go-idempotent-orders/internal/http"
	"github.com/tbourn/go-idempotent-orders/internal/http/middleware"
	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
	"github.com/tbourn/go-idempotent-orders/internal/observability"
	"github.com/tbourn/go-idempotent-orders/internal/sysutil"
	"github.com/tbourn/go-idempotent-orders/internal/worker"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	SkipMigrate bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the HTTP API.

Configuration comes from the environment (see .env.example). The server stops
on SIGINT/SIGTERM, giving in-flight requests SHUTDOWN_GRACE to finish.

Example:
  orderd serve
  IDEMPOTENCY_STORE=redis REDIS_ADDR=localhost:6379 orderd serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.SkipMigrate, "skip-migrate", false, "do not create or upgrade schemas on start")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, nil)
	gin.SetMode(cfg.GinMode)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, Version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownOTel(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	st, err := OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing stores")
		}
	}()

	if !opts.SkipMigrate {
		if err := migrateSchemas(cfg, st.DB); err != nil {
			return err
		}
	}
	if err := observability.InstrumentGORM(st.DB); err != nil {
		return err
	}

	guard := newGuard(cfg, st.Idem,
		idempotency.WithLogger(logger),
		idempotency.WithObserver(middleware.ObserveIdempotency),
	)

	r := gin.New()
	httpapi.RegisterRoutes(r, st.DB, guard, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	startSweeper(workerCtx, cfg, st.Idem, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("idempotency_store", cfg.Idempotency.Store).
			Str("version", Version).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Dur("grace", cfg.ShutdownGrace).Msg("shutting down server")
	cancelWorkers()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
		return err
	}
	logger.Info().Msg("server exited")
	return nil
}

// startSweeper launches the eviction worker for stores that need one.
func startSweeper(ctx context.Context, cfg config.Config, store idempotency.Store, logger zerolog.Logger) bool {
	p, ok := store.(idempotency.Purger)
	if !ok || cfg.Idempotency.SweepInterval <= 0 {
		return false
	}
	go worker.NewSweeper(p, cfg.Idempotency.SweepInterval, logger).Start(ctx)
	return true
}
