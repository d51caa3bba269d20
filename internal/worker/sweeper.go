// Package worker runs background maintenance for the service.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-idempotent-orders/internal/idempotency"
)

// Sweeper periodically deletes expired idempotency records from stores that
// do not evict on their own.
type Sweeper struct {
	purger   idempotency.Purger
	interval time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

// NewSweeper returns a Sweeper that purges p every interval.
func NewSweeper(p idempotency.Purger, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		purger:   p,
		interval: interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		now:      time.Now,
	}
}

// Start sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("idempotency sweeper started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("idempotency sweeper stopping")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// RunOnce purges expired records a single time and reports how many went.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	return s.purger.PurgeExpired(ctx, s.now())
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("idempotency sweep failed")
		}
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("purged", n).Msg("expired idempotency records removed")
	}
}
