package orchestrator

import (
	"context"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// StaleQueuedMessage is written to records failed by the sweep.
const StaleQueuedMessage = "queued too long"

// Sweeper fails records stuck in queued, for example jobs whose in-memory
// queue entry was lost on restart.
type Sweeper struct {
	store    domain.JobStore
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	logger   infra.Logger
}

// NewSweeper returns a sweeper that runs every interval and fails records
// queued for longer than maxAge.
func NewSweeper(store domain.JobStore, maxAge, interval time.Duration, logger infra.Logger) *Sweeper {
	if maxAge <= 0 {
		maxAge = 10 * time.Minute
	}
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Sweeper{
		store:    store,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		logger:   infra.Component(logger, "sweeper"),
	}
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns how many records were failed.
// Errors are logged.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.maxAge)
	n, err := s.store.FailStaleQueued(ctx, cutoff, StaleQueuedMessage)
	if err != nil {
		s.logger.Error().Err(err).Msg("sweeper: sweep failed")
		return 0
	}
	if n > 0 {
		s.logger.Warn().Int64("failed", n).Time("cutoff", cutoff).Msg("sweeper: failed stale queued jobs")
	}
	return n
}

// Reloader refreshes a credential pool.
type Reloader interface {
	Reload(ctx context.Context) error
}

// RefreshCredentials reloads the pool every interval until ctx is done.
func RefreshCredentials(ctx context.Context, r Reloader, interval time.Duration, logger infra.Logger) {
	if interval <= 0 {
		return
	}
	log := infra.Component(logger, "credential-refresher")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Reload(ctx); err != nil {
				log.Warn().Err(err).Msg("credentials: reload failed")
			}
		}
	}
}
