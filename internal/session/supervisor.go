package session

import (
	"context"
	"log/slog"
	"time"
)

// Supervisor periodically sweeps the registry for idle sessions and drives
// the graceful drain on shutdown.
type Supervisor struct {
	registry *Registry
	interval time.Duration
	drain    time.Duration
	logger   *slog.Logger
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	// SweepInterval is how often idle sessions are checked. Default: 1m.
	SweepInterval time.Duration

	// DrainTimeout bounds the per-session drain during shutdown. Default: 5s.
	DrainTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewSupervisor constructs a Supervisor over the given registry.
func NewSupervisor(registry *Registry, cfg SupervisorConfig) *Supervisor {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		registry: registry,
		interval: cfg.SweepInterval,
		drain:    cfg.DrainTimeout,
		logger:   cfg.Logger,
	}
}

// Run sweeps until ctx is cancelled, then ends all remaining sessions so
// every client receives its session.ended event before the process exits.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("supervisor shutting down, draining sessions", "active", s.registry.Count())
			drainCtx, cancel := context.WithTimeout(context.Background(), s.drain)
			defer cancel()
			s.registry.EndAll(drainCtx)
			return ctx.Err()

		case now := <-ticker.C:
			if n := s.registry.Sweep(ctx, now); n > 0 {
				s.logger.Info("swept idle sessions", "count", n)
			}
		}
	}
}
