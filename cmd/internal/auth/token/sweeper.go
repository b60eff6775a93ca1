package token

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper runs CleanupExpired on a fixed cadence until the context is done.
// Failures are logged and swallowed; the loop always continues.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper builds a sweeper around the service. A non-positive interval
// falls back to the service's configured cleanup interval.
func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = svc.cfg.CleanupInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{svc: svc, interval: interval, log: log}
}

// Run blocks until ctx is done. One sweep runs immediately at start so a
// restart loop cannot starve cleanup forever.
func (s *Sweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	stats, err := s.svc.CleanupExpired(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.ErrorContext(ctx, "auth.cleanup.failed",
			"err", err,
			"refresh_removed", stats.RefreshRemoved,
			"blacklist_removed", stats.BlacklistRemoved,
		)
		return
	}
	if stats.RefreshRemoved > 0 || stats.BlacklistRemoved > 0 {
		s.log.InfoContext(ctx, "auth.cleanup.swept",
			"refresh_removed", stats.RefreshRemoved,
			"blacklist_removed", stats.BlacklistRemoved,
		)
	}
}
