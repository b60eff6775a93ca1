package notify

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is the cadence for the expiry sweeper when the caller
// does not configure one.
const DefaultSweepInterval = time.Hour

// Sweeper deletes expired notifications on a fixed cadence until the context
// is done. Failures are logged and swallowed; the loop always continues.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper builds a sweeper around the service. A non-positive interval
// falls back to DefaultSweepInterval.
func NewSweeper(svc *Service, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
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
	removed, err := s.svc.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.ErrorContext(ctx, "notify.sweep.failed", "err", err)
		return
	}
	if removed > 0 {
		s.log.InfoContext(ctx, "notify.sweep.removed", "count", removed)
	}
}
