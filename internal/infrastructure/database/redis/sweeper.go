package redis

import (
	"context"
	"time"

	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
)

// Sweeper runs the expired-entry sweep on a fixed interval. A redis lock
// elects one process per cluster to scan the shared tiers; the local L1 sweep
// runs on every process regardless, since each replica owns its own hot map.
type Sweeper struct {
	manager  Manager
	client   *Client
	interval time.Duration
	logger   logging.Logger
}

// NewSweeper wires a sweeper for the given manager.
func NewSweeper(manager Manager, client *Client, interval time.Duration, log logging.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		client:   client,
		interval: interval,
		logger:   log.Named("sweeper"),
	}
}

// Run blocks until ctx is done. Sweep failures are logged and never stop the
// loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	lock := NewMutex(s.client, "cache-sweep", s.interval)
	ok, err := lock.TryLock(ctx)
	if err != nil {
		s.logger.Warn("sweep lock acquire failed", logging.Err(err))
		return
	}
	if !ok {
		// Another replica holds the sweep this round.
		return
	}
	defer func() {
		if err := lock.Unlock(ctx); err != nil {
			s.logger.Warn("sweep lock release failed", logging.Err(err))
		}
	}()

	start := time.Now()
	removed, err := s.manager.Sweep(ctx)
	if err != nil {
		s.logger.Warn("cache sweep failed", logging.Err(err))
		return
	}
	if removed > 0 {
		s.logger.Info("cache sweep completed",
			logging.Int("removed", removed),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}
