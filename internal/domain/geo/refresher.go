package geo

import (
	"context"
	"time"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
)

// Refresher rebuilds the cluster index from the dealership store on a fixed
// interval so membership tracks onboarding and market moves without a
// restart. A failed refresh keeps serving the previous build.
type Refresher struct {
	builder  *Builder
	dealers  dealership.Repository
	interval time.Duration
	logger   logging.Logger
}

// NewRefresher wires a refresher for the given builder.
func NewRefresher(builder *Builder, dealers dealership.Repository, interval time.Duration, log logging.Logger) *Refresher {
	return &Refresher{
		builder:  builder,
		dealers:  dealers,
		interval: interval,
		logger:   log.Named("geo"),
	}
}

// RefreshOnce loads every dealership and rebuilds the cluster index.
func (r *Refresher) RefreshOnce(ctx context.Context) error {
	start := time.Now()
	all, err := r.dealers.List(ctx, dealership.SelectionFilter{})
	if err != nil {
		return err
	}
	if err := r.builder.Rebuild(ctx, all); err != nil {
		return err
	}
	r.logger.Info("cluster index rebuilt",
		logging.Int("dealerships", len(all)),
		logging.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// Run blocks until ctx is done, refreshing on every interval tick. Refresh
// failures are logged and never stop the loop.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.RefreshOnce(ctx); err != nil {
				r.logger.Warn("cluster refresh failed", logging.Err(err))
			}
		}
	}
}
