package geo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
)

type listOnlyRepo struct {
	dealership.Repository
	set     []*dealership.Dealership
	listErr error
}

func (r *listOnlyRepo) List(_ context.Context, _ dealership.SelectionFilter) ([]*dealership.Dealership, error) {
	return r.set, r.listErr
}

func TestRefreshOnce_RebuildsIndex(t *testing.T) {
	b := newTestBuilder()
	repo := &listOnlyRepo{set: marketDealers("dallas_tx", 8)}
	r := NewRefresher(b, repo, time.Minute, logging.NewNopLogger())

	require.NoError(t, r.RefreshOnce(context.Background()))

	c, err := b.ClusterFor(repo.set[0].ID)
	require.NoError(t, err)
	assert.Equal(t, "dallas_tx", c.MarketKey)
}

func TestRefreshOnce_ListFailureKeepsPreviousBuild(t *testing.T) {
	b := newTestBuilder()
	repo := &listOnlyRepo{set: marketDealers("waco_tx", 3)}
	r := NewRefresher(b, repo, time.Minute, logging.NewNopLogger())
	require.NoError(t, r.RefreshOnce(context.Background()))

	repo.listErr = assert.AnError
	require.Error(t, r.RefreshOnce(context.Background()))

	// Stale but intact.
	_, err := b.ClusterFor(repo.set[1].ID)
	assert.NoError(t, err)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	b := newTestBuilder()
	r := NewRefresher(b, &listOnlyRepo{}, time.Millisecond, logging.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}

	_, err := b.ClusterFor(uuid.New())
	assert.Error(t, err)
}
