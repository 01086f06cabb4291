package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

var dealershipCols = []string{
	"id", "name", "domain", "brands", "city", "region_code", "category",
	"group_id", "market_id", "latitude", "longitude", "last_analyzed_at",
	"created_at", "updated_at",
}

func dealershipRow(id uuid.UUID, name string, at time.Time) []interface{} {
	return []interface{}{
		id, name, "example.com", []string{"toyota"}, "Dallas", "TX",
		dealership.CategoryStandard, nil, nil, nil, nil, nil, at, at,
	}
}

func newDealershipMock(t *testing.T) (pgxmock.PgxPoolIface, dealership.Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewDealershipRepo(mock, logging.NewNopLogger())
}

func TestDealershipRepo_Create(t *testing.T) {
	mock, repo := newDealershipMock(t)

	d := &dealership.Dealership{
		ID:       uuid.New(),
		Name:     "North Dallas Toyota",
		Domain:   "northdallastoyota.com",
		Brands:   []string{"toyota"},
		City:     "Dallas",
		Category: dealership.CategoryStandard,
	}

	now := time.Now()
	mock.ExpectQuery(`INSERT INTO dealerships`).
		WithArgs(d.ID, d.Name, d.Domain, d.Brands, d.City, d.RegionCode,
			d.Category, d.GroupID, d.MarketID, d.Latitude, d.Longitude).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), d))
	assert.Equal(t, now, d.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_Create_RejectsInvalid(t *testing.T) {
	mock, repo := newDealershipMock(t)

	err := repo.Create(context.Background(), &dealership.Dealership{ID: uuid.New()})
	assert.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInvalidParam))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_GetByID(t *testing.T) {
	mock, repo := newDealershipMock(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM dealerships WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(dealershipCols).AddRow(dealershipRow(id, "Metro Honda", time.Now())...))

	d, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, d.ID)
	assert.Equal(t, "Metro Honda", d.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_GetByID_NotFound(t *testing.T) {
	mock, repo := newDealershipMock(t)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .+ FROM dealerships WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(dealershipCols))

	_, err := repo.GetByID(context.Background(), id)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDealershipNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_GetByIDs_EmptyShortCircuits(t *testing.T) {
	mock, repo := newDealershipMock(t)

	got, err := repo.GetByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_List_StaleFilter(t *testing.T) {
	mock, repo := newDealershipMock(t)

	groupID := uuid.New()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	a, b := uuid.New(), uuid.New()

	mock.ExpectQuery(`FROM dealerships WHERE 1=1 AND group_id = \$1 AND \(last_analyzed_at IS NULL OR last_analyzed_at < \$2\)`).
		WithArgs(groupID, cutoff).
		WillReturnRows(pgxmock.NewRows(dealershipCols).
			AddRow(dealershipRow(a, "Stale One", time.Now())...).
			AddRow(dealershipRow(b, "Stale Two", time.Now())...))

	got, err := repo.List(context.Background(), dealership.SelectionFilter{
		GroupID:     &groupID,
		StaleBefore: &cutoff,
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a, got[0].ID)
	assert.Equal(t, b, got[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_Update_NotFound(t *testing.T) {
	mock, repo := newDealershipMock(t)

	d := &dealership.Dealership{
		ID:       uuid.New(),
		Name:     "Gone Motors",
		Category: dealership.CategoryIndependent,
	}
	mock.ExpectExec(`UPDATE dealerships`).
		WithArgs(d.ID, d.Name, d.Domain, d.Brands, d.City, d.RegionCode,
			d.Category, d.GroupID, d.MarketID, d.Latitude, d.Longitude).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), d)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDealershipNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_TouchAnalyzed(t *testing.T) {
	mock, repo := newDealershipMock(t)

	ids := []uuid.UUID{uuid.New(), uuid.New()}
	at := time.Now()
	mock.ExpectExec(`UPDATE dealerships SET last_analyzed_at = \$2`).
		WithArgs(ids, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, repo.TouchAnalyzed(context.Background(), ids, at))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDealershipRepo_CountByCategory(t *testing.T) {
	mock, repo := newDealershipMock(t)

	mock.ExpectQuery(`SELECT category, COUNT\(\*\)`).
		WithArgs("dallas_tx").
		WillReturnRows(pgxmock.NewRows([]string{"category", "count"}).
			AddRow(dealership.CategoryStandard, 12).
			AddRow(dealership.CategoryPremium, 3))

	counts, err := repo.CountByCategory(context.Background(), "dallas_tx")
	require.NoError(t, err)
	assert.Equal(t, map[dealership.Category]int{
		dealership.CategoryStandard: 12,
		dealership.CategoryPremium:  3,
	}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}
