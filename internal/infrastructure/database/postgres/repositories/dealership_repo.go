package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dealeredge/visibility-engine/internal/domain/dealership"
	"github.com/dealeredge/visibility-engine/internal/infrastructure/monitoring/logging"
	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

const dealershipColumns = `
	id, name, domain, brands, city, region_code, category,
	group_id, market_id, latitude, longitude, last_analyzed_at,
	created_at, updated_at`

type dealershipRepo struct {
	db  queryExecutor
	log logging.Logger
}

// NewDealershipRepo builds the PostgreSQL dealership repository.
func NewDealershipRepo(db queryExecutor, log logging.Logger) dealership.Repository {
	return &dealershipRepo{db: db, log: log}
}

func (r *dealershipRepo) Create(ctx context.Context, d *dealership.Dealership) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		INSERT INTO dealerships (
			id, name, domain, brands, city, region_code, category,
			group_id, market_id, latitude, longitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		d.ID, d.Name, d.Domain, d.Brands, d.City, d.RegionCode, d.Category,
		d.GroupID, d.MarketID, d.Latitude, d.Longitude,
	).Scan(&d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDBError, "failed to create dealership")
	}
	return nil
}

func (r *dealershipRepo) GetByID(ctx context.Context, id uuid.UUID) (*dealership.Dealership, error) {
	query := `SELECT ` + dealershipColumns + ` FROM dealerships WHERE id = $1`
	d, err := scanDealership(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (r *dealershipRepo) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*dealership.Dealership, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + dealershipColumns + ` FROM dealerships WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to query dealerships")
	}
	defer rows.Close()
	return collectDealerships(rows)
}

func (r *dealershipRepo) List(ctx context.Context, filter dealership.SelectionFilter) ([]*dealership.Dealership, error) {
	query := `SELECT ` + dealershipColumns + ` FROM dealerships WHERE 1=1`
	var args []interface{}

	if filter.GroupID != nil {
		args = append(args, *filter.GroupID)
		query += fmt.Sprintf(" AND group_id = $%d", len(args))
	}
	if filter.MarketID != nil {
		args = append(args, *filter.MarketID)
		query += fmt.Sprintf(" AND market_id = $%d", len(args))
	}
	if len(filter.IDs) > 0 {
		args = append(args, filter.IDs)
		query += fmt.Sprintf(" AND id = ANY($%d)", len(args))
	}
	if filter.StaleBefore != nil {
		args = append(args, *filter.StaleBefore)
		query += fmt.Sprintf(" AND (last_analyzed_at IS NULL OR last_analyzed_at < $%d)", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to list dealerships")
	}
	defer rows.Close()
	return collectDealerships(rows)
}

func (r *dealershipRepo) Update(ctx context.Context, d *dealership.Dealership) error {
	if err := d.Validate(); err != nil {
		return err
	}
	query := `
		UPDATE dealerships
		SET name = $2, domain = $3, brands = $4, city = $5, region_code = $6,
		    category = $7, group_id = $8, market_id = $9, latitude = $10,
		    longitude = $11, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		d.ID, d.Name, d.Domain, d.Brands, d.City, d.RegionCode,
		d.Category, d.GroupID, d.MarketID, d.Latitude, d.Longitude,
	)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeDBError, "failed to update dealership")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.New(apperrors.ErrCodeDealershipNotFound, "dealership not found").WithDetail(d.ID.String())
	}
	return nil
}

func (r *dealershipRepo) TouchAnalyzed(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE dealerships SET last_analyzed_at = $2, updated_at = NOW() WHERE id = ANY($1)`
	if _, err := r.db.Exec(ctx, query, ids, at); err != nil {
		return apperrors.Wrap(err, apperrors.CodeDBError, "failed to mark dealerships analyzed")
	}
	return nil
}

func (r *dealershipRepo) CountByCategory(ctx context.Context, marketKey string) (map[dealership.Category]int, error) {
	query := `
		SELECT category, COUNT(*)
		FROM dealerships
		WHERE market_id = $1
		GROUP BY category`

	rows, err := r.db.Query(ctx, query, marketKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to count dealerships by category")
	}
	defer rows.Close()

	out := make(map[dealership.Category]int)
	for rows.Next() {
		var cat dealership.Category
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to scan category count")
		}
		out[cat] = n
	}
	return out, rows.Err()
}

func scanDealership(row scanner) (*dealership.Dealership, error) {
	d := &dealership.Dealership{}
	err := row.Scan(
		&d.ID, &d.Name, &d.Domain, &d.Brands, &d.City, &d.RegionCode, &d.Category,
		&d.GroupID, &d.MarketID, &d.Latitude, &d.Longitude, &d.LastAnalyzedAt,
		&d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.New(apperrors.ErrCodeDealershipNotFound, "dealership not found")
		}
		return nil, apperrors.Wrap(err, apperrors.CodeDBError, "failed to scan dealership")
	}
	return d, nil
}

func collectDealerships(rows pgx.Rows) ([]*dealership.Dealership, error) {
	var out []*dealership.Dealership
	for rows.Next() {
		d, err := scanDealership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
