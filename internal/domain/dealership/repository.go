package dealership

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SelectionFilter narrows a dealership lookup for bulk job resolution.
// Exactly one of GroupID, MarketID, or IDs is expected to be set; the
// pipeline validates this before calling the repository.
type SelectionFilter struct {
	GroupID  *uuid.UUID
	MarketID *string
	IDs      []uuid.UUID

	// StaleBefore, when set, restricts results to dealerships whose
	// last_analyzed_at is NULL or older than the given time.
	StaleBefore *time.Time
}

// Repository is the persistence contract for dealerships.
type Repository interface {
	Create(ctx context.Context, d *Dealership) error
	GetByID(ctx context.Context, id uuid.UUID) (*Dealership, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*Dealership, error)
	List(ctx context.Context, filter SelectionFilter) ([]*Dealership, error)
	Update(ctx context.Context, d *Dealership) error

	// TouchAnalyzed sets last_analyzed_at for the given dealerships in a
	// single statement. Called by the pipeline after successful fresh
	// generations only.
	TouchAnalyzed(ctx context.Context, ids []uuid.UUID, at time.Time) error

	// CountByCategory returns category counts within a market, used for the
	// cluster landscape snapshot.
	CountByCategory(ctx context.Context, marketKey string) (map[Category]int, error)
}
