// Package dealership defines the dealership entity and its persistence
// contract.  A dealership is the unit of analysis for the engine: every cache
// entry, batch slot, and competitive report is keyed by a dealership id.
package dealership

import (
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

// Category classifies a dealership for competitive comparison and batch
// priority scoring.
type Category string

const (
	CategoryStandard    Category = "standard"
	CategoryIndependent Category = "independent"
	CategoryPremium     Category = "premium"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryStandard, CategoryIndependent, CategoryPremium:
		return true
	}
	return false
}

// Dealership is a single rooftop under analysis.
type Dealership struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Domain string    `json:"domain"`
	Brands []string  `json:"brands"`
	City   string    `json:"city"`

	// RegionCode is the two-letter state code used for geographic pool
	// resolution. Empty when the record was imported without an address.
	RegionCode string `json:"region_code"`

	Category Category `json:"category"`

	// GroupID links rooftops under a common owner; nil for independents.
	GroupID *uuid.UUID `json:"group_id,omitempty"`

	// MarketID identifies the local competitive market. Dealerships without
	// one are grouped by region during clustering.
	MarketID *string `json:"market_id,omitempty"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// LastAnalyzedAt is updated only by the analysis pipeline after a
	// successful fresh generation; cache hits do not touch it.
	LastAnalyzedAt *time.Time `json:"last_analyzed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Geocoded reports whether the dealership carries usable coordinates.
func (d *Dealership) Geocoded() bool {
	return d.Latitude != nil && d.Longitude != nil
}

// MarketKey returns the grouping key for cluster construction: the market id
// when assigned, otherwise "<region>_unknown" so unassigned rooftops in the
// same region still cluster together.
func (d *Dealership) MarketKey() string {
	if d.MarketID != nil && *d.MarketID != "" {
		return *d.MarketID
	}
	region := strings.ToLower(d.RegionCode)
	if region == "" {
		region = "none"
	}
	return region + "_unknown"
}

// StaleAt reports whether the dealership's last analysis is older than the
// cutoff. Never-analyzed dealerships are always stale.
func (d *Dealership) StaleAt(now time.Time, maxAge time.Duration) bool {
	if d.LastAnalyzedAt == nil {
		return true
	}
	return now.Sub(*d.LastAnalyzedAt) > maxAge
}

// SharesBrand reports whether two dealerships carry at least one common brand.
// Comparison is case-insensitive.
func (d *Dealership) SharesBrand(other *Dealership) bool {
	if other == nil {
		return false
	}
	for _, a := range d.Brands {
		for _, b := range other.Brands {
			if strings.EqualFold(a, b) {
				return true
			}
		}
	}
	return false
}

// Validate checks the invariants required before persisting a dealership.
func (d *Dealership) Validate() error {
	if d.ID == uuid.Nil {
		return apperrors.InvalidParam("dealership id is required")
	}
	if strings.TrimSpace(d.Name) == "" {
		return apperrors.InvalidParam("dealership name is required")
	}
	if !d.Category.Valid() {
		return apperrors.New(apperrors.CodeInvalidParam, "invalid dealership category").
			WithDetail(string(d.Category))
	}
	if (d.Latitude == nil) != (d.Longitude == nil) {
		return apperrors.InvalidParam("latitude and longitude must be set together")
	}
	return nil
}
