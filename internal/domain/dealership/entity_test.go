package dealership

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dealeredge/visibility-engine/pkg/errors"
)

func ptr[T any](v T) *T { return &v }

func newDealership() *Dealership {
	return &Dealership{
		ID:         uuid.New(),
		Name:       "Sunrise Toyota",
		Domain:     "sunrisetoyota.com",
		Brands:     []string{"Toyota"},
		RegionCode: "TX",
		Category:   CategoryStandard,
	}
}

func TestCategory_Valid(t *testing.T) {
	assert.True(t, CategoryStandard.Valid())
	assert.True(t, CategoryIndependent.Valid())
	assert.True(t, CategoryPremium.Valid())
	assert.False(t, Category("franchise").Valid())
	assert.False(t, Category("").Valid())
}

func TestMarketKey(t *testing.T) {
	d := newDealership()
	assert.Equal(t, "tx_unknown", d.MarketKey())

	d.MarketID = ptr("dallas_tx")
	assert.Equal(t, "dallas_tx", d.MarketKey())

	d.MarketID = ptr("")
	d.RegionCode = ""
	assert.Equal(t, "none_unknown", d.MarketKey())
}

func TestStaleAt(t *testing.T) {
	now := time.Now()
	d := newDealership()

	assert.True(t, d.StaleAt(now, 24*time.Hour), "never analyzed is always stale")

	d.LastAnalyzedAt = ptr(now.Add(-2 * time.Hour))
	assert.False(t, d.StaleAt(now, 24*time.Hour))

	d.LastAnalyzedAt = ptr(now.Add(-8 * 24 * time.Hour))
	assert.True(t, d.StaleAt(now, 7*24*time.Hour))
}

func TestSharesBrand(t *testing.T) {
	a := newDealership()
	b := newDealership()
	b.Brands = []string{"toyota", "Lexus"}

	assert.True(t, a.SharesBrand(b), "comparison is case-insensitive")

	b.Brands = []string{"Honda"}
	assert.False(t, a.SharesBrand(b))
	assert.False(t, a.SharesBrand(nil))
}

func TestGeocoded(t *testing.T) {
	d := newDealership()
	assert.False(t, d.Geocoded())

	d.Latitude = ptr(32.78)
	d.Longitude = ptr(-96.8)
	assert.True(t, d.Geocoded())
}

func TestValidate(t *testing.T) {
	d := newDealership()
	require.NoError(t, d.Validate())

	t.Run("missing id", func(t *testing.T) {
		bad := newDealership()
		bad.ID = uuid.Nil
		assert.True(t, apperrors.IsCode(bad.Validate(), apperrors.CodeInvalidParam))
	})

	t.Run("blank name", func(t *testing.T) {
		bad := newDealership()
		bad.Name = "   "
		assert.Error(t, bad.Validate())
	})

	t.Run("unknown category", func(t *testing.T) {
		bad := newDealership()
		bad.Category = "boutique"
		assert.Error(t, bad.Validate())
	})

	t.Run("half geocoded", func(t *testing.T) {
		bad := newDealership()
		bad.Latitude = ptr(32.78)
		assert.Error(t, bad.Validate())
	})
}
