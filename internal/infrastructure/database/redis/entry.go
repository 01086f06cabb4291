package redis

import (
	"time"

	"github.com/dealeredge/visibility-engine/pkg/types/common"
)

// Entry is the envelope stored at every Redis tier. The payload is opaque to
// the cache; metadata drives expiry, stats, and pooled bookkeeping.
type Entry struct {
	Key  string `json:"key"`
	Tier Tier   `json:"tier"`

	// Pool is set on L3 entries and on entity entries whose pool co-write
	// produced a pooled copy.
	Pool string `json:"pool,omitempty"`

	Payload *common.AnalysisPayload `json:"payload"`

	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`

	// AccessCount is advisory; it is incremented on the serving process and
	// not synchronized across replicas.
	AccessCount int64 `json:"access_count"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// AgeAt returns the entry age at the given time.
func (e *Entry) AgeAt(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// FreshEnough reports whether the entry satisfies a maximum-age bound.
// A zero maxAge means any unexpired entry qualifies.
func (e *Entry) FreshEnough(now time.Time, maxAge time.Duration) bool {
	if e.Expired(now) {
		return false
	}
	if maxAge <= 0 {
		return true
	}
	return e.AgeAt(now) <= maxAge
}
