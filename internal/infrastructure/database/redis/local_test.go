package redis

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localEntry(key string, expiresAt time.Time) *Entry {
	return &Entry{Key: key, Tier: TierL1, ExpiresAt: expiresAt}
}

func TestLocalStore_GetSet(t *testing.T) {
	s := newLocalStore(10)
	now := time.Now()

	s.set("a", localEntry("a", now.Add(time.Minute)))

	e, ok := s.get("a", now)
	require.True(t, ok)
	assert.Equal(t, "a", e.Key)

	_, ok = s.get("missing", now)
	assert.False(t, ok)
}

func TestLocalStore_ExpiredDroppedOnRead(t *testing.T) {
	s := newLocalStore(10)
	now := time.Now()
	s.set("a", localEntry("a", now.Add(-time.Second)))

	_, ok := s.get("a", now)
	assert.False(t, ok)
	assert.Zero(t, s.len())
}

func TestLocalStore_EvictsSoonestWhenFull(t *testing.T) {
	s := newLocalStore(3)
	now := time.Now()

	s.set("late", localEntry("late", now.Add(time.Hour)))
	s.set("soon", localEntry("soon", now.Add(time.Minute)))
	s.set("mid", localEntry("mid", now.Add(30*time.Minute)))
	s.set("new", localEntry("new", now.Add(2*time.Hour)))

	assert.Equal(t, 3, s.len())
	_, ok := s.get("soon", now)
	assert.False(t, ok, "nearest-expiry entry is the eviction victim")
	_, ok = s.get("new", now)
	assert.True(t, ok)
}

func TestLocalStore_Delete(t *testing.T) {
	s := newLocalStore(10)
	now := time.Now()
	s.set("a", localEntry("a", now.Add(time.Minute)))
	s.set("b", localEntry("b", now.Add(time.Minute)))

	assert.Equal(t, 2, s.delete("a", "b", "absent"))
	assert.Zero(t, s.len())
}

func TestLocalStore_DeletePrefix(t *testing.T) {
	s := newLocalStore(10)
	now := time.Now()
	s.set("cache:l1:x", localEntry("cache:l1:x", now.Add(time.Minute)))
	s.set("cache:l1:y", localEntry("cache:l1:y", now.Add(time.Minute)))
	s.set("other", localEntry("other", now.Add(time.Minute)))

	assert.Equal(t, 2, s.deletePrefix("cache:"))
	assert.Equal(t, 1, s.len())
}

func TestLocalStore_Sweep(t *testing.T) {
	s := newLocalStore(100)
	now := time.Now()
	for i := 0; i < 5; i++ {
		s.set(fmt.Sprintf("dead-%d", i), localEntry("", now.Add(-time.Second)))
	}
	s.set("alive", localEntry("alive", now.Add(time.Hour)))

	assert.Equal(t, 5, s.sweep(now))
	assert.Equal(t, 1, s.len())
}
