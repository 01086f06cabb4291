package redis

import (
	"sync"
	"time"
)

// localStore is the in-process L1 tier: a bounded TTL map guarded by a
// RWMutex. Reads are hot-path; expiry is checked lazily on read and reaped by
// the manager's sweep. When the bound is reached the entry closest to expiry
// is evicted.
type localStore struct {
	mu         sync.RWMutex
	entries    map[string]*Entry
	maxEntries int
}

func newLocalStore(maxEntries int) *localStore {
	return &localStore{
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// get returns the entry if present and unexpired. Expired entries are removed
// on the spot.
func (s *localStore) get(key string, now time.Time) (*Entry, bool) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if e.Expired(now) {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent set may have replaced it.
		if cur, still := s.entries[key]; still && cur.Expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, false
	}
	return e, true
}

// set stores the entry, evicting the nearest-expiry entry when full.
func (s *localStore) set(key string, e *Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[key]; !exists && s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictSoonest()
	}
	s.entries[key] = e
}

// evictSoonest removes the entry with the earliest expiry. Caller holds the
// write lock.
func (s *localStore) evictSoonest() {
	var victim string
	var soonest time.Time
	for k, e := range s.entries {
		if victim == "" || e.ExpiresAt.Before(soonest) {
			victim = k
			soonest = e.ExpiresAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}

// delete removes keys, returning how many were present.
func (s *localStore) delete(keys ...string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, k := range keys {
		if _, ok := s.entries[k]; ok {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// deletePrefix removes all keys with the given prefix.
func (s *localStore) deletePrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// sweep removes every expired entry and returns the count.
func (s *localStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// len returns the current entry count.
func (s *localStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
