package cache

import (
	"sort"
	"time"

	"github.com/dashcache/dashcache/pkg/types"
)

// StoreConfig represents store capacity settings
type StoreConfig struct {
	MaxEntries int `yaml:"max_entries"`
	Shards     int `yaml:"shards"`
}

// Store holds entries keyed by generated key, split across independently
// locked LRU shards selected by key digest.
type Store struct {
	shards []*lruShard
}

// NewStore creates a new store
func NewStore(config *StoreConfig) *Store {
	if config == nil {
		config = &StoreConfig{
			MaxEntries: 10000,
			Shards:     16,
		}
	}

	n := config.Shards
	if n <= 0 {
		n = 1
	}

	perShard := 0
	if config.MaxEntries > 0 {
		perShard = (config.MaxEntries + n - 1) / n
	}

	s := &Store{shards: make([]*lruShard, n)}
	for i := range s.shards {
		s.shards[i] = newLRUShard(perShard)
	}
	return s
}

func (s *Store) shard(key string) *lruShard {
	return s.shards[KeyDigest(key)%uint64(len(s.shards))]
}

// Get returns the entry for key and marks it recently used.
func (s *Store) Get(key string) (*Entry, bool) {
	return s.shard(key).get(key)
}

// Peek returns the entry for key without affecting eviction order.
func (s *Store) Peek(key string) (*Entry, bool) {
	return s.shard(key).peek(key)
}

// Set stores e, replacing any previous entry for its key in one step, and
// returns entries evicted for capacity.
func (s *Store) Set(e *Entry) []*Entry {
	return s.shard(e.Key).set(e)
}

// Delete removes the entry for key.
func (s *Store) Delete(key string) bool {
	return s.shard(key).remove(key)
}

// DeleteResource removes every entry of resourceID.
func (s *Store) DeleteResource(resourceID string) int {
	return s.removeIf(func(e *Entry) bool {
		return e.ResourceID == resourceID
	})
}

// DeleteOverlapping removes entries of resourceID whose date range overlaps
// dr. Entries without a date range cover all dates and are removed too.
func (s *Store) DeleteOverlapping(resourceID string, dr types.DateRange) int {
	return s.removeIf(func(e *Entry) bool {
		if e.ResourceID != resourceID {
			return false
		}
		return e.DateRange == nil || RangesOverlap(*e.DateRange, dr)
	})
}

// Sweep removes entries whose usable lifetime ended before now.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for _, sh := range s.shards {
		removed += sh.sweep(now)
	}
	return removed
}

func (s *Store) removeIf(pred func(*Entry) bool) int {
	removed := 0
	for _, sh := range s.shards {
		removed += sh.removeIf(pred)
	}
	return removed
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		n += sh.len()
	}
	return n
}

// Keys returns all keys in sorted order (for debugging)
func (s *Store) Keys() []string {
	var keys []string
	for _, sh := range s.shards {
		keys = append(keys, sh.keys()...)
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every entry.
func (s *Store) Clear() {
	for _, sh := range s.shards {
		sh.clear()
	}
}
