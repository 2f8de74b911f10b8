package cache

import (
	"container/list"
	"sync"
	"time"
)

// lruShard is one lock domain of the store, an LRU over entries
type lruShard struct {
	mu         sync.RWMutex
	items      map[string]*list.Element
	evictList  *list.List
	maxEntries int
}

func newLRUShard(maxEntries int) *lruShard {
	return &lruShard{
		items:      make(map[string]*list.Element),
		evictList:  list.New(),
		maxEntries: maxEntries,
	}
}

// get returns the entry and marks it most recently used
func (s *lruShard) get(key string) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[key]
	if !exists {
		return nil, false
	}
	s.evictList.MoveToFront(element)
	return element.Value.(*Entry), true
}

// peek returns the entry without touching recency
func (s *lruShard) peek(key string) (*Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	element, exists := s.items[key]
	if !exists {
		return nil, false
	}
	return element.Value.(*Entry), true
}

// set stores e, replacing any entry under the same key, and returns the
// entries evicted to stay within capacity
func (s *lruShard) set(e *Entry) []*Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if element, exists := s.items[e.Key]; exists {
		element.Value = e
		s.evictList.MoveToFront(element)
		return nil
	}

	s.items[e.Key] = s.evictList.PushFront(e)

	var evicted []*Entry
	if s.maxEntries > 0 {
		for len(s.items) > s.maxEntries && s.evictList.Len() > 0 {
			evicted = append(evicted, s.removeElement(s.evictList.Back()))
		}
	}
	return evicted
}

func (s *lruShard) remove(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	element, exists := s.items[key]
	if !exists {
		return false
	}
	s.removeElement(element)
	return true
}

// removeIf drops every entry matching pred and returns how many were removed
func (s *lruShard) removeIf(pred func(*Entry) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for element := s.evictList.Front(); element != nil; {
		next := element.Next()
		if pred(element.Value.(*Entry)) {
			s.removeElement(element)
			removed++
		}
		element = next
	}
	return removed
}

// sweep drops entries past their usable lifetime
func (s *lruShard) sweep(now time.Time) int {
	return s.removeIf(func(e *Entry) bool {
		return !now.Before(e.ExpiresAt)
	})
}

func (s *lruShard) removeElement(element *list.Element) *Entry {
	e := element.Value.(*Entry)
	s.evictList.Remove(element)
	delete(s.items, e.Key)
	return e
}

func (s *lruShard) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *lruShard) keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.items))
	for key := range s.items {
		keys = append(keys, key)
	}
	return keys
}

func (s *lruShard) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.evictList.Init()
}
