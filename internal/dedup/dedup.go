// Package dedup suppresses duplicate webhook deliveries by message id.
//
// The platform re-posts a callback when it considers the previous
// delivery failed (for example after a slow acknowledgment), so the same
// MsgId can arrive more than once.
package dedup

import "sync"

// Set is a bounded set of recently seen message ids. When capacity is
// exceeded the oldest ids are evicted first.
type Set struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	max   int
}

// NewSet creates a dedup set holding at most max ids.
func NewSet(max int) *Set {
	if max <= 0 {
		max = 1000
	}
	return &Set{
		seen: make(map[string]struct{}),
		max:  max,
	}
}

// Observe records id and reports whether it was seen for the first time.
func (s *Set) Observe(id string) bool {
	if id == "" {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return false
	}

	s.seen[id] = struct{}{}
	s.order = append(s.order, id)

	for len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.seen, oldest)
	}

	return true
}

// Contains reports whether id has been observed.
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// Len returns the number of ids currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
