// Package dedup tracks the identifiers accepted within one run.
package dedup

import "sync"

// Set is a run-scoped identifier set. The zero value is not usable; call New.
//
// Set is safe for concurrent use so per-item work may be parallelised
// within a page.
type Set struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New returns an empty Set.
func New() *Set {
	return &Set{seen: make(map[string]struct{})}
}

// IsDuplicate reports whether id has already been marked.
func (s *Set) IsDuplicate(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[id]
	return ok
}

// MarkSeen records id.
func (s *Set) MarkSeen(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[id] = struct{}{}
}

// CheckAndMark marks id and reports whether this was its first occurrence.
// The test and the insert happen under one lock.
func (s *Set) CheckAndMark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[id]; ok {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Len returns the number of distinct identifiers marked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
