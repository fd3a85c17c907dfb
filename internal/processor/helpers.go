package processor

import "sync"

// signatureSet remembers the most recent signatures, evicting the oldest once full
type signatureSet struct {
	mu    sync.Mutex
	items map[string]struct{}
	ring  []string
	next  int
}

func newSignatureSet(size int) *signatureSet {
	if size <= 0 {
		size = 4096
	}
	return &signatureSet{
		items: make(map[string]struct{}, size),
		ring:  make([]string, size),
	}
}

// Contains reports whether sig was added and not yet evicted
func (s *signatureSet) Contains(sig string) bool {
	if sig == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[sig]
	return ok
}

// Add records sig, returning false if it was already present
func (s *signatureSet) Add(sig string) bool {
	if sig == "" {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[sig]; ok {
		return false
	}
	if old := s.ring[s.next]; old != "" {
		delete(s.items, old)
	}
	s.ring[s.next] = sig
	s.items[sig] = struct{}{}
	s.next = (s.next + 1) % len(s.ring)
	return true
}

// Len returns the number of remembered signatures
func (s *signatureSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
