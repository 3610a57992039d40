// Package ids provides identifier allocation for physical time series.
package ids

import "sync"

// Allocator issues unique, monotonically increasing identifiers. An
// allocator is scoped to one system; ids from different allocators must
// never be mixed.
type Allocator interface {
	// NextID returns the next unused identifier.
	NextID() int64
}

// Sequence is an in-process Allocator. Ids start at 1 so that 0 can mean
// "unassigned".
type Sequence struct {
	mu   sync.Mutex
	next int64
}

// NewSequence returns a Sequence starting at the given id. A start of 0 or
// less begins at 1.
func NewSequence(start int64) *Sequence {
	if start < 1 {
		start = 1
	}
	return &Sequence{next: start}
}

// NextID returns the next unused identifier.
func (s *Sequence) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	return id
}
