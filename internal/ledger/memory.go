package ledger

import (
	"context"
	"sync"
)

// InMemory is a process-local Store.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
	byID    map[string]int
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{byID: make(map[string]int)}
}

func (s *InMemory) AppendLinked(_ context.Context, link LinkFunc) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tail *Entry
	if n := len(s.entries); n > 0 {
		t := s.entries[n-1]
		tail = &t
	}
	e, err := link(tail)
	if err != nil {
		return Entry{}, err
	}
	s.byID[e.ID] = len(s.entries)
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *InMemory) Scan(_ context.Context, afterSeq uint64, limit int) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	for _, e := range s.entries {
		if e.Seq <= afterSeq {
			continue
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *InMemory) Get(_ context.Context, id string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byID[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return s.entries[i], nil
}

func (s *InMemory) List(_ context.Context, f Filter) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Entry, 0, f.Limit)
	skipped := 0
	for i := len(s.entries) - 1; i >= 0 && len(out) < f.Limit; i-- {
		e := s.entries[i]
		if !f.Matches(e) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
