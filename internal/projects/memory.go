package projects

import (
	"context"
	"sync"
)

// MemoryStore keeps project facts in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	projects map[Ref]Facts
}

// NewMemoryStore creates a store seeded with projects.
func NewMemoryStore(seed ...Facts) *MemoryStore {
	s := &MemoryStore{projects: make(map[Ref]Facts, len(seed))}
	for _, f := range seed {
		if f.Tag == "" {
			f.Tag = DefaultTag
		}
		s.projects[f.Ref()] = f
	}
	return s
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Facts(_ context.Context, ref Ref) (Facts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.projects[ref]
	if !ok {
		return Facts{}, ErrNotFound
	}
	return f, nil
}

func (s *MemoryStore) Create(_ context.Context, facts Facts) error {
	if facts.Tag == "" {
		facts.Tag = DefaultTag
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[facts.Ref()]; ok {
		return ErrExists
	}
	s.projects[facts.Ref()] = facts
	return nil
}

func (s *MemoryStore) SetPrivate(_ context.Context, ref Ref, private bool) (Facts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.projects[ref]
	if !ok {
		return Facts{}, ErrNotFound
	}
	f.IsPrivate = private
	s.projects[ref] = f
	return f, nil
}

func (s *MemoryStore) Fork(_ context.Context, source, dest Ref) (Facts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.projects[source]
	if !ok {
		return Facts{}, ErrNotFound
	}
	if _, taken := s.projects[dest]; taken {
		return Facts{}, ErrExists
	}
	forked := Facts{
		Namespace:  dest.Namespace,
		Name:       dest.Name,
		Tag:        dest.Tag,
		IsPrivate:  src.IsPrivate,
		ForkedFrom: source.String(),
	}
	s.projects[dest] = forked
	return forked, nil
}
