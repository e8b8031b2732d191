package keys

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pepkit/pephub-sub000/internal/auth/models"
)

// MemoryStore keeps developer keys in process memory. Keys do not survive a
// restart.
type MemoryStore struct {
	mu          sync.RWMutex
	byNamespace map[string][]models.DeveloperKey
	namespaceOf map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byNamespace: make(map[string][]models.DeveloperKey),
		namespaceOf: make(map[string]string),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Insert(_ context.Context, key models.DeveloperKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byNamespace[key.Namespace] = append(s.byNamespace[key.Namespace], key)
	s.namespaceOf[key.Key] = key.Namespace
	return nil
}

func (s *MemoryStore) List(_ context.Context, namespace string) ([]models.DeveloperKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.byNamespace[namespace]
	out := make([]models.DeveloperKey, len(keys))
	copy(out, keys)
	return out, nil
}

func (s *MemoryStore) DeleteBySuffix(_ context.Context, namespace, suffix string) (int, error) {
	return s.deleteWhere(namespace, func(k models.DeveloperKey) bool {
		return strings.HasSuffix(k.Key, suffix)
	}), nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, namespace string, now time.Time) (int, error) {
	return s.deleteWhere(namespace, func(k models.DeveloperKey) bool {
		return k.Expired(now)
	}), nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.namespaceOf[key]
	return ok, nil
}

func (s *MemoryStore) deleteWhere(namespace string, match func(models.DeveloperKey) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.byNamespace[namespace]
	kept := keys[:0]
	removed := 0
	for _, k := range keys {
		if match(k) {
			delete(s.namespaceOf, k.Key)
			removed++
			continue
		}
		kept = append(kept, k)
	}
	if len(kept) == 0 {
		delete(s.byNamespace, namespace)
	} else {
		s.byNamespace[namespace] = kept
	}
	return removed
}
