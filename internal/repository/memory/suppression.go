package memory

import (
	"context"
	"sync"

	"github.com/ignite/outreach-dispatcher/internal/domain"
)

// SuppressionStore is an in-memory suppression.Repository.
type SuppressionStore struct {
	mu     sync.RWMutex
	byHash map[string]domain.SuppressionEntry
}

func NewSuppressionStore() *SuppressionStore {
	return &SuppressionStore{byHash: make(map[string]domain.SuppressionEntry)}
}

func (s *SuppressionStore) Exists(ctx context.Context, md5Hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byHash[md5Hash]
	return ok, nil
}

func (s *SuppressionStore) Insert(ctx context.Context, e domain.SuppressionEntry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byHash[e.MD5Hash]; ok {
		return false, nil
	}
	s.byHash[e.MD5Hash] = e
	return true, nil
}

func (s *SuppressionStore) BulkInsert(ctx context.Context, entries []domain.SuppressionEntry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, e := range entries {
		if _, ok := s.byHash[e.MD5Hash]; ok {
			continue
		}
		s.byHash[e.MD5Hash] = e
		added++
	}
	return added, nil
}

func (s *SuppressionStore) AllHashes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.byHash))
	for h := range s.byHash {
		out = append(out, h)
	}
	return out, nil
}
