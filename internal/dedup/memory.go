package dedup

import (
	"context"
	"sync"
)

// MemoryStore keeps records in process memory. Records are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	byHandle map[string]int
	byHash   map[string]int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byHandle: make(map[string]int),
		byHash:   make(map[string]int),
	}
}

func (s *MemoryStore) LookupByHandle(_ context.Context, handle string) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byHandle[handle]
	return ref, ok, nil
}

func (s *MemoryStore) LookupByHash(_ context.Context, hash string, size int64) (int, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byHash[FingerprintKey(hash, size)]
	return ref, ok, nil
}

func (s *MemoryStore) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.HasFingerprint() {
		key := FingerprintKey(rec.Hash, rec.Size)
		if _, ok := s.byHash[key]; !ok {
			s.byHash[key] = rec.Ref
		}
	}
	if _, ok := s.byHandle[rec.Handle]; ok {
		return ErrAlreadyExists
	}
	s.byHandle[rec.Handle] = rec.Ref
	return nil
}

func (s *MemoryStore) Close() error { return nil }
