package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. Used by tests and the CLI.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (State, Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := documentID(key)
	if existing, ok := s.records[id]; ok && now.Before(existing.ExpiresAt) {
		if existing.Fingerprint != fingerprint {
			return 0, Record{}, ErrFingerprintMismatch
		}
		if existing.Completed {
			return StateCompleted, existing, nil
		}
		return StatePending, existing, nil
	}
	record := Record{Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
	s.records[id] = record
	return StateNew, record, nil
}

func (s *MemoryStore) Complete(_ context.Context, key string, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Completed = true
	s.records[documentID(key)] = record
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, documentID(key))
	return nil
}

func (s *MemoryStore) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, record := range s.records {
		if !now.Before(record.ExpiresAt) {
			delete(s.records, id)
			removed++
		}
	}
	return removed, nil
}
