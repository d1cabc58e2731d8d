package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryRecord struct {
	fingerprint string
	response    *Response
	expiresAt   time.Time
}

// MemoryStore keeps records in process memory. It is used when no Redis
// address is configured and in tests.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]memoryRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, records: map[string]memoryRecord{}}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, ttl time.Duration) (Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	rec, ok := s.records[key]
	if !ok || !now.Before(rec.expiresAt) {
		s.records[key] = memoryRecord{fingerprint: fingerprint, expiresAt: now.Add(ttlOrDefault(ttl))}
		return Reservation{State: StateNew}, nil
	}
	if rec.fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if rec.response == nil {
		return Reservation{State: StatePending}, nil
	}
	resp := *rec.response
	return Reservation{State: StateCompleted, Response: &resp}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	resp.Headers = storedHeaders(resp.Headers)
	resp.Body = append([]byte(nil), resp.Body...)
	s.records[key] = memoryRecord{
		fingerprint: fingerprint,
		response:    &resp,
		expiresAt:   s.now().Add(ttlOrDefault(ttl)),
	}
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.fingerprint == fingerprint {
		delete(s.records, key)
	}
	return nil
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
