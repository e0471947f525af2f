package confirmation

import (
	"context"
	"sync"
	"time"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

type memoryRecord struct {
	confirmation domain.ActionConfirmation
	expiresAt    time.Time
}

// MemoryStore keeps one confirmation per session in process. Expired
// records are dropped lazily on access and by Sweep.
type MemoryStore struct {
	mu      sync.Mutex
	records map[domain.SessionKey]memoryRecord
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[domain.SessionKey]memoryRecord),
		now:     time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Put(_ context.Context, conf domain.ActionConfirmation, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = domain.DefaultConfirmationTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[conf.Session] = memoryRecord{confirmation: conf, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key domain.SessionKey) (domain.ActionConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(key)
	if !ok {
		return domain.ActionConfirmation{}, domain.ErrConfirmationNotFound
	}
	return record.confirmation, nil
}

func (s *MemoryStore) Resolve(_ context.Context, key domain.SessionKey, actionID string, state domain.ConfirmationState, by string) (domain.ActionConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(key)
	if !ok {
		return domain.ActionConfirmation{}, domain.ErrConfirmationNotFound
	}
	updated, err := resolve(record.confirmation, actionID, state, by, s.now())
	if err != nil {
		return updated, err
	}
	record.confirmation = updated
	s.records[key] = record
	return updated, nil
}

func (s *MemoryStore) Consume(_ context.Context, key domain.SessionKey, actionID string) (domain.ActionConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.live(key)
	if !ok {
		return domain.ActionConfirmation{}, domain.ErrConfirmationNotFound
	}
	updated, err := consume(record.confirmation, actionID)
	if err != nil {
		return updated, err
	}
	record.confirmation = updated
	s.records[key] = record
	return updated, nil
}

func (s *MemoryStore) Delete(_ context.Context, key domain.SessionKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Sweep drops every expired record and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for key, record := range s.records {
		if !now.Before(record.expiresAt) {
			delete(s.records, key)
			removed++
		}
	}
	return removed
}

// live must be called with the lock held.
func (s *MemoryStore) live(key domain.SessionKey) (memoryRecord, bool) {
	record, ok := s.records[key]
	if !ok {
		return memoryRecord{}, false
	}
	if !s.now().Before(record.expiresAt) {
		delete(s.records, key)
		return memoryRecord{}, false
	}
	return record, true
}

var _ ports.ConfirmationStore = (*MemoryStore)(nil)
