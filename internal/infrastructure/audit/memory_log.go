// Package audit stores the append-only, capped record of executed actions.
package audit

import (
	"context"
	"sync"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/ports"
)

// MemoryLog keeps the newest capacity entries in process, evicting the
// oldest first. All access is serialised on one mutex.
type MemoryLog struct {
	mu       sync.Mutex
	capacity int
	entries  []domain.AuditEntry
}

// NewMemoryLog creates a log holding at most capacity entries.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity <= 0 {
		capacity = domain.DefaultAuditCapacity
	}
	return &MemoryLog{capacity: capacity}
}

// Append implements ports.AuditLog.
func (l *MemoryLog) Append(_ context.Context, entry domain.AuditEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, entry)
	if overflow := len(l.entries) - l.capacity; overflow > 0 {
		// copy so the evicted prefix can be collected
		l.entries = append([]domain.AuditEntry(nil), l.entries[overflow:]...)
	}
	return nil
}

// Lookup implements ports.AuditLog. The newest matching entry wins.
func (l *MemoryLog) Lookup(_ context.Context, idempotencyKey string) (domain.AuditEntry, bool, error) {
	if idempotencyKey == "" {
		return domain.AuditEntry{}, false, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].IdempotencyKey == idempotencyKey {
			return l.entries[i], true, nil
		}
	}
	return domain.AuditEntry{}, false, nil
}

// Recent implements ports.AuditLog.
func (l *MemoryLog) Recent(_ context.Context, limit int) ([]domain.AuditEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	out := make([]domain.AuditEntry, 0, limit)
	for i := len(l.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Len returns the number of retained entries.
func (l *MemoryLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

var _ ports.AuditLog = (*MemoryLog)(nil)
