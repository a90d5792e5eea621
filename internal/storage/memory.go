package storage

import (
	"context"
	"sort"
	"sync"
	"time"
)

const auditRing = 200

type memStore struct {
	mu     sync.Mutex
	audit  []AuditEntry
	dedup  map[string]time.Time
	grants map[grantKey]Grant
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memStore{dedup: map[string]time.Time{}, grants: map[grantKey]Grant{}}
}

func (m *memStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	m.mu.Lock()
	m.audit = appendRing(m.audit, e)
	m.mu.Unlock()
	return nil
}

func (m *memStore) RecentAudit(_ context.Context, limit int) ([]AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return tail(m.audit, limit), nil
}

func (m *memStore) PutDedup(_ context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	m.mu.Lock()
	m.dedup[key] = until
	m.mu.Unlock()
	return nil
}

func (m *memStore) GetDedup(_ context.Context, key string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.dedup[key]
	return u, ok, nil
}

func (m *memStore) PutGrant(_ context.Context, g Grant) error {
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now()
	}
	m.mu.Lock()
	m.grants[grantKey{g.ChatID, g.ThreadID}] = g
	m.mu.Unlock()
	return nil
}

func (m *memStore) DeleteGrant(_ context.Context, chatID int64, threadID int) error {
	m.mu.Lock()
	delete(m.grants, grantKey{chatID, threadID})
	m.mu.Unlock()
	return nil
}

func (m *memStore) Grants(context.Context) ([]Grant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedGrants(m.grants), nil
}

func (m *memStore) Close() error { return nil }

func appendRing(ring []AuditEntry, e AuditEntry) []AuditEntry {
	ring = append(ring, e)
	if len(ring) > auditRing {
		ring = ring[len(ring)-auditRing:]
	}
	return ring
}

// tail returns the newest limit entries, newest first.
func tail(ring []AuditEntry, limit int) []AuditEntry {
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]AuditEntry, 0, limit)
	for i := len(ring) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ring[i])
	}
	return out
}

func sortedGrants(m map[grantKey]Grant) []Grant {
	out := make([]Grant, 0, len(m))
	for _, g := range m {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ChatID != out[j].ChatID {
			return out[i].ChatID < out[j].ChatID
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out
}
