package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
)

// MemoryStore is an in-process Store. Lookups by key are O(1); sessions are
// indexed by user for ListByUser. All methods share one RWMutex.
type MemoryStore struct {
	mu     sync.RWMutex
	byKey  map[string]*domain.Session
	byUser map[string]map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byKey:  make(map[string]*domain.Session),
		byUser: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, s *domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byKey[s.Key]; ok {
		return ErrSessionConflict
	}
	m.byKey[s.Key] = s.Clone()
	keys := m.byUser[s.UserID]
	if keys == nil {
		keys = make(map[string]struct{})
		m.byUser[s.UserID] = keys
	}
	keys[s.Key] = struct{}{}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byKey[key].Clone(), nil
}

func (m *MemoryStore) Invalidate(ctx context.Context, key string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byKey[key]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	at = at.UTC()
	s.RevokedAt = &at
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*domain.Session, 0, len(m.byUser[userID]))
	for key := range m.byUser[userID] {
		out = append(out, m.byKey[key].Clone())
	}
	m.mu.RUnlock()
	sortOldestFirst(out)
	return out, nil
}

func (m *MemoryStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, s := range m.byKey {
		if now.Before(s.ExpiresAt) {
			continue
		}
		delete(m.byKey, key)
		if keys := m.byUser[s.UserID]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.byUser, s.UserID)
			}
		}
		n++
	}
	return n, nil
}

// Len returns the number of stored sessions, live or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byKey)
}

func sortOldestFirst(list []*domain.Session) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
}
