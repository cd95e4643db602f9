// Package session binds issued tokens to server-side session records.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/johndoe6345789/pyracms-core/internal/security"
	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
	"github.com/johndoe6345789/pyracms-core/internal/session/repository"
)

// Manager is the token-level view of a Store: callers pass tokens, the
// manager derives the store key. It is safe for concurrent use.
type Manager struct {
	store repository.Store
	keyer *security.SessionKeyer
	ttl   time.Duration
	clock func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithTTL caps every session at ttl from its creation; 0 leaves the token expiry as the only bound.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) { m.ttl = ttl }
}

// WithClock sets the time source used by Invalidate and InvalidateUser.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// NewManager returns a Manager over store using keyer to derive session keys.
func NewManager(store repository.Store, keyer *security.SessionKeyer, opts ...Option) *Manager {
	m := &Manager{store: store, keyer: keyer, clock: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create records token as live for subjectID until tokenExpiresAt (or now+TTL
// when that is sooner). It returns repository.ErrSessionConflict if the token
// already has a session.
func (m *Manager) Create(ctx context.Context, subjectID, token string, tokenExpiresAt, now time.Time) (*domain.Session, error) {
	if subjectID == "" || token == "" {
		return nil, errors.New("session: subject and token are required")
	}
	expires := tokenExpiresAt
	if m.ttl > 0 {
		if capped := now.Add(m.ttl); capped.Before(expires) {
			expires = capped
		}
	}
	if !now.Before(expires) {
		return nil, errors.New("session: expiry must be after creation")
	}
	id, err := ulid.New(ulid.Timestamp(now), ulid.DefaultEntropy())
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	s := &domain.Session{
		ID:        id.String(),
		Key:       m.keyer.Key(token),
		UserID:    subjectID,
		CreatedAt: now.UTC(),
		ExpiresAt: expires.UTC(),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate returns the session for token when it is live at now, or nil when
// it is unknown, invalidated or expired. Errors are store failures only.
func (m *Manager) Validate(ctx context.Context, token string, now time.Time) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	s, err := m.store.Get(ctx, m.keyer.Key(token))
	if err != nil {
		return nil, err
	}
	if !s.Live(now) {
		return nil, nil
	}
	return s, nil
}

// Invalidate marks the session for token dead. Unknown and already-invalidated tokens are a no-op.
func (m *Manager) Invalidate(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Invalidate(ctx, m.keyer.Key(token), m.clock())
}

// InvalidateSession marks s dead by its stored key.
func (m *Manager) InvalidateSession(ctx context.Context, s *domain.Session) error {
	return m.store.Invalidate(ctx, s.Key, m.clock())
}

// InvalidateUser marks every live session of userID dead and returns how many were live.
func (m *Manager) InvalidateUser(ctx context.Context, userID string) (int, error) {
	now := m.clock()
	live, err := m.ListLive(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	for _, s := range live {
		if err := m.store.Invalidate(ctx, s.Key, now); err != nil {
			return 0, err
		}
	}
	return len(live), nil
}

// ListLive returns the live sessions of userID at now, oldest first.
func (m *Manager) ListLive(ctx context.Context, userID string, now time.Time) ([]*domain.Session, error) {
	all, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	live := all[:0]
	for _, s := range all {
		if s.Live(now) {
			live = append(live, s)
		}
	}
	return live, nil
}

// Sweep removes sessions whose expiry passed before now.
func (m *Manager) Sweep(ctx context.Context, now time.Time) (int, error) {
	return m.store.Sweep(ctx, now)
}
