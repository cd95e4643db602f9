package repository

import (
	"context"
	"errors"
	"time"

	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
)

var (
	// ErrSessionConflict is returned by Create when a record already exists for the key.
	ErrSessionConflict = errors.New("session already exists")
	// ErrStoreUnavailable wraps backend failures (network, database) so callers can
	// tell them apart from conflicts.
	ErrStoreUnavailable = errors.New("session store unavailable")
)

// Store persists sessions keyed by the derived session key. Implementations
// must be safe for concurrent use.
type Store interface {
	// Create inserts s. It returns ErrSessionConflict if any record, live or
	// invalidated, already exists for s.Key; the existing record is untouched.
	Create(ctx context.Context, s *domain.Session) error
	// Get returns the session for key, or nil if none exists.
	Get(ctx context.Context, key string) (*domain.Session, error)
	// Invalidate marks the session for key as revoked at at. Unknown keys and
	// already-revoked sessions are a no-op.
	Invalidate(ctx context.Context, key string, at time.Time) error
	// ListByUser returns every stored session for userID, oldest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Sweep deletes sessions whose ExpiresAt is not after now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}
