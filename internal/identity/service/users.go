package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/johndoe6345789/pyracms-core/internal/metrics"
	telemetrydomain "github.com/johndoe6345789/pyracms-core/internal/telemetry/domain"
	userdomain "github.com/johndoe6345789/pyracms-core/internal/user/domain"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500
)

// UserUpdate holds the profile fields to change; nil fields are left alone.
type UserUpdate struct {
	Username *string
	Email    *string
	Password *string
}

func newUserID() string {
	return uuid.New().String()
}

// GetUser returns the user with id or ErrNotFound.
func (s *AuthService) GetUser(ctx context.Context, id string) (*userdomain.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrNotFound
	}
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// ListUsers pages through users. limit defaults to 100 and is capped at 500.
func (s *AuthService) ListUsers(ctx context.Context, limit, offset int) ([]*userdomain.User, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// UpdateUser applies upd to the caller's own account. A password change
// invalidates every other session of the caller.
func (s *AuthService) UpdateUser(ctx context.Context, caller *Identity, id string, upd UserUpdate) (*userdomain.User, error) {
	if caller == nil || caller.UserID != id {
		return nil, ErrForbidden
	}
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	var username, email string
	if upd.Username != nil {
		username = strings.TrimSpace(*upd.Username)
		if err := userdomain.ValidateUsername(username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		u.Username = username
	}
	if upd.Email != nil {
		email = userdomain.NormalizeEmail(*upd.Email)
		if err := userdomain.ValidateEmail(email); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		u.Email = email
	}
	var hash string
	if upd.Password != nil {
		if err := validatePassword(*upd.Password); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		if hash, err = s.hashPassword(ctx, *upd.Password); err != nil {
			return nil, err
		}
	}
	if err := s.ensureAvailable(ctx, u.ID, username, email); err != nil {
		return nil, err
	}
	u.UpdatedAt = s.clock().UTC()
	if err := s.users.Update(ctx, u); err != nil {
		return nil, err
	}
	if hash != "" {
		if err := s.users.UpdatePasswordHash(ctx, u.ID, hash); err != nil {
			return nil, err
		}
		u.PasswordHash = hash
		if err := s.invalidateOthers(ctx, caller); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (s *AuthService) invalidateOthers(ctx context.Context, caller *Identity) error {
	live, err := s.sessions.ListLive(ctx, caller.UserID, s.clock())
	if err != nil {
		return err
	}
	n := 0
	for _, ls := range live {
		if ls.ID == caller.SessionID {
			continue
		}
		if err := s.sessions.InvalidateSession(ctx, ls); err != nil {
			return err
		}
		n++
	}
	s.metrics.SessionsInvalidated(metrics.InvalidatedLogoutAll, n)
	return nil
}

// DeleteUser removes the caller's own account and invalidates its sessions.
func (s *AuthService) DeleteUser(ctx context.Context, caller *Identity, id string) error {
	if caller == nil || caller.UserID != id {
		return ErrForbidden
	}
	if _, err := s.GetUser(ctx, id); err != nil {
		return err
	}
	n, err := s.sessions.InvalidateUser(ctx, id)
	if err != nil {
		return fmt.Errorf("delete user: invalidate sessions: %w", err)
	}
	s.metrics.SessionsInvalidated(metrics.InvalidatedDeleted, n)
	if err := s.users.Delete(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, telemetrydomain.EventUserDeleted, id, caller.SessionID, "")
	s.log.Info().Str("user_id", id).Msg("user deleted")
	return nil
}
