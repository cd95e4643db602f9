package repository

import (
	"context"
	"errors"

	"github.com/johndoe6345789/pyracms-core/internal/user/domain"
)

// ErrUserExists is returned when a username or email is already taken.
var ErrUserExists = errors.New("user already exists")

// Repository defines persistence for users. Lookups return (nil, nil) when no
// row matches; errors are reserved for storage failures.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	List(ctx context.Context, limit, offset int) ([]*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	Update(ctx context.Context, u *domain.User) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Delete(ctx context.Context, id string) error
}
