package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/johndoe6345789/pyracms-core/internal/session/domain"
)

const pgUniqueViolation = "23505"

// PostgresStore is a Store backed by the sessions table. The unique index on
// token_key arbitrates concurrent creates.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore returns a session store that uses the given db for persistence.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (r *PostgresStore) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, token_key, user_id, created_at, expires_at, revoked_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.Key, s.UserID, s.CreatedAt, s.ExpiresAt, timeToNullTime(s.RevokedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrSessionConflict
		}
		return storeErr(err)
	}
	return nil
}

// Get returns the session for key, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresStore) Get(ctx context.Context, key string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, token_key, user_id, created_at, expires_at, revoked_at
		 FROM sessions WHERE token_key = $1`, key)
	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, storeErr(err)
	}
	return s, nil
}

func (r *PostgresStore) Invalidate(ctx context.Context, key string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET revoked_at = $2 WHERE token_key = $1 AND revoked_at IS NULL`,
		key, at.UTC())
	if err != nil {
		return storeErr(err)
	}
	return nil
}

func (r *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, token_key, user_id, created_at, expires_at, revoked_at
		 FROM sessions WHERE user_id = $1 ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()
	out := []*domain.Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, storeErr(err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

func (r *PostgresStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, storeErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var revoked sql.NullTime
	if err := row.Scan(&s.ID, &s.Key, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &revoked); err != nil {
		return nil, err
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.RevokedAt = nullTimeToPtr(revoked)
	return &s, nil
}

func storeErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time.UTC()
	return &t
}
