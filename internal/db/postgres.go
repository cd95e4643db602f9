// Package db opens the Postgres pool shared by the user and session stores.
package db

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Pool limits for the shared handle. Logins are short transactions, so a
// modest pool keeps Postgres connection counts predictable.
const (
	maxOpenConns    = 20
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
)

// Open opens a Postgres connection pool using the pgx driver and verifies it
// with a ping bounded by ctx. Caller must call Close when done.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("database dsn is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Pinger adapts a *sql.DB to the readiness check interface.
type Pinger struct {
	DB *sql.DB
}

// Ping reports whether the database answers.
func (p Pinger) Ping(ctx context.Context) error {
	return p.DB.PingContext(ctx)
}
