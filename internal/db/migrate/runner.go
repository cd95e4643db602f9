// Package migrate applies the embedded schema migrations using golang-migrate.
package migrate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/johndoe6345789/pyracms-core/internal/db"
)

// Option configures a migration run.
type Option func(*migrate.Migrate)

// WithLogger routes golang-migrate progress output to log at debug level.
func WithLogger(log zerolog.Logger) Option {
	return func(m *migrate.Migrate) { m.Log = zerologAdapter{log: log} }
}

// Run applies migrations in direction ("up" or "down") against dsn. Being
// already at the target version is not an error.
func Run(dsn string, direction string, opts ...Option) error {
	if dsn == "" {
		return errors.New("DATABASE_URL is not set; pass --db or set DATABASE_URL")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("direction must be up or down, got %q", direction)
	}

	m, err := open(dsn)
	if err != nil {
		return err
	}
	defer func() { _, _ = m.Close() }()
	for _, opt := range opts {
		opt(m)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version returns the applied schema version and whether the last migration
// left the database dirty. A database with no migrations reports version 0.
func Version(dsn string) (uint, bool, error) {
	if dsn == "" {
		return 0, false, errors.New("DATABASE_URL is not set; pass --db or set DATABASE_URL")
	}
	m, err := open(dsn)
	if err != nil {
		return 0, false, err
	}
	defer func() { _, _ = m.Close() }()
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func open(dsn string) (*migrate.Migrate, error) {
	sourceDriver, err := iofs.New(db.MigrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return m, nil
}

type zerologAdapter struct {
	log zerolog.Logger
}

func (a zerologAdapter) Printf(format string, v ...any) {
	a.log.Debug().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (a zerologAdapter) Verbose() bool {
	return a.log.GetLevel() <= zerolog.DebugLevel
}
