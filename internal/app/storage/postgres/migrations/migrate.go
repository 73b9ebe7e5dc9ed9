// Package migrations applies the embedded SQL schema against a PostgreSQL
// database using golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/carbonledger/platform/pkg/logger"
)

//go:embed schema/*.sql
var schemaFiles embed.FS

// Migrator applies the embedded schema migrations to a *sql.DB.
type Migrator struct {
	log *logger.Logger
}

// New builds a Migrator. log may be nil, in which case migration progress is
// not logged.
func New(log *logger.Logger) *Migrator {
	return &Migrator{log: log}
}

// Apply runs every pending "up" migration against db. It is safe to call on
// an already up-to-date database: migrate.ErrNoChange is swallowed.
func (m *Migrator) Apply(db *sql.DB) error {
	src, err := iofs.New(schemaFiles, "schema")
	if err != nil {
		return fmt.Errorf("open embedded schema: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres migration driver: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrator: %w", err)
	}

	if m.log != nil {
		m.log.Info("applying database migrations")
	}

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}

	if m.log != nil {
		if version, dirty, err := migrator.Version(); err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			m.log.WithError(err).Warn("failed to read migration version")
		} else {
			m.log.WithField("version", version).WithField("dirty", dirty).Debug("current migration version")
		}
	}

	return nil
}
