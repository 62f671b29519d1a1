// Package migration applies and authors the versioned SQL schema of the
// postgres store with golang-migrate.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// Migrator owns a golang-migrate instance. Close also closes the *sql.DB it
// was built on, so give it a dedicated connection.
type Migrator struct {
	m      *migrate.Migrate
	logger *zap.Logger
}

// New reads migrations from a directory on disk
func New(db *sql.DB, dir string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://"+dir, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return wrap(m, logger), nil
}

// NewFromFS reads migrations from fsys, normally the embedded migrations.FS
func NewFromFS(db *sql.DB, fsys fs.FS, logger *zap.Logger) (*Migrator, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err == nil {
		var m *migrate.Migrate
		if m, err = migrate.NewWithInstance("iofs", src, "postgres", driver); err == nil {
			return wrap(m, logger), nil
		}
	}
	_ = src.Close()
	return nil, fmt.Errorf("failed to create migrator: %w", err)
}

func wrap(m *migrate.Migrate, logger *zap.Logger) *Migrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{m: m, logger: logger.Named("migrate")}
}

// Up applies every pending migration
func (m *Migrator) Up() error {
	return m.apply("up", m.m.Up)
}

// Down rolls every migration back
func (m *Migrator) Down() error {
	return m.apply("down", m.m.Down)
}

// Steps moves n migrations, up for positive n and down for negative
func (m *Migrator) Steps(n int) error {
	return m.apply(fmt.Sprintf("step %+d", n), func() error { return m.m.Steps(n) })
}

// apply runs op and logs the resulting version. ErrNoChange is success.
func (m *Migrator) apply(name string, op func() error) error {
	m.logger.Info("Running migrations", zap.String("op", name))
	switch err := op(); {
	case errors.Is(err, migrate.ErrNoChange):
		m.logger.Info("Schema already current", zap.String("op", name))
		return nil
	case err != nil:
		return fmt.Errorf("migration %s failed: %w", name, err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Migrations applied",
		zap.String("op", name),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version is the applied version and its dirty flag. An empty schema is version 0.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force records version as applied and clean without running anything.
// It exists to repair a schema left dirty by a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// Versions lists the migration versions in fsys, ascending
func Versions(fsys fs.FS) ([]uint, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migration source: %w", err)
	}
	defer src.Close()

	var versions []uint
	for v, err := src.First(); ; v, err = src.Next(v) {
		if errors.Is(err, fs.ErrNotExist) {
			return versions, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read migration source: %w", err)
		}
		versions = append(versions, v)
	}
}
