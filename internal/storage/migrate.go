package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "inviter/pkg/logx"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationFS embed.FS

// Migrate applies all pending migrations for the store's dialect.
func (s *Store) Migrate(ctx context.Context) error {
	m, err := s.migrator(ctx)
	if err != nil {
		return err
	}
	defer s.closeMigrate(m)

	before, _, _ := m.Version()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	after, dirty, _ := m.Version()
	if after != before {
		s.log.Info("migrations applied", logx.Int("from", int(before)), logx.Int("to", int(after)))
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", after)
	}
	return nil
}

// MigrationVersion reports the applied schema version.
func (s *Store) MigrationVersion(ctx context.Context) (uint, bool, error) {
	m, err := s.migrator(ctx)
	if err != nil {
		return 0, false, err
	}
	defer s.closeMigrate(m)

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// migrator uses a dedicated connection: closing the migrate instance closes
// its database handle.
func (s *Store) migrator(ctx context.Context) (*migrate.Migrate, error) {
	db, err := sql.Open(s.dialect.driverName, s.dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	var drv database.Driver
	switch s.dialect.name {
	case sqliteDialect.name:
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	default:
		drv, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration driver: %w", err)
	}

	src, err := iofs.New(migrationFS, "migrations/"+s.dialect.name)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, s.dialect.name, drv)
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return m, nil
}

func (s *Store) closeMigrate(m *migrate.Migrate) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		s.log.Warn("close migration source", logx.Err(srcErr))
	}
	if dbErr != nil {
		s.log.Warn("close migration database", logx.Err(dbErr))
	}
}
