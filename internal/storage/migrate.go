package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// migrations/<engine>/ holds one schema history per database engine.
//
//go:embed migrations
var migrationsFS embed.FS

const (
	engineSQLite   = "sqlite"
	enginePostgres = "postgres"
)

// RunMigrations brings the SQLite ledger schema at dbPath up to date.
func RunMigrations(dbPath string) error {
	return withSQLiteMigrator(dbPath, migrateUp)
}

// SchemaVersion reports the applied migration version of the SQLite
// database at dbPath and whether the last migration left it dirty.
func SchemaVersion(dbPath string) (version uint, dirty bool, err error) {
	err = withSQLiteMigrator(dbPath, func(m *migrate.Migrate) error {
		version, dirty, err = schemaVersion(m)
		return err
	})
	return version, dirty, err
}

// RunPostgresMigrations brings the Postgres ledger schema up to date. db is
// not closed.
func RunPostgresMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	// Closing the migrator would close db as well.
	m, err := newMigrator(enginePostgres, driver)
	if err != nil {
		return err
	}
	return migrateUp(m)
}

func migrateUp(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// withSQLiteMigrator uses its own connection so migrations never share the
// single writer connection held by the repository.
func withSQLiteMigrator(dbPath string, fn func(m *migrate.Migrate) error) error {
	migrateDB, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open migration database: %w", err)
	}
	defer migrateDB.Close()

	driver, err := sqlite.WithInstance(migrateDB, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite driver: %w", err)
	}

	m, err := newMigrator(engineSQLite, driver)
	if err != nil {
		return err
	}
	defer m.Close()

	return fn(m)
}

func newMigrator(engine string, driver database.Driver) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+engine)
	if err != nil {
		return nil, fmt.Errorf("create iofs source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, engine, driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}
