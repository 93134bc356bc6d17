package store

import (
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/einfra-labs/chatbox/internal/store/migrations"
)

// Migrate brings the cache schema up to date from the embedded
// migration files. It returns the resulting schema version and whether
// anything had to be applied.
func (db *DB) Migrate() (version uint, changed bool, err error) {
	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return 0, false, fmt.Errorf("migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return 0, false, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return 0, false, fmt.Errorf("migration instance: %w", err)
	}

	switch err = m.Up(); err {
	case nil:
		changed = true
	case migrate.ErrNoChange:
	default:
		return 0, false, fmt.Errorf("migration up: %w", err)
	}

	version, dirty, _ := m.Version()
	if dirty {
		return version, changed, fmt.Errorf("cache schema at version %d is dirty", version)
	}
	return version, changed, nil
}
