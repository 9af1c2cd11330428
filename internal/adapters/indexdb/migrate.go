package indexdb

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/civicforge/recordengine/internal/config"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrations embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrations embed.FS

// Migrate runs the Index DB schema to the latest version, recovering
// automatically from a dirty migration state left by a previous crashed
// run (spec.md §2: "schema migrations run on startup with dirty-state
// auto-recovery"). Grounded on pkg/mmigration's documented contract
// (PreflightCheck detects dirty, recoverDirtyMigration clears the dirty
// flag without changing version, assuming the migration file itself is
// idempotent or was already partially applied) adapted to use
// golang-migrate directly instead of hand-rolled SQL, since this module
// pulls in golang-migrate/migrate/v4 as the teacher already does for
// postgres.
func Migrate(db *sql.DB, driver config.DBDriver, logger mlog.Logger) error {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	m, err := newMigrator(db, driver)
	if err != nil {
		return cerrors.Fatal("constructing schema migrator", err)
	}

	defer m.Close()

	err = m.Up()
	switch {
	case err == nil:
		logger.Infof("index db schema migrated (driver=%s)", driver)
		return nil
	case errors.Is(err, migrate.ErrNoChange):
		return nil
	}

	var dirty migrate.ErrDirty
	if errors.As(err, &dirty) {
		logger.Warnf("index db schema at version %d is dirty, forcing clean and retrying", dirty.Version)

		if forceErr := m.Force(dirty.Version); forceErr != nil {
			return cerrors.Fatal("forcing dirty schema version clean", forceErr)
		}

		if retryErr := m.Up(); retryErr != nil && !errors.Is(retryErr, migrate.ErrNoChange) {
			return cerrors.Fatal("retrying schema migration after dirty recovery", retryErr)
		}

		return nil
	}

	return cerrors.Fatal("running schema migrations", err)
}

func newMigrator(db *sql.DB, driver config.DBDriver) (*migrate.Migrate, error) {
	switch driver {
	case config.DBDriverSQLite:
		src, err := iofs.New(sqliteMigrations, "migrations/sqlite")
		if err != nil {
			return nil, err
		}

		target, err := sqlite.WithInstance(db, &sqlite.Config{})
		if err != nil {
			return nil, err
		}

		return migrate.NewWithInstance("iofs", src, "sqlite", target)
	case config.DBDriverPostgres:
		src, err := iofs.New(postgresMigrations, "migrations/postgres")
		if err != nil {
			return nil, err
		}

		target, err := postgres.WithInstance(db, &postgres.Config{})
		if err != nil {
			return nil, err
		}

		return migrate.NewWithInstance("iofs", src, "postgres", target)
	default:
		return nil, fmt.Errorf("unknown index db driver %q", driver)
	}
}
