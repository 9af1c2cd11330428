// Package indexdb implements the Index DB port of spec.md §4.3: the
// relational cache of record metadata, plus saga/lock/activity/user
// tables the Saga Executor and Activity Log adapters persist through.
//
// Grounded on common/mpostgres.PostgresConnection's singleton-connection
// hub (lazy Connect, cached *sql.DB, migration run on first connect) and
// on jra3-linear-fuse/internal/db's sqlite Open/openDB pair (WAL mode,
// foreign keys on, directory creation). The two backends share this one
// Connection type and are selected by config.DBDriver at construction,
// never by runtime reflection (spec.md's tagged-variant rule).
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
	_ "modernc.org/sqlite"             // registers "sqlite" driver

	"github.com/civicforge/recordengine/internal/config"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// Connection is a lazily-established, cached handle to the Index DB,
// mirroring the teacher's PostgresConnection hub but covering either
// backend.
type Connection struct {
	driver config.DBDriver
	dsn    string
	logger mlog.Logger

	mu sync.Mutex
	db *sql.DB
}

func New(driver config.DBDriver, dsn string, logger mlog.Logger) *Connection {
	if logger == nil {
		logger = mlog.NoneLogger{}
	}

	return &Connection{driver: driver, dsn: dsn, logger: logger}
}

// Driver reports which backend this connection targets.
func (c *Connection) Driver() config.DBDriver { return c.driver }

// DB returns the underlying *sql.DB, connecting (and for sqlite, creating
// the parent directory and enabling WAL + foreign keys) on first call.
func (c *Connection) DB(ctx context.Context) (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		return c.db, nil
	}

	var (
		db  *sql.DB
		err error
	)

	switch c.driver {
	case config.DBDriverSQLite:
		db, err = c.openSQLite()
	case config.DBDriverPostgres:
		db, err = sql.Open("pgx", c.dsn)
	default:
		return nil, cerrors.Fatal(fmt.Sprintf("unknown index db driver %q", c.driver), nil)
	}

	if err != nil {
		return nil, cerrors.Transient("opening index db connection", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, cerrors.Transient("pinging index db", err)
	}

	c.logger.Infof("connected to index db (driver=%s)", c.driver)
	c.db = db

	return db, nil
}

func (c *Connection) openSQLite() (*sql.DB, error) {
	path := c.dsn
	if idx := strings.Index(path, "?"); idx >= 0 {
		path = path[:idx]
	}

	if path != "" && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.dsn)
	if err != nil {
		return nil, err
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	return db, nil
}

// Close closes the underlying connection, if one was opened.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	return c.db.Close()
}
