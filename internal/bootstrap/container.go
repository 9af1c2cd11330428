// Package bootstrap wires the Record Engine's adapters and services
// into one ready-to-serve Container, mirroring the teacher's
// InitServersWithOptions: every collaborator is constructed leaf-first
// so each constructor only ever depends on already-built values, never
// on a promise of one (spec.md §2, §9).
//
// The construction order is fixed: config, then the Record Store and
// Git Gateway (no dependencies of their own), then the Index DB
// connection and driver-tagged repository, then the Template Engine
// and Cache Manager (both hang off the shared file watcher), then the
// Auth/Role Resolver and Workflow Engine (pure config readers), then
// the Activity Log (it needs the Index DB connection already open, and
// the Hook Bus needs it as its ActivityRecorder), then the Hook Bus and
// Saga Executor, then the Record Manager that composes all of the
// above, and finally the Indexing Service, which gets the Record
// Manager attached after both exist.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/civicforge/recordengine/internal/adapters/activitylog"
	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
	"github.com/civicforge/recordengine/internal/adapters/fsstore"
	"github.com/civicforge/recordengine/internal/adapters/gitgw"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	indexpostgres "github.com/civicforge/recordengine/internal/adapters/indexdb/postgres"
	indexsqlite "github.com/civicforge/recordengine/internal/adapters/indexdb/sqlite"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	"github.com/civicforge/recordengine/internal/adapters/templateengine"
	"github.com/civicforge/recordengine/internal/adapters/watch"
	"github.com/civicforge/recordengine/internal/config"
	goredis "github.com/redis/go-redis/v9"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/domain/workflowcfg"
	"github.com/civicforge/recordengine/internal/services/indexing"
	"github.com/civicforge/recordengine/internal/services/recordmanager"
	"github.com/civicforge/recordengine/internal/workflow"
	"github.com/civicforge/recordengine/pkg/mlog"
)

// Container holds every long-lived collaborator the engine's entry
// points (a future CLI, an HTTP server — both outside this module's
// scope per spec.md §1 Non-goals) need to do anything: it is the
// engine's public surface, not a grab-bag of internals.
type Container struct {
	Config *config.Config
	Logger mlog.Logger

	Store *fsstore.Store
	Git   *gitgw.Gateway

	db   *indexdb.Connection
	Repo recdomain.Repository

	Templates *templateengine.Engine
	Cache     *cachemgr.Manager
	Watcher   *watch.Watcher

	Roles    *rolemgr.Catalog
	Workflow *workflow.Engine

	Hooks *hookbus.Bus
	Sagas *sagaexec.Executor

	Records *recordmanager.Manager
	Index   *indexing.Service
	Activity *activitylog.Log
}

// Options lets callers override what Resolve would otherwise pick on
// its own: a development logger, a root directory other than the
// process's working directory, and so on. All fields are optional.
type Options struct {
	RootDir     string
	Development bool
}

// New resolves .civicrc starting at opts.RootDir (the process's
// current directory when empty) and constructs every collaborator in
// dependency order, returning a fully wired Container.
func New(ctx context.Context, opts Options) (*Container, error) {
	rootDir := opts.RootDir
	if rootDir == "" {
		rootDir = "."
	}

	cfg, err := config.Resolve(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	logger, err := mlog.NewZap(opts.Development)
	if err != nil {
		return nil, fmt.Errorf("constructing logger: %w", err)
	}

	store := fsstore.New(cfg.RecordsDir(), cfg.ArchiveDir())

	git := gitgw.New(cfg.RootDir, logger)
	if err := git.EnsureRepo(ctx); err != nil {
		return nil, fmt.Errorf("ensuring git repo: %w", err)
	}

	dsn := cfg.Database.DSN
	if dsn == "" && cfg.Database.Driver == config.DBDriverSQLite {
		dsn = cfg.SQLiteFile()
	}

	conn := indexdb.New(cfg.Database.Driver, dsn, logger)

	db, err := conn.DB(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening index db: %w", err)
	}

	if err := indexdb.Migrate(db, cfg.Database.Driver, logger); err != nil {
		return nil, fmt.Errorf("migrating index db: %w", err)
	}

	repo, err := newRepository(cfg.Database.Driver, db)
	if err != nil {
		return nil, err
	}

	watcher, err := watch.New(logger)
	if err != nil {
		return nil, fmt.Errorf("starting file watcher: %w", err)
	}

	templates := templateengine.New(cfg.TemplatesDir(), cfg.PartialsDir(), watcher)

	cache := newCacheManager(cfg.Cache, watcher, logger)

	roles, err := rolemgr.LoadCatalog(cfg.RolesPath())
	if err != nil {
		return nil, fmt.Errorf("loading roles.yml: %w", err)
	}

	workflowCfg, err := workflowcfg.Load(cfg.WorkflowsPath())
	if err != nil {
		return nil, fmt.Errorf("loading workflows.yml: %w", err)
	}

	engine := workflow.New(workflowCfg)

	activity, err := activitylog.New(cfg.ActivityLogFile(), db, cfg.Database.Driver, activitylog.RotationPolicy{})
	if err != nil {
		return nil, fmt.Errorf("opening activity log: %w", err)
	}

	transport := newHookTransport(cfg.Broker, logger)
	bus := hookbus.New(activity, transport, logger)

	sagaStore := sagaexec.NewStore(db, cfg.Database.Driver)
	sagas := sagaexec.New(sagaStore, logger)

	records := recordmanager.New(workflowCfg, store, git, repo, sagas, cache, bus, roles, gitgw.Identity{
		Name:  cfg.Identity.Name,
		Email: cfg.Identity.Email,
	}, logger)

	index := indexing.New(store, repo, indexing.NewFileWriter(), bus, logger)
	index.AttachRecordManager(records)

	return &Container{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Git:       git,
		db:        conn,
		Repo:      repo,
		Templates: templates,
		Cache:     cache,
		Watcher:   watcher,
		Roles:     roles,
		Workflow:  engine,
		Hooks:     bus,
		Sagas:     sagas,
		Records:   records,
		Index:     index,
		Activity:  activity,
	}, nil
}

// newRepository selects the Index DB repository implementation for
// driver. Both implementations share the recdomain.Repository port, so
// every caller above this function is driver-agnostic (spec.md §4.3).
func newRepository(driver config.DBDriver, db *sql.DB) (recdomain.Repository, error) {
	switch driver {
	case config.DBDriverPostgres:
		return indexpostgres.NewRepository(db), nil
	case config.DBDriverSQLite, "":
		return indexsqlite.NewRepository(db), nil
	default:
		return nil, fmt.Errorf("unsupported index db driver %q", driver)
	}
}

// newCacheManager selects the Cache Manager's default strategy per
// cfg.Strategy (spec.md §4.9): "memory" backs every unregistered cache
// name with an in-process LRU, optionally write-through to Redis when
// RedisAddr is set; "manual" and "never" use the matching Strategy
// directly; anything else (including the empty default) falls back to
// file_watcher, which invalidates on the shared Watcher's notifications
// and is the safest default for a filesystem-backed system of record.
func newCacheManager(cfg config.CacheConfig, w *watch.Watcher, logger mlog.Logger) *cachemgr.Manager {
	switch cfg.Strategy {
	case "memory":
		maxEntries := cfg.MaxEntries
		if maxEntries <= 0 {
			maxEntries = 1000
		}

		var redis cachemgr.RedisBackend
		if cfg.RedisAddr != "" {
			redis = newRedisBackend(cfg.RedisAddr)
		}

		return cachemgr.New(cachemgr.NewMemory(maxEntries, redis, logger), nil)
	case "manual":
		return cachemgr.New(cachemgr.NewManual(), nil)
	case "never":
		return cachemgr.New(cachemgr.Never{}, nil)
	default:
		return cachemgr.New(cachemgr.NewFileWatcher(w), nil)
	}
}

// redisBackend adapts *goredis.Client to cachemgr.RedisBackend.
type redisBackend struct {
	client *goredis.Client
}

func newRedisBackend(addr string) *redisBackend {
	return &redisBackend{client: goredis.NewClient(&goredis.Options{Addr: addr})}
}

func (r *redisBackend) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

func (r *redisBackend) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, key).Result()
}

func (r *redisBackend) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// newHookTransport selects the Hook Bus's async transport: RabbitMQ
// when a broker URL is configured, otherwise nil. With a nil transport
// the Bus still runs sync handlers inline, but logs and skips every
// async handler; there is no in-process async fan-out (spec.md §4.5).
func newHookTransport(cfg config.BrokerConfig, logger mlog.Logger) hookbus.AsyncTransport {
	if cfg.URL == "" {
		return nil
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = "civic.hooks"
	}

	return hookbus.NewRabbitTransport(cfg.URL, exchange, logger)
}

// Close releases every collaborator holding an OS resource: the Index
// DB connection and the shared file watcher. Safe to call once during
// process shutdown.
func (c *Container) Close() error {
	var watcherErr error
	if c.Watcher != nil {
		watcherErr = c.Watcher.Close()
	}

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			return err
		}
	}

	return watcherErr
}
