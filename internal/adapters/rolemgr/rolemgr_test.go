package rolemgr_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/config"
	cerrors "github.com/civicforge/recordengine/pkg/errors"
)

const rolesYAML = `
users:
  clerk1:
    role: clerk
    name: Clerk One
    active: true
  retired1:
    role: clerk
    name: Retired Clerk
    active: false
roles:
  clerk:
    description: Front-desk clerk
    approval_required: false
  admin:
    description: Administrator
    can_publish: true
    can_merge: true
`

func newCatalog(t *testing.T) *rolemgr.Catalog {
	t.Helper()

	path := filepath.Join(t.TempDir(), "roles.yml")
	require.NoError(t, os.WriteFile(path, []byte(rolesYAML), 0o644))

	catalog, err := rolemgr.LoadCatalog(path)
	require.NoError(t, err)

	return catalog
}

func newDB(t *testing.T) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "civic.db")
	conn := indexdb.New(config.DBDriverSQLite, path, nil)

	db, err := conn.DB(context.Background())
	require.NoError(t, err)
	require.NoError(t, indexdb.Migrate(db, config.DBDriverSQLite, nil))

	t.Cleanup(func() { conn.Close() })

	return db
}

func TestCatalog_ResolveActiveUser(t *testing.T) {
	catalog := newCatalog(t)

	p, err := catalog.Resolve("clerk1")
	require.NoError(t, err)
	assert.Equal(t, "clerk", p.Role)
}

func TestCatalog_ResolveInactiveUserDenied(t *testing.T) {
	catalog := newCatalog(t)

	_, err := catalog.Resolve("retired1")
	require.Error(t, err)
	assert.Equal(t, cerrors.KindAuthorization, cerrors.KindOf(err))
}

func TestCatalog_ResolveUnknownUserNotFound(t *testing.T) {
	catalog := newCatalog(t)

	_, err := catalog.Resolve("nobody")
	require.Error(t, err)
	assert.Equal(t, cerrors.KindNotFound, cerrors.KindOf(err))
}

func TestResolver_SessionLoginAndResolve(t *testing.T) {
	db := newDB(t)
	resolver := rolemgr.NewResolver(
		newCatalog(t),
		rolemgr.NewSessionStore(db, config.DBDriverSQLite),
		rolemgr.NewAPIKeyStore(db, config.DBDriverSQLite),
	)
	ctx := context.Background()

	token, err := resolver.Login(ctx, "clerk1", time.Hour)
	require.NoError(t, err)

	p, err := resolver.FromSessionToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "clerk1", p.Username)
	assert.Equal(t, "clerk", p.Role)
}

func TestResolver_ExpiredSessionDenied(t *testing.T) {
	db := newDB(t)
	resolver := rolemgr.NewResolver(
		newCatalog(t),
		rolemgr.NewSessionStore(db, config.DBDriverSQLite),
		rolemgr.NewAPIKeyStore(db, config.DBDriverSQLite),
	)
	ctx := context.Background()

	token, err := resolver.Login(ctx, "clerk1", -time.Hour)
	require.NoError(t, err)

	_, err = resolver.FromSessionToken(ctx, token)
	require.Error(t, err)
	assert.Equal(t, cerrors.KindAuthorization, cerrors.KindOf(err))
}

func TestResolver_OnRoleChangeRevokesAllSessions(t *testing.T) {
	db := newDB(t)
	resolver := rolemgr.NewResolver(
		newCatalog(t),
		rolemgr.NewSessionStore(db, config.DBDriverSQLite),
		rolemgr.NewAPIKeyStore(db, config.DBDriverSQLite),
	)
	ctx := context.Background()

	token, err := resolver.Login(ctx, "clerk1", time.Hour)
	require.NoError(t, err)

	require.NoError(t, resolver.OnRoleChange(ctx, "clerk1"))

	_, err = resolver.FromSessionToken(ctx, token)
	require.Error(t, err)
}

func TestResolver_APIKeyLifecycle(t *testing.T) {
	db := newDB(t)
	resolver := rolemgr.NewResolver(
		newCatalog(t),
		rolemgr.NewSessionStore(db, config.DBDriverSQLite),
		rolemgr.NewAPIKeyStore(db, config.DBDriverSQLite),
	)
	ctx := context.Background()

	rawKey, err := resolver.CreateAPIKey(ctx, "key-1", "clerk1", "ci pipeline")
	require.NoError(t, err)
	require.NotEmpty(t, rawKey)

	p, err := resolver.FromAPIKey(ctx, rawKey)
	require.NoError(t, err)
	assert.Equal(t, "clerk1", p.Username)

	require.NoError(t, resolver.RevokeAPIKey(ctx, "key-1"))

	_, err = resolver.FromAPIKey(ctx, rawKey)
	require.Error(t, err)
	assert.Equal(t, cerrors.KindAuthorization, cerrors.KindOf(err))
}
