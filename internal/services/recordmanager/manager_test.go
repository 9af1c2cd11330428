package recordmanager_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/cachemgr"
	"github.com/civicforge/recordengine/internal/adapters/fsstore"
	"github.com/civicforge/recordengine/internal/adapters/gitgw"
	"github.com/civicforge/recordengine/internal/adapters/hookbus"
	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	"github.com/civicforge/recordengine/internal/adapters/indexdb/sqlite"
	"github.com/civicforge/recordengine/internal/adapters/rolemgr"
	"github.com/civicforge/recordengine/internal/adapters/sagaexec"
	"github.com/civicforge/recordengine/internal/config"
	recdomain "github.com/civicforge/recordengine/internal/domain/record"
	"github.com/civicforge/recordengine/internal/domain/workflowcfg"
	"github.com/civicforge/recordengine/internal/services/recordmanager"
)

// stubUsers is a fixed allow-list UserChecker, standing in for
// *rolemgr.Catalog in tests that don't need a full roles.yml.
type stubUsers map[string]bool

func (s stubUsers) Exists(username string) bool { return s[username] }

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

// newStoreAndGateway roots the Record Store's records/ tree inside the
// git working tree, so the records/<type>/<slug>.md paths the Manager
// stages name the files the store writes.
func newStoreAndGateway(t *testing.T) (*fsstore.Store, *gitgw.Gateway) {
	t.Helper()

	dir := t.TempDir()
	recordsDir := filepath.Join(dir, "records")
	archiveDir := filepath.Join(recordsDir, "archive")

	gw := gitgw.New(dir, nil)
	require.NoError(t, gw.EnsureRepo(context.Background()))

	return fsstore.New(recordsDir, archiveDir), gw
}

func bylawConfig() *workflowcfg.Config {
	return &workflowcfg.Config{
		Statuses: []string{"draft", "proposed", "approved", "rejected", "archived"},
		Transitions: map[string][]string{
			"draft":    {"proposed"},
			"proposed": {"approved", "rejected"},
			"approved": {"archived"},
		},
		Roles: map[string]workflowcfg.RolePermissions{
			"clerk": {
				CanCreate: []string{"bylaw"},
				CanEdit:   []string{"bylaw"},
				CanDelete: []string{"bylaw"},
				CanView:   []string{"bylaw"},
				CanTransition: map[string][]string{
					"draft": {"proposed"},
				},
			},
			"council": {
				CanEdit: []string{"bylaw"},
				CanView: []string{"bylaw"},
				CanTransition: map[string][]string{
					"proposed": {"approved", "rejected"},
					"approved": {"archived"},
				},
			},
			"public": {
				CanView: []string{"bylaw"},
			},
		},
	}
}

func newManager(t *testing.T) (*recordmanager.Manager, *fsstore.Store, recdomain.Repository) {
	t.Helper()

	store, gw := newStoreAndGateway(t)
	repo := sqlite.NewRepository(newDB(t))
	sagaStore := sagaexec.NewStore(newDB(t), config.DBDriverSQLite)
	sagas := sagaexec.New(sagaStore, nil, sagaexec.WithOperationTimeout(time.Second), sagaexec.WithInlineMode())
	cache := cachemgr.New(cachemgr.Never{}, nil)
	bus := hookbus.New(nil, nil, nil)
	users := stubUsers{"clerk1": true, "council1": true}
	identity := gitgw.Identity{Name: "Civic Bot", Email: "bot@example.org"}

	mgr := recordmanager.New(bylawConfig(), store, gw, repo, sagas, cache, bus, users, identity, nil)

	return mgr, store, repo
}

func clerk() rolemgr.Principal  { return rolemgr.Principal{Username: "clerk1", Role: "clerk"} }
func council() rolemgr.Principal { return rolemgr.Principal{Username: "council1", Role: "council"} }

func TestCreate_WritesFileCommitsAndIndexes(t *testing.T) {
	mgr, store, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{
		Type:    "bylaw",
		Title:   "Noise Restrictions",
		Content: "Quiet hours from 10pm to 7am.",
	}, recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "noise-restrictions", rec.Slug)
	assert.Equal(t, "draft", rec.Status)

	onDisk, err := store.Read(store.PathFor("bylaw", "noise-restrictions"))
	require.NoError(t, err)
	assert.Equal(t, "Noise Restrictions", onDisk.Title)

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}

func TestCreate_UnknownTypeIsRejected(t *testing.T) {
	mgr, _, _ := newManager(t)

	_, err := mgr.Create(context.Background(), clerk(), recordmanager.CreateInput{
		Type:  "permit",
		Title: "Food Truck Permit",
	}, recordmanager.OpContext{})
	require.Error(t, err)
}

func TestCreate_DeniedForRoleWithoutCreatePermission(t *testing.T) {
	mgr, _, _ := newManager(t)

	_, err := mgr.Create(context.Background(), council(), recordmanager.CreateInput{
		Type:  "bylaw",
		Title: "Noise Restrictions",
	}, recordmanager.OpContext{})
	require.Error(t, err)
}

func TestCreate_SlugCollisionGetsSuffixed(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	first, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "noise-restrictions", first.Slug)

	second, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "noise-restrictions-2", second.Slug)
}

func TestCreate_IdempotentReplayReturnsSameRecord(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	opctx := recordmanager.OpContext{IdempotencyKey: "create-noise-1"}

	first, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, opctx)
	require.NoError(t, err)

	second, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, opctx)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Slug, second.Slug)
}

func TestUpdate_StatusTransitionDeniedWithoutPermission(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	approved := "approved"
	_, err = mgr.Update(ctx, clerk(), rec.ID.String(), recordmanager.UpdatePatch{Status: &approved}, recordmanager.OpContext{})
	require.Error(t, err, "clerk may only move draft->proposed, not straight to approved")
}

func TestUpdate_AllowedTransitionSucceedsAndCommits(t *testing.T) {
	mgr, _, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	proposed := "proposed"
	updated, err := mgr.Update(ctx, clerk(), rec.ID.String(), recordmanager.UpdatePatch{Status: &proposed}, recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "proposed", updated.Status)

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, "proposed", got.Status)
}

func TestSetStatus_EmitsStatusChangeAndAllowsCouncilApproval(t *testing.T) {
	mgr, _, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	_, err = mgr.SetStatus(ctx, clerk(), rec.ID.String(), "proposed", "", recordmanager.OpContext{})
	require.NoError(t, err)

	approved, err := mgr.SetStatus(ctx, council(), rec.ID.String(), "approved", "council vote 5-0", recordmanager.OpContext{})
	require.NoError(t, err)
	assert.Equal(t, "approved", approved.Status)

	got, err := repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
}

func TestDelete_ArchivesFileAndRemovesIndexRow(t *testing.T) {
	mgr, store, repo := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	require.NoError(t, mgr.Delete(ctx, clerk(), rec.ID.String(), recordmanager.OpContext{}))

	assert.False(t, store.Exists(store.PathFor("bylaw", "noise-restrictions")))
	assert.True(t, store.Exists(store.ArchivePathFor("bylaw", "noise-restrictions")))

	_, err = repo.GetByTypeSlug(ctx, "bylaw", "noise-restrictions")
	require.Error(t, err)
}

func TestGet_PublicRoleCannotSeeDraftRecord(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	_, err = mgr.Get(ctx, rolemgr.Public, rec.ID.String())
	require.Error(t, err)
}

func TestGet_PublicRoleCanSeeApprovedRecord(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	rec, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, clerk(), rec.ID.String(), "proposed", "", recordmanager.OpContext{})
	require.NoError(t, err)
	_, err = mgr.SetStatus(ctx, council(), rec.ID.String(), "approved", "", recordmanager.OpContext{})
	require.NoError(t, err)

	got, err := mgr.Get(ctx, rolemgr.Public, rec.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "approved", got.Status)
}

func TestList_PublicRoleOnlySeesPublishedRecords(t *testing.T) {
	mgr, _, _ := newManager(t)
	ctx := context.Background()

	_, err := mgr.Create(ctx, clerk(), recordmanager.CreateInput{Type: "bylaw", Title: "Noise Restrictions"}, recordmanager.OpContext{})
	require.NoError(t, err)

	page, err := mgr.List(ctx, rolemgr.Public, recdomain.Filter{Type: "bylaw"})
	require.NoError(t, err)
	assert.Empty(t, page.Records)
}

func TestValidateRecord_CollectsAllFieldErrors(t *testing.T) {
	mgr, _, _ := newManager(t)

	result, err := mgr.ValidateRecord(context.Background(), &recdomain.Record{
		Type:   "bylaw",
		Status: "nonexistent-status",
		Metadata: recdomain.Metadata{
			Tags: []string{"Noise"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.Valid)

	fields := make(map[string]bool)
	for _, e := range result.Errors {
		fields[e.Field] = true
	}
	assert.True(t, fields["title"])
	assert.True(t, fields["status"])
	assert.True(t, fields["metadata.tags"])
}
