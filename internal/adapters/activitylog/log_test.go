package activitylog_test

import (
	"bufio"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/activitylog"
	"github.com/civicforge/recordengine/internal/adapters/indexdb"
	"github.com/civicforge/recordengine/internal/config"
)

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

func TestRecord_AppendsJSONLAndMirrorsToIndexDB(t *testing.T) {
	db := newDB(t)
	path := filepath.Join(t.TempDir(), "activity.jsonl")

	log, err := activitylog.New(path, db, config.DBDriverSQLite, activitylog.RotationPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ctx := activitylog.WithSource(context.Background(), activitylog.SourceWorkflow)
	err = log.Record(ctx, "record.status_changed", "clerk1", "record", "bylaw-2024-01", map[string]any{"to": "approved"})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"action":"record.status_changed"`)
	assert.Contains(t, scanner.Text(), `"source":"workflow"`)

	records, err := log.Query(context.Background(), activitylog.Filter{EntityID: "bylaw-2024-01"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "record.status_changed", records[0].Event)
	assert.Equal(t, "clerk1", records[0].Actor)
	assert.Equal(t, "approved", records[0].Details["to"])
}

func TestRecord_DefaultsSourceToAPIWithoutContextTag(t *testing.T) {
	db := newDB(t)
	path := filepath.Join(t.TempDir(), "activity.jsonl")

	log, err := activitylog.New(path, db, config.DBDriverSQLite, activitylog.RotationPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	require.NoError(t, log.Record(context.Background(), "record.created", "clerk1", "record", "bylaw-2024-02", nil))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	assert.Contains(t, scanner.Text(), `"source":"api"`)
}

func TestQuery_FiltersByEntityAndOrdersMostRecentFirst(t *testing.T) {
	db := newDB(t)
	path := filepath.Join(t.TempDir(), "activity.jsonl")

	log, err := activitylog.New(path, db, config.DBDriverSQLite, activitylog.RotationPolicy{})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ctx := context.Background()
	require.NoError(t, log.Record(ctx, "record.created", "clerk1", "record", "a", nil))
	require.NoError(t, log.Record(ctx, "record.created", "clerk1", "record", "b", nil))
	require.NoError(t, log.Record(ctx, "record.status_changed", "clerk1", "record", "b", nil))

	records, err := log.Query(ctx, activitylog.Filter{EntityID: "b"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "record.status_changed", records[0].Event)
}

func TestRotation_RenamesOldFileWhenMaxBytesExceeded(t *testing.T) {
	db := newDB(t)
	path := filepath.Join(t.TempDir(), "activity.jsonl")

	log, err := activitylog.New(path, db, config.DBDriverSQLite, activitylog.RotationPolicy{MaxBytes: 1})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	ctx := context.Background()
	require.NoError(t, log.Record(ctx, "record.created", "clerk1", "record", "a", nil))
	require.NoError(t, log.Record(ctx, "record.created", "clerk1", "record", "b", nil))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(entries), 2, "expected rotated file alongside fresh active log")

	fresh, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), fresh.ModTime(), 5*time.Second)
}
