package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/modwatch/modlog-listener/internal/models"
	"github.com/modwatch/modlog-listener/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s := NewSQLiteStore(&StoreConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "modlog.sqlite"),
	})
	require.NoError(t, s.Connect())
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteInitializeLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	initialized, err := s.IsInitialized(ctx)
	require.NoError(t, err)
	assert.False(t, initialized)

	require.NoError(t, s.Initialize(ctx))

	initialized, err = s.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)

	count, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSQLiteUnsupportedSchemaVersion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Initialize(ctx))

	_, err := s.db.ExecContext(ctx,
		"UPDATE modlog_meta SET value = '3' WHERE key = 'schema_version'")
	require.NoError(t, err)

	_, err = s.IsInitialized(ctx)
	require.Error(t, err)

	appErr, ok := err.(*utils.AppError)
	require.True(t, ok)
	assert.Equal(t, utils.ErrCodeSchema, appErr.Code)
}

func TestSQLiteHalfInitializedState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Initialize(ctx))

	_, err := s.db.ExecContext(ctx, "DROP TABLE modlog_meta")
	require.NoError(t, err)

	_, err = s.IsInitialized(ctx)
	assert.Error(t, err)
}

func TestSQLiteInsertAndExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Initialize(ctx))

	ma := &models.ModAction{
		ID:        "ModAction_aaa",
		Timestamp: 100,
		Moderator: "alice",
		Platform:  "reddit",
		Place:     "testsub",
		Action:    "remove",
		Object:    "comment by bob",
		Details:   "spam",
	}

	exists, err := s.Exists(ctx, ma.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Insert(ctx, ma))

	exists, err = s.Exists(ctx, ma.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	count, err := s.CountRecords(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// The stored version is authoritative, a second insert of the same
	// id is a constraint violation.
	assert.Error(t, s.Insert(ctx, ma))
}

func TestSQLiteWatermark(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Initialize(ctx))

	w, err := s.GetWatermark(ctx)
	require.NoError(t, err)
	assert.True(t, w.IsZero())

	want := models.Watermark{ID: "ModAction_aaa", Timestamp: 1678883445}
	require.NoError(t, s.SetWatermark(ctx, want))

	w, err = s.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, w)
}

func TestSQLitePersistsAcrossReconnect(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "modlog.sqlite")

	s := NewSQLiteStore(&StoreConfig{Type: "sqlite", ConnectionString: path})
	require.NoError(t, s.Connect())
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Insert(ctx, &models.ModAction{ID: "ModAction_aaa", Timestamp: 100}))
	require.NoError(t, s.SetWatermark(ctx, models.Watermark{ID: "ModAction_aaa", Timestamp: 100}))
	require.NoError(t, s.Close())

	s2 := NewSQLiteStore(&StoreConfig{Type: "sqlite", ConnectionString: path})
	require.NoError(t, s2.Connect())
	defer s2.Close()

	initialized, err := s2.IsInitialized(ctx)
	require.NoError(t, err)
	assert.True(t, initialized)

	exists, err := s2.Exists(ctx, "ModAction_aaa")
	require.NoError(t, err)
	assert.True(t, exists)

	w, err := s2.GetWatermark(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.Watermark{ID: "ModAction_aaa", Timestamp: 100}, w)
}

func TestSQLiteGetStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.Insert(ctx, &models.ModAction{ID: "ModAction_aaa", Timestamp: 100}))

	stats, err := s.GetStats()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", stats.Type)
	assert.Equal(t, int64(1), stats.TotalRecords)
	assert.True(t, stats.Healthy)
}

func TestStoreFactory(t *testing.T) {
	s, err := NewStore(&StoreConfig{Type: "sqlite", ConnectionString: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)

	s, err = NewStore(&StoreConfig{Type: "postgres", ConnectionString: "postgres://localhost/modlog"})
	require.NoError(t, err)
	assert.IsType(t, &PostgresStore{}, s)

	_, err = NewStore(&StoreConfig{Type: "mysql"})
	assert.Error(t, err)
}
