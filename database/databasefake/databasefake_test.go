package databasefake_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iorap/iorap-core/database"
	"github.com/iorap/iorap-core/database/databasefake"
)

func TestPrefetchFileRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()

	pkg, err := store.PackageGetOrCreate(ctx, "com.example.app", 1)
	require.NoError(t, err)
	activity, err := store.ActivityGetOrCreate(ctx, "MainActivity", pkg.ID)
	require.NoError(t, err)

	inserted, err := store.PrefetchFileInsert(ctx, activity.ID, "/data/misc/iorapd/com.example.app/MainActivity.compiled_trace.pb")
	require.NoError(t, err)

	found, err := store.PrefetchFileSelectByVersionedComponentName(ctx, "com.example.app", "MainActivity", 1)
	require.NoError(t, err)
	require.Equal(t, inserted.FilePath, found.FilePath)
}

func TestRawTraceInsertConflict(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()

	pkg, err := store.PackageGetOrCreate(ctx, "com.example.app", 1)
	require.NoError(t, err)
	activity, err := store.ActivityGetOrCreate(ctx, "MainActivity", pkg.ID)
	require.NoError(t, err)
	history, err := store.LaunchHistoryInsert(ctx, activity.ID, nil, nil)
	require.NoError(t, err)

	_, err = store.RawTraceInsert(ctx, history.ID, "/data/a.perfetto-trace")
	require.NoError(t, err)

	_, err = store.RawTraceInsert(ctx, history.ID, "/data/b.perfetto-trace")
	require.ErrorIs(t, err, database.ErrConflict)
}

func TestNotFoundSentinel(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()

	_, err := store.PackageSelectByNameAndVersion(ctx, "missing", 1)
	require.ErrorIs(t, err, database.ErrNotFound)
}
