package maintenance_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/iorap/iorap-core/database"
	"github.com/iorap/iorap-core/database/databasefake"
	"github.com/iorap/iorap-core/maintenance"
)

type fakeRunner struct {
	calls [][]string
	err   error
}

func (f *fakeRunner) Run(_ context.Context, _ string, argv []string) error {
	f.calls = append(f.calls, argv)
	if f.err != nil {
		return f.err
	}
	for i, arg := range argv {
		if arg == "--output-proto" && i+1 < len(argv) {
			_ = os.WriteFile(argv[i+1], []byte("compiled"), 0o644)
		}
	}
	return nil
}

func seedActivity(t *testing.T, store database.Store, histories []struct {
	reportFullyDrawnNs *int64
	totalTimeNs        *int64
	rawTracePath       string
}) (database.Package, database.Activity) {
	ctx := context.Background()
	pkg, err := store.PackageGetOrCreate(ctx, "com.example.app", 1)
	require.NoError(t, err)
	activity, err := store.ActivityGetOrCreate(ctx, "MainActivity", pkg.ID)
	require.NoError(t, err)

	for _, h := range histories {
		history, err := store.LaunchHistoryInsert(ctx, activity.ID, h.reportFullyDrawnNs, h.totalTimeNs)
		require.NoError(t, err)
		if h.rawTracePath != "" {
			_, err = store.RawTraceInsert(ctx, history.ID, h.rawTracePath)
			require.NoError(t, err)
		}
	}
	return pkg, activity
}

func TestCompileActivityInsufficientEvidence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	seedActivity(t, store, []struct {
		reportFullyDrawnNs *int64
		totalTimeNs        *int64
		rawTracePath       string
	}{
		{rawTracePath: "/data/trace1.pb"},
		{rawTracePath: "/data/trace2.pb"},
	})

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))

	baseDir := t.TempDir()
	params := maintenance.NewControllerParams(baseDir, maintenance.WithMinTraces(3))

	ok := controller.CompileActivity(ctx, "com.example.app", "MainActivity", 1, params)
	require.False(t, ok)
	require.Empty(t, runner.calls)
	require.Equal(t, 0, controller.LastJobInfo().ActivitiesLastCompiled)
}

func TestCompileActivitySufficientEvidence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	reportNs := int64(100)
	totalNs := int64(300)
	seedActivity(t, store, []struct {
		reportFullyDrawnNs *int64
		totalTimeNs        *int64
		rawTracePath       string
	}{
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t1.pb"},
		{totalTimeNs: &totalNs, rawTracePath: "/data/t2.pb"},
		{rawTracePath: "/data/t3.pb"},
	})

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))

	baseDir := t.TempDir()
	params := maintenance.NewControllerParams(baseDir, maintenance.WithMinTraces(3))

	ok := controller.CompileActivity(ctx, "com.example.app", "MainActivity", 1, params)
	require.True(t, ok)
	require.Len(t, runner.calls, 1)

	argv := runner.calls[0]
	require.Contains(t, argv, "/data/t1.pb")
	require.Contains(t, argv, "/data/t2.pb")
	require.Contains(t, argv, "/data/t3.pb")
	require.Contains(t, argv, "--timestamp_limit_ns")
	require.Contains(t, argv, "--output-proto")

	found, err := store.PrefetchFileSelectByVersionedComponentName(ctx, "com.example.app", "MainActivity", 1)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(found.FilePath, ".compiled_trace.pb"))

	require.Equal(t, 1, controller.LastJobInfo().ActivitiesLastCompiled)
}

func TestCompileActivitySkipsWhenRecompileDisabledAndFileExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	seedActivity(t, store, nil)

	baseDir := t.TempDir()
	outputFile := filepath.Join(baseDir, "com.example.app", "MainActivity@1.compiled_trace.pb")
	require.NoError(t, os.MkdirAll(filepath.Dir(outputFile), 0o755))
	require.NoError(t, os.WriteFile(outputFile, []byte("x"), 0o644))

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))
	params := maintenance.NewControllerParams(baseDir, maintenance.WithRecompile(false))

	ok := controller.CompileActivity(ctx, "com.example.app", "MainActivity", 1, params)
	require.True(t, ok)
	require.Empty(t, runner.calls)
}

func TestCompileActivityChildAbnormalExit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	reportNs := int64(100)
	seedActivity(t, store, []struct {
		reportFullyDrawnNs *int64
		totalTimeNs        *int64
		rawTracePath       string
	}{
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t1.pb"},
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t2.pb"},
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t3.pb"},
	})

	runner := &fakeRunner{err: maintenance.ErrChildAbnormal}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))
	params := maintenance.NewControllerParams(t.TempDir(), maintenance.WithMinTraces(3))

	ok := controller.CompileActivity(ctx, "com.example.app", "MainActivity", 1, params)
	require.False(t, ok)

	_, err := store.PrefetchFileSelectByVersionedComponentName(ctx, "com.example.app", "MainActivity", 1)
	require.ErrorIs(t, err, database.ErrNotFound)

	// activities_last_compiled was incremented before the fork/exec attempt
	// and stays incremented even though the child failed.
	require.Equal(t, 1, controller.LastJobInfo().ActivitiesLastCompiled)
}

func TestCompilePackageUnknownPackageFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))

	ok := controller.CompilePackage(ctx, "com.unknown.app", 1, maintenance.NewControllerParams(t.TempDir()))
	require.False(t, ok)
}

func TestCompileDeviceResetsActivitiesLastCompiled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	reportNs := int64(100)
	seedActivity(t, store, []struct {
		reportFullyDrawnNs *int64
		totalTimeNs        *int64
		rawTracePath       string
	}{
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t1.pb"},
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t2.pb"},
		{reportFullyDrawnNs: &reportNs, rawTracePath: "/data/t3.pb"},
	})

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	clock := quartz.NewMock(t)
	controller := maintenance.NewController(store, runner, log, clock)
	params := maintenance.NewControllerParams(t.TempDir(), maintenance.WithMinTraces(3))

	ok := controller.CompileDevice(ctx, params)
	require.True(t, ok)
	require.Equal(t, 1, controller.LastJobInfo().ActivitiesLastCompiled)
	require.NotZero(t, controller.LastJobInfo().LastRunNs)

	ok = controller.CompileDevice(ctx, params)
	require.True(t, ok)
	// Second pass: the output file already exists and recompile defaults to
	// false, so the activity is skipped and the counter resets to 0.
	require.Equal(t, 0, controller.LastJobInfo().ActivitiesLastCompiled)
}

func TestMinTracesZeroAlwaysAttempts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	seedActivity(t, store, nil)

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))
	params := maintenance.NewControllerParams(t.TempDir(), maintenance.WithMinTraces(0))

	ok := controller.CompileActivity(ctx, "com.example.app", "MainActivity", 1, params)
	require.True(t, ok)
	require.Len(t, runner.calls, 1)
}

func TestDumpAnnotatesTraceCounts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := databasefake.New()
	seedActivity(t, store, []struct {
		reportFullyDrawnNs *int64
		totalTimeNs        *int64
		rawTracePath       string
	}{
		{rawTracePath: "/data/t1.pb"},
	})

	runner := &fakeRunner{}
	log := slogtest.Make(t, nil)
	controller := maintenance.NewController(store, runner, log, quartz.NewMock(t))

	var buf strings.Builder
	controller.Dump(ctx, &buf)

	out := buf.String()
	require.Contains(t, out, "Background job:")
	require.Contains(t, out, "Need 2 more traces for compilation")
}
