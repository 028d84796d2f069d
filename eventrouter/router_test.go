package eventrouter_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"cdr.dev/slog/sloggers/slogtest"

	"github.com/iorap/iorap-core/database/databasefake"
	"github.com/iorap/iorap-core/eventrouter"
	"github.com/iorap/iorap-core/maintenance"
	"github.com/iorap/iorap-core/packageversion"
	"github.com/iorap/iorap-core/tracing"
)

type fakeTracker struct {
	mu   sync.Mutex
	next tracing.Handle
}

func (f *fakeTracker) Create(context.Context, []byte, tracing.OnStateChanged, any) (tracing.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	return f.next, nil
}

func (f *fakeTracker) StartTracing(context.Context, tracing.Handle) error { return nil }

func (f *fakeTracker) ReadTrace(context.Context, tracing.Handle) (tracing.TraceBuffer, error) {
	return tracing.TraceBuffer("trace-bytes"), nil
}

func (f *fakeTracker) Destroy(context.Context, tracing.Handle) error { return nil }

type fakePackageManager struct{}

func (fakePackageManager) Snapshot(context.Context) (map[string]int64, error) {
	return map[string]int64{"com.example.app": 1}, nil
}

func (fakePackageManager) QueryVersion(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

type recordingCallbacks struct {
	mu       sync.Mutex
	progress map[uuid.UUID]int
	complete map[uuid.UUID]int
	order    []string
}

func newRecordingCallbacks() *recordingCallbacks {
	return &recordingCallbacks{
		progress: make(map[uuid.UUID]int),
		complete: make(map[uuid.UUID]int),
	}
}

func (c *recordingCallbacks) OnProgress(requestID uuid.UUID, _ eventrouter.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progress[requestID]++
	c.order = append(c.order, "progress:"+requestID.String())
}

func (c *recordingCallbacks) OnComplete(requestID uuid.UUID, _ eventrouter.TaskResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.complete[requestID]++
	c.order = append(c.order, "complete:"+requestID.String())
}

func newTestRouter(t *testing.T) (*eventrouter.Router, *recordingCallbacks) {
	log := slogtest.Make(t, nil)
	store := databasefake.New()
	versions, err := packageversion.Create(context.Background(), fakePackageManager{}, log)
	require.NoError(t, err)
	compiler := maintenance.NewController(store, nil, log, nil)

	compileParams := maintenance.NewControllerParams(t.TempDir())
	router := eventrouter.New(&fakeTracker{}, versions, store, compiler, log, t.TempDir(), compileParams, 2)
	cb := newRecordingCallbacks()
	router.SetTaskResultCallbacks(cb)
	return router, cb
}

func TestFullLaunchLifecycleDeliversExactlyOneComplete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, cb := newTestRouter(t)
	defer router.Join()

	requestID := uuid.New()

	ok := router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{Kind: eventrouter.IntentStarted})
	require.True(t, ok)

	ok = router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{Kind: eventrouter.ActivityLaunched})
	require.True(t, ok)

	ok = router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{
		Kind:         eventrouter.ActivityLaunchFinished,
		PackageName:  "com.example.app",
		ActivityName: "MainActivity",
	})
	require.True(t, ok)

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return cb.complete[requestID] == 1
	}, time.Second, time.Millisecond)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.Equal(t, 1, cb.complete[requestID])
}

func TestCompleteIsDeliveredAtMostOncePerRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, cb := newTestRouter(t)
	defer router.Join()

	requestID := uuid.New()
	router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{Kind: eventrouter.IntentStarted})
	router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{Kind: eventrouter.ActivityLaunchCancelled})

	require.Eventually(t, func() bool {
		cb.mu.Lock()
		defer cb.mu.Unlock()
		return cb.complete[requestID] == 1
	}, time.Second, time.Millisecond)

	// A second cancel for the same request must not deliver a second
	// OnComplete.
	router.OnAppLaunchEvent(ctx, requestID, eventrouter.AppLaunchEvent{Kind: eventrouter.ActivityLaunchCancelled})

	time.Sleep(20 * time.Millisecond)
	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.Equal(t, 1, cb.complete[requestID])
}

func TestActivityLaunchedOnUnknownSessionFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, _ := newTestRouter(t)
	defer router.Join()

	ok := router.OnAppLaunchEvent(ctx, uuid.New(), eventrouter.AppLaunchEvent{Kind: eventrouter.ActivityLaunched})
	require.False(t, ok)
}

func TestJobScheduledStartThenStopIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	router, _ := newTestRouter(t)
	defer router.Join()

	started := router.OnJobScheduledEvent(ctx, uuid.New(), eventrouter.JobScheduledEvent{Action: eventrouter.JobStart})
	require.True(t, started)

	stopped := router.OnJobScheduledEvent(ctx, uuid.New(), eventrouter.JobScheduledEvent{Action: eventrouter.JobStop})
	require.True(t, stopped)

	// Stopping again with nothing running reports false.
	stoppedAgain := router.OnJobScheduledEvent(ctx, uuid.New(), eventrouter.JobScheduledEvent{Action: eventrouter.JobStop})
	require.False(t, stoppedAgain)
}
