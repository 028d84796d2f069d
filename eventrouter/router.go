// Package eventrouter dispatches app-launch and job-scheduled events to
// the tracing tracker and the compilation controller, and reports
// progress/completion back through a callback sink.
package eventrouter

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"cdr.dev/slog"

	"github.com/iorap/iorap-core/database"
	"github.com/iorap/iorap-core/maintenance"
	"github.com/iorap/iorap-core/packageversion"
	"github.com/iorap/iorap-core/tracing"
)

// Tracker is the subset of *tracing.Tracker the router drives.
type Tracker interface {
	Create(ctx context.Context, configBytes []byte, cb tracing.OnStateChanged, cbArg any) (tracing.Handle, error)
	StartTracing(ctx context.Context, handle tracing.Handle) error
	ReadTrace(ctx context.Context, handle tracing.Handle) (tracing.TraceBuffer, error)
	Destroy(ctx context.Context, handle tracing.Handle) error
}

const defaultWorkerCount = 2

// Router is the EventRouter.
type Router struct {
	tracker       Tracker
	versions      *packageversion.Cache
	store         database.Store
	compiler      *maintenance.Controller
	log           slog.Logger
	traceDir      string
	compileParams maintenance.ControllerParams

	jobs chan func()
	wg   sync.WaitGroup

	cbMu sync.Mutex
	cb   TaskResultCallbacks

	stateMu   sync.Mutex
	sessions  map[RequestID]tracing.Handle
	completed map[RequestID]bool

	compileMu      sync.Mutex
	compileRunning bool
	compileQuit    chan struct{}
}

// New constructs a Router with workerCount background workers (at least
// 1) for deferred launch-event handling, plus one dedicated goroutine per
// maintenance job. traceDir is where captured trace buffers are written
// before being recorded as raw traces; compileParams is handed to the
// controller unmodified on every job-scheduled start.
func New(tracker Tracker, versions *packageversion.Cache, store database.Store, compiler *maintenance.Controller, log slog.Logger, traceDir string, compileParams maintenance.ControllerParams, workerCount int) *Router {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	r := &Router{
		tracker:       tracker,
		versions:      versions,
		store:         store,
		compiler:      compiler,
		log:           log,
		traceDir:      traceDir,
		compileParams: compileParams,
		jobs:          make(chan func()),
		sessions:      make(map[RequestID]tracing.Handle),
		completed:     make(map[RequestID]bool),
	}
	for i := 0; i < workerCount; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

func (r *Router) worker() {
	defer r.wg.Done()
	for job := range r.jobs {
		job()
	}
}

// SetTaskResultCallbacks registers the sink for progress/completion
// notifications. Safe to call at any time; takes effect for subsequent
// deliveries.
func (r *Router) SetTaskResultCallbacks(cb TaskResultCallbacks) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.cb = cb
}

// OnAppLaunchEvent handles one step of an app launch. IntentStarted and
// ActivityLaunched run synchronously on the caller's goroutine, trading
// caller starvation for low-latency tracing startup; every other kind is
// queued to a background worker.
func (r *Router) OnAppLaunchEvent(ctx context.Context, requestID RequestID, event AppLaunchEvent) bool {
	if event.Kind.synchronous() {
		return r.handleAppLaunchEvent(ctx, requestID, event)
	}

	r.jobs <- func() {
		r.handleAppLaunchEvent(ctx, requestID, event)
	}
	return true
}

func (r *Router) handleAppLaunchEvent(ctx context.Context, requestID RequestID, event AppLaunchEvent) bool {
	switch event.Kind {
	case IntentStarted:
		handle, err := r.tracker.Create(ctx, event.TraceConfig, nil, nil)
		if err != nil {
			r.log.Error(ctx, "tracing create failed", slog.F("request_id", requestID), slog.Error(err))
			r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: err.Error()})
			return false
		}
		r.stateMu.Lock()
		r.sessions[requestID] = handle
		r.stateMu.Unlock()
		return true

	case ActivityLaunched:
		handle, ok := r.lookupSession(requestID)
		if !ok {
			r.log.Error(ctx, "activity launched for unknown session", slog.F("request_id", requestID))
			return false
		}
		if err := r.tracker.StartTracing(ctx, handle); err != nil {
			r.log.Error(ctx, "start tracing failed", slog.F("request_id", requestID), slog.Error(err))
			return false
		}
		r.deliverProgress(requestID, TaskResult{Kind: TaskProgress, Detail: "tracing started"})
		return true

	case ReportFullyDrawn, ActivityLaunchFinished:
		return r.finishSession(ctx, requestID, event)

	case ActivityLaunchCancelled:
		handle, ok := r.lookupSession(requestID)
		if ok {
			_ = r.tracker.Destroy(ctx, handle)
		}
		r.clearSession(requestID)
		r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: "launch cancelled"})
		return true

	default:
		r.log.Error(ctx, "unknown app launch event kind", slog.F("request_id", requestID), slog.F("kind", event.Kind))
		return false
	}
}

// finishSession reads and destroys the tracing session, writes the
// captured buffer to traceDir, and persists a raw-trace row against a new
// launch-history row, consulting the version cache for the package's
// current version.
func (r *Router) finishSession(ctx context.Context, requestID RequestID, event AppLaunchEvent) bool {
	handle, ok := r.lookupSession(requestID)
	if !ok {
		r.log.Error(ctx, "finish for unknown session", slog.F("request_id", requestID))
		return false
	}

	buf, err := r.tracker.ReadTrace(ctx, handle)
	if err != nil {
		r.log.Error(ctx, "read trace failed", slog.F("request_id", requestID), slog.Error(err))
	}
	if err := r.tracker.Destroy(ctx, handle); err != nil {
		r.log.Error(ctx, "destroy session failed", slog.F("request_id", requestID), slog.Error(err))
	}
	r.clearSession(requestID)

	version := r.versions.GetOrQueryPackageVersion(ctx, event.PackageName)

	if err := r.persistRawTrace(ctx, requestID, event, version, buf); err != nil {
		r.log.Error(ctx, "persist raw trace failed", slog.F("request_id", requestID), slog.Error(err))
		r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: err.Error()})
		return false
	}

	r.deliverComplete(requestID, TaskResult{Kind: TaskSuccess, Detail: "trace captured"})
	return true
}

func (r *Router) persistRawTrace(ctx context.Context, requestID RequestID, event AppLaunchEvent, version int64, buf tracing.TraceBuffer) error {
	pkg, err := r.store.PackageGetOrCreate(ctx, event.PackageName, version)
	if err != nil {
		return err
	}
	activity, err := r.store.ActivityGetOrCreate(ctx, event.ActivityName, pkg.ID)
	if err != nil {
		return err
	}
	history, err := r.store.LaunchHistoryInsert(ctx, activity.ID, nil, nil)
	if err != nil {
		return err
	}

	tracePath := filepath.Join(r.traceDir, requestID.String()+".perfetto-trace")
	if err := os.MkdirAll(r.traceDir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tracePath, buf, 0o644); err != nil {
		return err
	}

	_, err = r.store.RawTraceInsert(ctx, history.ID, tracePath)
	return err
}

func (r *Router) lookupSession(requestID RequestID) (tracing.Handle, bool) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	handle, ok := r.sessions[requestID]
	return handle, ok
}

func (r *Router) clearSession(requestID RequestID) {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	delete(r.sessions, requestID)
}

// OnJobScheduledEvent starts or stops the background compilation pass.
// JobStop only cancels a pass that has not yet entered CompileDevice; a
// pass already inside CompileDevice runs to completion.
func (r *Router) OnJobScheduledEvent(ctx context.Context, requestID RequestID, event JobScheduledEvent) bool {
	switch event.Action {
	case JobStart:
		return r.startCompileJob(ctx, requestID)
	case JobStop:
		return r.stopCompileJob()
	default:
		r.log.Error(ctx, "unknown job scheduled action", slog.F("request_id", requestID))
		return false
	}
}

func (r *Router) startCompileJob(ctx context.Context, requestID RequestID) bool {
	r.compileMu.Lock()
	if r.compileRunning {
		r.compileMu.Unlock()
		r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: "compile pass already running"})
		return false
	}
	r.compileRunning = true
	quit := make(chan struct{})
	r.compileQuit = quit
	r.compileMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.compileMu.Lock()
			r.compileRunning = false
			r.compileMu.Unlock()
		}()

		select {
		case <-quit:
			r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: "compile pass stopped"})
			return
		default:
		}

		ok := r.compiler.CompileDevice(ctx, r.compileParams)
		if ok {
			r.deliverComplete(requestID, TaskResult{Kind: TaskSuccess, Detail: "compile pass complete"})
		} else {
			r.deliverComplete(requestID, TaskResult{Kind: TaskFailure, Detail: "compile pass failed"})
		}
	}()
	return true
}

func (r *Router) stopCompileJob() bool {
	r.compileMu.Lock()
	defer r.compileMu.Unlock()
	if !r.compileRunning || r.compileQuit == nil {
		return false
	}
	close(r.compileQuit)
	r.compileQuit = nil
	return true
}

// deliverProgress forwards a non-terminal notification. No-op if the
// request has already completed.
func (r *Router) deliverProgress(requestID RequestID, result TaskResult) {
	r.stateMu.Lock()
	done := r.completed[requestID]
	r.stateMu.Unlock()
	if done {
		return
	}

	r.cbMu.Lock()
	cb := r.cb
	r.cbMu.Unlock()
	if cb != nil {
		cb.OnProgress(requestID, result)
	}
}

// deliverComplete forwards the terminal notification exactly once per
// request_id; subsequent calls for the same id are dropped.
func (r *Router) deliverComplete(requestID RequestID, result TaskResult) {
	r.stateMu.Lock()
	if r.completed[requestID] {
		r.stateMu.Unlock()
		return
	}
	r.completed[requestID] = true
	r.stateMu.Unlock()

	r.cbMu.Lock()
	cb := r.cb
	r.cbMu.Unlock()
	if cb != nil {
		cb.OnComplete(requestID, result)
	}
}

// Join blocks until all background workers created by the router have
// quiesced. Used at shutdown.
func (r *Router) Join() {
	close(r.jobs)
	r.wg.Wait()
}
