// Package tracing wraps an opaque handle-based tracing engine with a typed
// state machine, so callers reason about sessions by kind instead of
// polling engine state directly.
package tracing

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/coder/quartz"
	"golang.org/x/xerrors"

	"cdr.dev/slog"
)

// Handle identifies a tracing session. The engine is contractually required
// to hand out handles as a strictly increasing sequence starting at 1.
type Handle int64

// Kind is a tracked handle's position in the session lifecycle.
type Kind int

const (
	Uncreated Kind = iota
	Created
	StartedTracing
	ReadTracing
	Destroyed
	TimedOutDestroyed
)

func (k Kind) String() string {
	switch k {
	case Uncreated:
		return "Uncreated"
	case Created:
		return "Created"
	case StartedTracing:
		return "StartedTracing"
	case ReadTracing:
		return "ReadTracing"
	case Destroyed:
		return "Destroyed"
	case TimedOutDestroyed:
		return "TimedOutDestroyed"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ErrHandleContractViolation is raised when the engine hands back a handle
// that is not last_created+1 on Create. The destroyed/uncreated classifier
// in GetOrInferHandleDescription depends on this holding, so it cannot be
// treated as a soft failure.
var ErrHandleContractViolation = xerrors.New("tracing: engine handle contract violation")

// TraceBuffer is the opaque trace payload returned by ReadTrace.
type TraceBuffer []byte

// EngineState is the engine's own view of a session, passed through
// unmodified by PollState.
type EngineState int

// OnStateChanged is invoked by the engine as a session's EngineState
// changes. arg is opaque and passed back verbatim.
type OnStateChanged func(handle Handle, state EngineState, arg any)

// Engine is the raw handle-based tracing API this package wraps.
type Engine interface {
	Create(ctx context.Context, configBytes []byte, cb OnStateChanged, cbArg any) (Handle, error)
	StartTracing(ctx context.Context, handle Handle) error
	ReadTrace(ctx context.Context, handle Handle) (TraceBuffer, error)
	Destroy(ctx context.Context, handle Handle) error
	PollState(ctx context.Context, handle Handle) (EngineState, error)
}

// HandleDescription is a tracked or inferred session record, used for
// diagnostics.
type HandleDescription struct {
	Handle Handle
	Kind   Kind

	EngineState      EngineState
	StartedTracingNs int64
	LastTransitionNs int64
}

// Tracker is the TracingSessionTracker. All mutation happens under mu;
// Dump takes it best-effort so a dump never blocks behind a stuck session.
type Tracker struct {
	mu sync.Mutex

	engine Engine
	clock  quartz.Clock
	log    slog.Logger

	states        map[Handle]*HandleDescription
	lastCreated   Handle
	lastDestroyed Handle
}

// New constructs a Tracker around engine. clock defaults to the real clock
// when nil.
func New(engine Engine, log slog.Logger, clock quartz.Clock) *Tracker {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Tracker{
		engine: engine,
		clock:  clock,
		log:    log,
		states: make(map[Handle]*HandleDescription),
	}
}

// Create allocates a new session. The engine's handle must equal
// last_created+1 or this panics: the invariant is load-bearing for the
// destroyed/uncreated classifier, not a soft property.
func (t *Tracker) Create(ctx context.Context, configBytes []byte, cb OnStateChanged, cbArg any) (Handle, error) {
	handle, err := t.engine.Create(ctx, configBytes, cb, cbArg)
	if err != nil {
		return 0, xerrors.Errorf("engine create: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastCreated++
	if handle != t.lastCreated {
		panic(fmt.Sprintf("%v: got handle %d, want %d", ErrHandleContractViolation, handle, t.lastCreated))
	}
	if _, exists := t.states[handle]; exists {
		panic(fmt.Sprintf("tracing: handle %d was re-used", handle))
	}

	desc := &HandleDescription{Handle: handle}
	t.updateLocked(ctx, desc, Created)
	t.states[handle] = desc

	return handle, nil
}

// StartTracing transitions handle to StartedTracing. Untracked handles log
// an error and no-op.
func (t *Tracker) StartTracing(ctx context.Context, handle Handle) error {
	t.mu.Lock()
	desc, ok := t.states[handle]
	t.mu.Unlock()
	if !ok {
		t.log.Error(ctx, "cannot start tracing on untracked handle", slog.F("handle", handle))
		return nil
	}

	if err := t.engine.StartTracing(ctx, handle); err != nil {
		return xerrors.Errorf("engine start tracing: %w", err)
	}

	t.mu.Lock()
	t.updateLocked(ctx, desc, StartedTracing)
	t.mu.Unlock()
	return nil
}

// ReadTrace transitions handle to ReadTracing and returns the engine's
// trace buffer. Untracked handles log an error and return an empty buffer.
func (t *Tracker) ReadTrace(ctx context.Context, handle Handle) (TraceBuffer, error) {
	t.mu.Lock()
	desc, ok := t.states[handle]
	t.mu.Unlock()
	if !ok {
		t.log.Error(ctx, "cannot read trace on untracked handle", slog.F("handle", handle))
		return TraceBuffer{}, nil
	}

	buf, err := t.engine.ReadTrace(ctx, handle)
	if err != nil {
		return nil, xerrors.Errorf("engine read trace: %w", err)
	}

	t.mu.Lock()
	t.updateLocked(ctx, desc, ReadTracing)
	t.mu.Unlock()
	return buf, nil
}

// Destroy transitions handle to Destroyed and stops tracking it. Calling
// Destroy on an untracked handle is tolerated (logged, no-op) so timeout
// and user-initiated destroy can race safely.
func (t *Tracker) Destroy(ctx context.Context, handle Handle) error {
	t.mu.Lock()
	desc, ok := t.states[handle]
	t.mu.Unlock()
	if !ok {
		t.log.Error(ctx, "cannot destroy untracked handle", slog.F("handle", handle))
		return nil
	}

	if err := t.engine.Destroy(ctx, handle); err != nil {
		return xerrors.Errorf("engine destroy: %w", err)
	}

	t.mu.Lock()
	t.updateLocked(ctx, desc, Destroyed)
	delete(t.states, handle)
	if handle > t.lastDestroyed {
		t.lastDestroyed = handle
	}
	t.mu.Unlock()
	return nil
}

// destroyTimedOut is the supervised-timeout path reserved for sessions
// whose ReadTrace never arrives. It is structurally distinct from Destroy
// so dumps can tell a timeout apart from a normal teardown, but nothing in
// this package schedules it yet; a quartz.Clock.AfterFunc supervisor would
// call this.
func (t *Tracker) destroyTimedOut(ctx context.Context, handle Handle) {
	t.mu.Lock()
	desc, ok := t.states[handle]
	if !ok {
		t.mu.Unlock()
		return
	}
	t.updateLocked(ctx, desc, TimedOutDestroyed)
	delete(t.states, handle)
	if handle > t.lastDestroyed {
		t.lastDestroyed = handle
	}
	t.mu.Unlock()
}

// PollState passes through to the engine; the tracker never interprets
// this state itself.
func (t *Tracker) PollState(ctx context.Context, handle Handle) (EngineState, error) {
	return t.engine.PollState(ctx, handle)
}

// GetOrInferHandleDescription is a diagnostic-only read. For tracked
// handles it returns the live record. For untracked handles it classifies
// the handle as Destroyed when handle <= last_destroyed, Uncreated when
// handle > last_created, and otherwise logs a bad-state-detection warning
// (a value that should be tracked but isn't).
func (t *Tracker) GetOrInferHandleDescription(ctx context.Context, handle Handle) HandleDescription {
	t.mu.Lock()
	defer t.mu.Unlock()

	if desc, ok := t.states[handle]; ok {
		return *desc
	}

	switch {
	case handle <= t.lastDestroyed:
		return HandleDescription{Handle: handle, Kind: Destroyed}
	case handle > t.lastCreated:
		return HandleDescription{Handle: handle, Kind: Uncreated}
	default:
		t.log.Warn(ctx, "bad state detection", slog.F("handle", handle))
		return HandleDescription{Handle: handle}
	}
}

func (t *Tracker) updateLocked(ctx context.Context, desc *HandleDescription, kind Kind) {
	desc.Kind = kind
	if state, err := t.engine.PollState(ctx, desc.Handle); err == nil {
		desc.EngineState = state
	}
	now := t.clock.Now().UnixNano()
	desc.LastTransitionNs = now
	if kind == StartedTracing {
		desc.StartedTracingNs = now
	}
}

// Dump lists last_created, last_destroyed, and every in-flight record. It
// tries the tracker mutex without blocking; if that fails it still emits
// whatever it can read and annotates the output as possibly stale rather
// than block the caller.
func (t *Tracker) Dump(w io.Writer) {
	locked := t.mu.TryLock()
	if locked {
		defer t.mu.Unlock()
	} else {
		fmt.Fprintln(w, "tracing session tracker state (possible deadlock, dump is best-effort):")
	}
	if locked {
		fmt.Fprintln(w, "tracing session tracker state:")
	}

	fmt.Fprintf(w, "  last created handle: %d\n", t.lastCreated)
	fmt.Fprintf(w, "  last destroyed handle: %d\n", t.lastDestroyed)
	fmt.Fprintln(w, "  in-flight handles:")

	if len(t.states) == 0 {
		fmt.Fprintln(w, "    (none)")
		return
	}
	for handle, desc := range t.states {
		fmt.Fprintf(w, "    handle %d\n", handle)
		fmt.Fprintf(w, "      kind: %s\n", desc.Kind)
		fmt.Fprintf(w, "      engine state: %d\n", desc.EngineState)
		fmt.Fprintf(w, "      started tracing at: %d\n", desc.StartedTracingNs)
		fmt.Fprintf(w, "      last transition at: %d\n", desc.LastTransitionNs)
	}
}
