package main

import (
	"context"

	"github.com/iorap/iorap-core/tracing"
)

// stubPackageManager stands in for the real package manager binder client,
// which is reached over IPC out of scope for this binary. It reports no
// packages, which is enough for the wiring to run end to end; a real
// deployment replaces this with an IPC-backed implementation.
type stubPackageManager struct{}

func (stubPackageManager) Snapshot(context.Context) (map[string]int64, error) {
	return map[string]int64{}, nil
}

func (stubPackageManager) QueryVersion(context.Context, string) (int64, bool, error) {
	return 0, false, nil
}

// stubEngine stands in for the real handle-based tracing engine, which is
// reached over IPC out of scope for this binary. It hands out strictly
// increasing handles and returns empty trace buffers, enough to exercise
// the tracker's state machine without a real engine attached.
type stubEngine struct{}

var stubEngineNextHandle tracing.Handle

func (stubEngine) Create(context.Context, []byte, tracing.OnStateChanged, any) (tracing.Handle, error) {
	stubEngineNextHandle++
	return stubEngineNextHandle, nil
}

func (stubEngine) StartTracing(context.Context, tracing.Handle) error { return nil }

func (stubEngine) ReadTrace(context.Context, tracing.Handle) (tracing.TraceBuffer, error) {
	return tracing.TraceBuffer{}, nil
}

func (stubEngine) Destroy(context.Context, tracing.Handle) error { return nil }

func (stubEngine) PollState(context.Context, tracing.Handle) (tracing.EngineState, error) {
	return 0, nil
}
