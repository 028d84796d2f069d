package eventrouter

import "github.com/google/uuid"

// RequestID identifies one launch or job-scheduled request end to end.
type RequestID = uuid.UUID

// AppLaunchEventKind distinguishes the sub-events that make up one app
// launch. IntentStarted and ActivityLaunched are handled synchronously;
// every other kind is dispatched to a background worker.
type AppLaunchEventKind int

const (
	IntentStarted AppLaunchEventKind = iota
	ActivityLaunched
	ReportFullyDrawn
	ActivityLaunchFinished
	ActivityLaunchCancelled
)

func (k AppLaunchEventKind) synchronous() bool {
	return k == IntentStarted || k == ActivityLaunched
}

// AppLaunchEvent describes one step in an app launch's lifecycle.
type AppLaunchEvent struct {
	Kind         AppLaunchEventKind
	PackageName  string
	ActivityName string

	// TraceConfig is passed through to the tracing engine on IntentStarted.
	TraceConfig []byte
}

// JobScheduledAction distinguishes starting a background job from
// stopping one already running.
type JobScheduledAction int

const (
	JobStart JobScheduledAction = iota
	JobStop
)

// JobScheduledEvent requests that a background maintenance job (currently
// always a compilation pass) start or stop.
type JobScheduledEvent struct {
	Action JobScheduledAction
}

// TaskResultKind distinguishes progress notifications from the two
// terminal outcomes.
type TaskResultKind int

const (
	TaskProgress TaskResultKind = iota
	TaskSuccess
	TaskFailure
)

// TaskResult is delivered to a TaskResultCallbacks sink. Detail is a
// free-form human-readable string; it carries an error's message on
// TaskFailure.
type TaskResult struct {
	Kind   TaskResultKind
	Detail string
}

// TaskResultCallbacks is the outbound sink for asynchronous task
// notifications. OnProgress is optional but, if called at all, happens
// before OnComplete. OnComplete terminates the request and is called
// exactly once.
type TaskResultCallbacks interface {
	OnProgress(requestID RequestID, result TaskResult)
	OnComplete(requestID RequestID, result TaskResult)
}
