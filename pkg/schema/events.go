package schema

// Event type constants published while a schema runs.
const (
	EventRunStarted  = "run.started"
	EventRunFinished = "run.finished"
	EventRunStopped  = "run.stopped"

	EventNodeStarted   = "node.started"
	EventNodeCompleted = "node.completed"
	EventNodeFailed    = "node.failed"
	EventNodeRetrying  = "node.retrying"
	EventNodeFallback  = "node.fallback"

	EventInputWaiting  = "input.waiting"
	EventInputReceived = "input.received"

	EventActionDelivered = "action.delivered"
	EventErrorHandled    = "error.handled"

	EventSessionExpired = "session.expired"
	EventScheduleFired  = "schedule.fired"
)

// RunStatus is the terminal state of one schema execution.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusFailed    RunStatus = "failed"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusNoMatch   RunStatus = "no_match"
)
