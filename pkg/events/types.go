// Package events provides in-process fan-out of execution and pool
// lifecycle events to API subscribers.
//
// ════════════════════════════════════════════════════════════════
// Channel model
// ════════════════════════════════════════════════════════════════
//
// Events are routed to named channels. A subscriber attaches to one
// channel and receives every event published to it after the
// subscription was created — there is no replay, so late subscribers
// see only new events.
//
// Two kinds of channels exist:
//
//   execution:{execution_id} — every event for one workflow execution:
//     workflow.state.changed, task.started, task.completed,
//     task.failed, checkpoint.created, critical.failure. The
//     per-execution SSE stream is backed by this channel.
//
//   executions — the firehose. Carries what an operator dashboard
//     needs without one subscription per execution:
//     workflow.state.changed and critical.failure (duplicated from
//     the execution channel) plus pool.scaling, which belongs to a
//     pool rather than to any single execution.
//
// Delivery is best-effort with bounded buffers. When a subscriber's
// buffer is full, the OLDEST buffered event is discarded to make room
// for the newest and the subscription's drop counter is incremented.
// A consumer that falls behind sees a gap, never a stall: a slow SSE
// client cannot block the executor or the pools.
//
// ════════════════════════════════════════════════════════════════
package events

// Event types published on execution channels.
const (
	EventTypeWorkflowState     = "workflow.state.changed"
	EventTypeTaskStarted       = "task.started"
	EventTypeTaskCompleted     = "task.completed"
	EventTypeTaskFailed        = "task.failed"
	EventTypeCheckpointCreated = "checkpoint.created"
	EventTypeCriticalFailure   = "critical.failure"
)

// Event types published on the firehose only.
const (
	EventTypeScaling = "pool.scaling"
)

// Scaling direction values (used in ScalingPayload.Direction).
const (
	ScaleDirectionUp   = "up"
	ScaleDirectionDown = "down"
)

// FirehoseChannel is the channel carrying cross-execution events.
// Operator dashboards subscribe to this instead of one channel per execution.
const FirehoseChannel = "executions"

// ExecutionChannel returns the channel name for a specific execution's events.
// Format: "execution:{execution_id}"
func ExecutionChannel(executionID string) string {
	return "execution:" + executionID
}
