package orchestrator

import "errors"

// Sentinel errors for the executor's control path. Task-level failures
// never surface here; they are captured into FAILED results and routed
// through recovery.
var (
	// ErrCapacity is returned when Execute would exceed the configured
	// maximum number of active workflows.
	ErrCapacity = errors.New("maximum concurrent workflows reached")

	// ErrExecutionNotFound is returned when no active or historical
	// execution matches the id.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrInvalidTransition is returned when pause, resume, or cancel is not
	// legal from the execution's current state.
	ErrInvalidTransition = errors.New("invalid execution state transition")

	// ErrNoCheckpoint is returned by Rollback when the execution has no
	// usable checkpoint.
	ErrNoCheckpoint = errors.New("no recoverable checkpoint")

	// ErrTaskNotFound is returned when an operator action names a task the
	// execution does not have.
	ErrTaskNotFound = errors.New("task not found in execution")

	// ErrExecutorStopped is returned when work is submitted after Stop.
	ErrExecutorStopped = errors.New("executor stopped")

	// errTaskTimeout is the synthetic failure for a task that exceeded the
	// task timeout.
	errTaskTimeout = errors.New("task timed out")

	// errDistribution marks a task that could not be handed to its pool.
	errDistribution = errors.New("task distribution failed")
)
