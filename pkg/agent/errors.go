package agent

import "errors"

// Sentinel errors for instance lifecycle and task intake.
var (
	// ErrAlreadyInitialized is returned when Initialize is called twice.
	ErrAlreadyInitialized = errors.New("instance already initialized")

	// ErrNotReady is returned when a task is offered to an instance that is
	// not in a state that accepts work.
	ErrNotReady = errors.New("instance not ready")

	// ErrRoleMismatch is returned when a task's agent type does not match
	// the instance's role.
	ErrRoleMismatch = errors.New("task role does not match instance role")

	// ErrQueueFull is returned when the instance's task queue is at capacity.
	ErrQueueFull = errors.New("instance queue full")

	// ErrUnknownTaskType is returned when no step handler is registered for
	// a role and task type combination.
	ErrUnknownTaskType = errors.New("no step registered for task type")

	// ErrTerminated is returned when work is offered to a terminated instance.
	ErrTerminated = errors.New("instance terminated")

	// ErrCleanupTimeout is returned when the worker does not finish its
	// current task within the cleanup grace period.
	ErrCleanupTimeout = errors.New("cleanup grace period elapsed")
)
