package pool

import "errors"

var (
	// ErrPoolClosed is returned once Cleanup has run.
	ErrPoolClosed = errors.New("pool closed")

	// ErrRoleMismatch is returned when a task's role does not match the pool.
	ErrRoleMismatch = errors.New("task role does not match pool role")

	// ErrScalingInFlight is returned when a manual scale collides with an
	// in-progress scaling operation.
	ErrScalingInFlight = errors.New("scaling operation already in flight")

	// ErrInvalidTarget is returned when a manual scale target falls outside
	// the configured min/max bounds.
	ErrInvalidTarget = errors.New("scale target outside pool bounds")

	// ErrUnknownRole is returned by the manager when no pool exists for the
	// requested role.
	ErrUnknownRole = errors.New("no pool for role")
)
