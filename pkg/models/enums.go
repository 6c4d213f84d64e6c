// Package models defines the value objects shared across the orchestration
// engine: tasks, results, workflow plans, and the recovery records persisted
// with every execution.
package models

// AgentType defines the specialized roles tasks can be routed to.
type AgentType string

const (
	// AgentTypePM is the product manager role
	AgentTypePM AgentType = "pm"
	// AgentTypeBA is the business analyst role
	AgentTypeBA AgentType = "ba"
	// AgentTypeSA is the solution architect role
	AgentTypeSA AgentType = "sa"
	// AgentTypeResearch is the research role
	AgentTypeResearch AgentType = "research"
	// AgentTypeQualityJudge is the quality evaluation role
	AgentTypeQualityJudge AgentType = "quality_judge"
	// AgentTypeImplementation is the implementation role
	AgentTypeImplementation AgentType = "implementation"
)

// IsValid checks if the agent type is valid
func (t AgentType) IsValid() bool {
	switch t {
	case AgentTypePM,
		AgentTypeBA,
		AgentTypeSA,
		AgentTypeResearch,
		AgentTypeQualityJudge,
		AgentTypeImplementation:
		return true
	default:
		return false
	}
}

// AllAgentTypes returns every defined role, in stable order.
func AllAgentTypes() []AgentType {
	return []AgentType{
		AgentTypePM,
		AgentTypeBA,
		AgentTypeSA,
		AgentTypeResearch,
		AgentTypeQualityJudge,
		AgentTypeImplementation,
	}
}

// TaskPriority defines scheduling priority for tasks.
// Lower rank runs first.
type TaskPriority string

const (
	// PriorityCritical preempts all other queued work
	PriorityCritical TaskPriority = "critical"
	// PriorityHigh runs before normal work
	PriorityHigh TaskPriority = "high"
	// PriorityMedium is the default priority
	PriorityMedium TaskPriority = "medium"
	// PriorityLow runs after normal work
	PriorityLow TaskPriority = "low"
	// PriorityBackground runs only when nothing else is queued
	PriorityBackground TaskPriority = "background"
)

// IsValid checks if the priority is valid
func (p TaskPriority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBackground:
		return true
	default:
		return false
	}
}

// Rank returns the numeric scheduling rank (critical=1 .. background=5).
// Unknown priorities rank alongside medium.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	case PriorityBackground:
		return 5
	default:
		return 3
	}
}

// TaskStatus defines the lifecycle states of a task.
type TaskStatus string

const (
	// TaskStatusPending means the task has not started yet
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress means an instance is executing the task
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusCompleted is the successful terminal state
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed is the unsuccessful terminal state
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled means the task was cancelled before completing
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsValid checks if the task status is valid
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status can no longer change.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// InstanceState defines the lifecycle states of an agent instance.
type InstanceState string

const (
	// InstanceUninitialized means Initialize has not been called
	InstanceUninitialized InstanceState = "uninitialized"
	// InstanceInitializing means Initialize is in progress
	InstanceInitializing InstanceState = "initializing"
	// InstanceIdle means the instance is ready and owns no task
	InstanceIdle InstanceState = "idle"
	// InstanceBusy means the instance is executing a task
	InstanceBusy InstanceState = "busy"
	// InstanceFailed means the instance hit an unrecoverable error and owns no task
	InstanceFailed InstanceState = "failed"
	// InstanceScalingDown means the scaler marked the instance for removal
	InstanceScalingDown InstanceState = "scaling_down"
	// InstanceShuttingDown means Cleanup is draining the instance
	InstanceShuttingDown InstanceState = "shutting_down"
	// InstanceTerminated means the worker loop has exited
	InstanceTerminated InstanceState = "terminated"
)

// IsValid checks if the instance state is valid
func (s InstanceState) IsValid() bool {
	switch s {
	case InstanceUninitialized,
		InstanceInitializing,
		InstanceIdle,
		InstanceBusy,
		InstanceFailed,
		InstanceScalingDown,
		InstanceShuttingDown,
		InstanceTerminated:
		return true
	default:
		return false
	}
}

// CanAcceptWork reports whether the instance may take on new tasks.
func (s InstanceState) CanAcceptWork() bool {
	return s == InstanceIdle || s == InstanceBusy
}

// ExecutionState defines the lifecycle states of a workflow execution.
type ExecutionState string

const (
	// ExecutionPending means the execution is registered but not started
	ExecutionPending ExecutionState = "pending"
	// ExecutionInitializing means task executions are being built from the plan
	ExecutionInitializing ExecutionState = "initializing"
	// ExecutionRunning means the drive loop is dispatching tasks
	ExecutionRunning ExecutionState = "running"
	// ExecutionPaused means dispatch is suspended until resume
	ExecutionPaused ExecutionState = "paused"
	// ExecutionCompleted is the successful terminal state
	ExecutionCompleted ExecutionState = "completed"
	// ExecutionFailed is the unsuccessful terminal state
	ExecutionFailed ExecutionState = "failed"
	// ExecutionCancelled means the execution was cancelled by an operator
	ExecutionCancelled ExecutionState = "cancelled"
)

// IsValid checks if the execution state is valid
func (s ExecutionState) IsValid() bool {
	switch s {
	case ExecutionPending,
		ExecutionInitializing,
		ExecutionRunning,
		ExecutionPaused,
		ExecutionCompleted,
		ExecutionFailed,
		ExecutionCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the state can no longer change.
func (s ExecutionState) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed || s == ExecutionCancelled
}

// CanTransitionTo reports whether moving from s to next is a legal transition.
func (s ExecutionState) CanTransitionTo(next ExecutionState) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case ExecutionPending:
		return next == ExecutionInitializing || next == ExecutionFailed || next == ExecutionCancelled
	case ExecutionInitializing:
		return next == ExecutionRunning || next == ExecutionFailed || next == ExecutionCancelled
	case ExecutionRunning:
		return next == ExecutionPaused || next == ExecutionCompleted ||
			next == ExecutionFailed || next == ExecutionCancelled
	case ExecutionPaused:
		return next == ExecutionRunning || next == ExecutionFailed || next == ExecutionCancelled
	default:
		return false
	}
}

// OrchestrationPattern defines how a plan's task graph is driven.
type OrchestrationPattern string

const (
	// PatternSequentialHandoff runs one ready task at a time
	PatternSequentialHandoff OrchestrationPattern = "sequential_handoff"
	// PatternParallelExecution dispatches the entire ready set concurrently
	PatternParallelExecution OrchestrationPattern = "parallel_execution"
	// PatternDynamicRouting is parallel execution with a runtime routing extension point
	PatternDynamicRouting OrchestrationPattern = "dynamic_routing"
)

// IsValid checks if the orchestration pattern is valid
func (p OrchestrationPattern) IsValid() bool {
	return p == PatternSequentialHandoff || p == PatternParallelExecution || p == PatternDynamicRouting
}

// LoadBalancingStrategy defines how a pool picks an instance for a task.
type LoadBalancingStrategy string

const (
	// StrategyRoundRobin cycles through instances in order
	StrategyRoundRobin LoadBalancingStrategy = "round_robin"
	// StrategyLeastLoaded picks the instance with the lowest composite load
	StrategyLeastLoaded LoadBalancingStrategy = "least_loaded"
	// StrategyRandom picks uniformly at random
	StrategyRandom LoadBalancingStrategy = "random"
	// StrategyWeightedRoundRobin picks randomly weighted by instance performance
	StrategyWeightedRoundRobin LoadBalancingStrategy = "weighted_round_robin"
	// StrategyLeastConnections picks the instance with the fewest queued and running tasks
	StrategyLeastConnections LoadBalancingStrategy = "least_connections"
	// StrategyResponseTime picks the instance with the lowest average execution time
	StrategyResponseTime LoadBalancingStrategy = "response_time"
)

// IsValid checks if the load balancing strategy is valid
func (s LoadBalancingStrategy) IsValid() bool {
	switch s {
	case StrategyRoundRobin,
		StrategyLeastLoaded,
		StrategyRandom,
		StrategyWeightedRoundRobin,
		StrategyLeastConnections,
		StrategyResponseTime:
		return true
	default:
		return false
	}
}

// RecoveryActionType defines what the failure strategy decided for a failed task.
type RecoveryActionType string

const (
	// RecoveryRetry re-runs the task on the same pool after a backoff
	RecoveryRetry RecoveryActionType = "retry"
	// RecoveryReassign moves the task to a different instance with retries reset
	RecoveryReassign RecoveryActionType = "reassign"
	// RecoverySkip abandons the task and lets the workflow continue
	RecoverySkip RecoveryActionType = "skip"
	// RecoveryAbort fails the whole workflow
	RecoveryAbort RecoveryActionType = "abort"
)

// IsValid checks if the recovery action type is valid
func (a RecoveryActionType) IsValid() bool {
	return a == RecoveryRetry || a == RecoveryReassign || a == RecoverySkip || a == RecoveryAbort
}

// DataFormat declares the shape of a task input or result payload.
type DataFormat string

const (
	// FormatJSON means the payload is a JSON mapping or sequence
	FormatJSON DataFormat = "json"
	// FormatText means the payload is plain text
	FormatText DataFormat = "text"
	// FormatMarkdown means the payload is markdown text
	FormatMarkdown DataFormat = "markdown"
)

// IsValid checks if the data format is valid
func (f DataFormat) IsValid() bool {
	return f == FormatJSON || f == FormatText || f == FormatMarkdown
}
