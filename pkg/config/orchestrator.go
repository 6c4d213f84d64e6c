package config

import "time"

// OrchestratorConfig contains workflow executor configuration.
// These values control how many workflows run at once, how long tasks may
// take, and how often the background monitor scans executions.
type OrchestratorConfig struct {
	// MaxConcurrentWorkflows is the maximum number of active executions.
	// Execute refuses new work beyond this limit.
	MaxConcurrentWorkflows int `yaml:"max_concurrent_workflows"`

	// TaskTimeout is the maximum time to wait for a single task result.
	// A timed-out task is treated as a failure.
	TaskTimeout time.Duration `yaml:"task_timeout"`

	// ExecutionTimeout is the hard stop for a whole workflow execution,
	// applied by the monitor.
	ExecutionTimeout time.Duration `yaml:"execution_timeout"`

	// HeartbeatInterval is how often the monitor scans for timed-out
	// executions and stuck tasks.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// CheckpointEvery is the number of completed tasks between automatic
	// checkpoints.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// MaxRetries is the default per-task retry budget before the recovery
	// strategy escalates to reassign or abort.
	MaxRetries int `yaml:"max_retries"`

	// HistorySize bounds the in-memory history of terminal executions.
	// Older entries are evicted and served from the store.
	HistorySize int `yaml:"history_size"`
}

// DefaultOrchestratorConfig returns the built-in executor defaults.
func DefaultOrchestratorConfig() *OrchestratorConfig {
	return &OrchestratorConfig{
		MaxConcurrentWorkflows: 10,
		TaskTimeout:            30 * time.Minute,
		ExecutionTimeout:       2 * time.Hour,
		HeartbeatInterval:      30 * time.Second,
		CheckpointEvery:        3,
		MaxRetries:             3,
		HistorySize:            256,
	}
}
