package config

import (
	"fmt"
)

// Validator validates resolved configuration with clear error messages
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// validate performs comprehensive validation (fail-fast, stops at first error)
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

// ValidateAll checks every section in dependency order.
func (v *Validator) ValidateAll() error {
	if err := v.validateOrchestrator(); err != nil {
		return fmt.Errorf("orchestrator validation failed: %w", err)
	}
	if err := v.validatePools(); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	if err := v.validateTransport(); err != nil {
		return fmt.Errorf("transport validation failed: %w", err)
	}
	if err := v.validateStorage(); err != nil {
		return fmt.Errorf("storage validation failed: %w", err)
	}
	if err := v.validateAPI(); err != nil {
		return fmt.Errorf("api validation failed: %w", err)
	}
	return nil
}

func (v *Validator) validateOrchestrator() error {
	o := v.cfg.Orchestrator
	if o == nil {
		return NewValidationError("orchestrator", "", "", ErrMissingRequiredField)
	}
	if o.MaxConcurrentWorkflows <= 0 {
		return NewValidationError("orchestrator", "", "max_concurrent_workflows",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, o.MaxConcurrentWorkflows))
	}
	if o.TaskTimeout <= 0 {
		return NewValidationError("orchestrator", "", "task_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if o.ExecutionTimeout < o.TaskTimeout {
		return NewValidationError("orchestrator", "", "execution_timeout",
			fmt.Errorf("%w: must be at least task_timeout", ErrInvalidValue))
	}
	if o.HeartbeatInterval <= 0 {
		return NewValidationError("orchestrator", "", "heartbeat_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if o.CheckpointEvery <= 0 {
		return NewValidationError("orchestrator", "", "checkpoint_every",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, o.CheckpointEvery))
	}
	if o.MaxRetries < 0 {
		return NewValidationError("orchestrator", "", "max_retries",
			fmt.Errorf("%w: must not be negative, got %d", ErrInvalidValue, o.MaxRetries))
	}
	if o.HistorySize <= 0 {
		return NewValidationError("orchestrator", "", "history_size",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, o.HistorySize))
	}
	return nil
}

func (v *Validator) validatePools() error {
	p := v.cfg.Pools
	if p == nil || len(p.Roles) == 0 {
		return NewValidationError("pools", "", "", ErrMissingRequiredField)
	}
	for role, cfg := range p.Roles {
		if !role.IsValid() {
			return NewValidationError("pool", string(role), "",
				fmt.Errorf("%w: unknown role", ErrInvalidValue))
		}
		if err := validatePoolConfig(string(role), cfg); err != nil {
			return err
		}
	}
	return nil
}

func validatePoolConfig(role string, cfg *PoolConfig) error {
	if cfg == nil {
		return NewValidationError("pool", role, "", ErrMissingRequiredField)
	}
	if !cfg.Strategy.IsValid() {
		return NewValidationError("pool", role, "strategy",
			fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Strategy))
	}
	s := cfg.Scaling
	if s.MinInstances < 1 {
		return NewValidationError("pool", role, "scaling.min_instances",
			fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, s.MinInstances))
	}
	if s.MaxInstances < s.MinInstances {
		return NewValidationError("pool", role, "scaling.max_instances",
			fmt.Errorf("%w: must be at least min_instances (%d), got %d",
				ErrInvalidValue, s.MinInstances, s.MaxInstances))
	}
	if s.ScaleUpLoad <= 0 || s.ScaleUpLoad > 1 {
		return NewValidationError("pool", role, "scaling.scale_up_load",
			fmt.Errorf("%w: must be in (0,1], got %v", ErrInvalidValue, s.ScaleUpLoad))
	}
	if s.ScaleDownLoad < 0 || s.ScaleDownLoad >= s.ScaleUpLoad {
		return NewValidationError("pool", role, "scaling.scale_down_load",
			fmt.Errorf("%w: must be in [0, scale_up_load), got %v", ErrInvalidValue, s.ScaleDownLoad))
	}
	if s.QueueThreshold < 0 {
		return NewValidationError("pool", role, "scaling.queue_threshold",
			fmt.Errorf("%w: must not be negative, got %d", ErrInvalidValue, s.QueueThreshold))
	}
	if cfg.ScalerInterval <= 0 {
		return NewValidationError("pool", role, "scaler_interval",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if cfg.InstanceQueueSize <= 0 {
		return NewValidationError("pool", role, "instance_queue_size",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, cfg.InstanceQueueSize))
	}
	if cfg.Model != nil && cfg.Model.Tier != "" && !cfg.Model.Tier.IsValid() {
		return NewValidationError("pool", role, "model.tier",
			fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Model.Tier))
	}
	return nil
}

func (v *Validator) validateTransport() error {
	t := v.cfg.Transport
	if t == nil {
		return NewValidationError("transport", "", "", ErrMissingRequiredField)
	}
	if !t.Mode.IsValid() {
		return NewValidationError("transport", "", "mode",
			fmt.Errorf("%w: %q", ErrInvalidValue, t.Mode))
	}
	if t.Mode == TransportModeHTTP && t.Endpoint == "" {
		return NewValidationError("transport", "", "endpoint",
			fmt.Errorf("%w: required for http mode", ErrMissingRequiredField))
	}
	if t.RequestTimeout <= 0 {
		return NewValidationError("transport", "", "request_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if t.MaxAttempts < 1 {
		return NewValidationError("transport", "", "max_attempts",
			fmt.Errorf("%w: must be at least 1, got %d", ErrInvalidValue, t.MaxAttempts))
	}
	if t.BackoffMultiplier < 1 {
		return NewValidationError("transport", "", "backoff_multiplier",
			fmt.Errorf("%w: must be at least 1, got %v", ErrInvalidValue, t.BackoffMultiplier))
	}
	return nil
}

func (v *Validator) validateStorage() error {
	s := v.cfg.Storage
	if s == nil {
		return NewValidationError("storage", "", "", ErrMissingRequiredField)
	}
	if !s.Backend.IsValid() {
		return NewValidationError("storage", "", "backend",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.Backend))
	}
	switch s.Backend {
	case StorageBackendFS:
		if s.Dir == "" {
			return NewValidationError("storage", "", "dir",
				fmt.Errorf("%w: required for fs backend", ErrMissingRequiredField))
		}
	case StorageBackendRedis:
		if s.Redis.Addr == "" {
			return NewValidationError("storage", "", "redis.addr",
				fmt.Errorf("%w: required for redis backend", ErrMissingRequiredField))
		}
	case StorageBackendPostgres:
		if s.Postgres.Host == "" || s.Postgres.Database == "" || s.Postgres.User == "" {
			return NewValidationError("storage", "", "postgres",
				fmt.Errorf("%w: host, user, and database are required for postgres backend", ErrMissingRequiredField))
		}
	}
	return nil
}

func (v *Validator) validateAPI() error {
	a := v.cfg.API
	if a == nil {
		return NewValidationError("api", "", "", ErrMissingRequiredField)
	}
	if a.Port <= 0 || a.Port > 65535 {
		return NewValidationError("api", "", "port",
			fmt.Errorf("%w: must be in 1..65535, got %d", ErrInvalidValue, a.Port))
	}
	if a.EventBufferSize <= 0 {
		return NewValidationError("api", "", "event_buffer_size",
			fmt.Errorf("%w: must be positive, got %d", ErrInvalidValue, a.EventBufferSize))
	}
	return nil
}
