package config

import (
	"time"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// ScalingThresholds controls when a pool grows and shrinks.
type ScalingThresholds struct {
	// ScaleUpLoad is the aggregate load above which the pool adds an instance.
	ScaleUpLoad float64 `yaml:"scale_up_load"`

	// ScaleDownLoad is the aggregate load below which the pool removes an
	// idle instance.
	ScaleDownLoad float64 `yaml:"scale_down_load"`

	// MinInstances is the floor the pool never shrinks below and refills to
	// after failures.
	MinInstances int `yaml:"min_instances"`

	// MaxInstances is the ceiling the pool never grows beyond.
	MaxInstances int `yaml:"max_instances"`

	// QueueThreshold is the queue length that triggers a scale-up regardless
	// of load.
	QueueThreshold int `yaml:"queue_threshold"`

	// ScaleUpCooldown is the minimum time between scale-ups.
	ScaleUpCooldown time.Duration `yaml:"scale_up_cooldown"`

	// ScaleDownCooldown is the minimum time between scale-downs.
	ScaleDownCooldown time.Duration `yaml:"scale_down_cooldown"`
}

// DefaultScalingThresholds returns the built-in scaling defaults.
func DefaultScalingThresholds() ScalingThresholds {
	return ScalingThresholds{
		ScaleUpLoad:       0.8,
		ScaleDownLoad:     0.3,
		MinInstances:      1,
		MaxInstances:      3,
		QueueThreshold:    5,
		ScaleUpCooldown:   60 * time.Second,
		ScaleDownCooldown: 300 * time.Second,
	}
}

// ModelAssignment maps a role to the model serving it. The orchestration core
// treats every field except MaxConcurrentInstances as opaque;
// MaxConcurrentInstances caps the pool's MaxInstances when set.
type ModelAssignment struct {
	Tier                   ModelTier `yaml:"tier"`
	RecommendedModel       string    `yaml:"recommended_model"`
	FallbackModel          string    `yaml:"fallback_model,omitempty"`
	MaxConcurrentInstances int       `yaml:"max_concurrent_instances,omitempty"`
	CostPerToken           float64   `yaml:"cost_per_token,omitempty"`
}

// PoolConfig configures one per-role agent pool.
type PoolConfig struct {
	// Strategy selects the load balancer used by Assign.
	Strategy models.LoadBalancingStrategy `yaml:"strategy"`

	// Scaling holds the auto-scaler thresholds.
	Scaling ScalingThresholds `yaml:"scaling"`

	// ScalerInterval is the tick for the auto-scaler and health monitor.
	ScalerInterval time.Duration `yaml:"scaler_interval"`

	// InstanceQueueSize bounds each instance's local priority queue.
	InstanceQueueSize int `yaml:"instance_queue_size"`

	// DrainTimeout is the grace period an instance waits for its current
	// task during cleanup.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Model is the opaque model assignment for this role.
	Model *ModelAssignment `yaml:"model,omitempty"`
}

// DefaultPoolConfig returns the built-in pool defaults.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Strategy:          models.StrategyLeastLoaded,
		Scaling:           DefaultScalingThresholds(),
		ScalerInterval:    30 * time.Second,
		InstanceQueueSize: 16,
		DrainTimeout:      30 * time.Second,
	}
}

// PoolsConfig holds the shared pool defaults plus per-role overrides.
type PoolsConfig struct {
	// Defaults applies to every role unless overridden.
	Defaults *PoolConfig `yaml:"defaults,omitempty"`

	// Roles overrides defaults per role.
	Roles map[models.AgentType]*PoolConfig `yaml:"roles,omitempty"`
}

// ForRole returns the resolved pool configuration for one role.
// Resolution happens at load time; after Load every role has an entry.
func (p *PoolsConfig) ForRole(role models.AgentType) *PoolConfig {
	if p == nil || p.Roles == nil {
		return DefaultPoolConfig()
	}
	if cfg, ok := p.Roles[role]; ok && cfg != nil {
		return cfg
	}
	if p.Defaults != nil {
		return p.Defaults
	}
	return DefaultPoolConfig()
}
