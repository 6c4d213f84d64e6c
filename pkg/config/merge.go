package config

import (
	"fmt"

	"dario.cat/mergo"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// resolvePools expands the pools section so every role has a fully populated
// PoolConfig: built-in defaults, overlaid with the user's pools.defaults,
// overlaid with the per-role entry. Later layers win field by field.
func resolvePools(user *PoolsConfig) (*PoolsConfig, error) {
	shared := DefaultPoolConfig()
	if user != nil && user.Defaults != nil {
		if err := mergo.Merge(shared, user.Defaults, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge pool defaults: %w", err)
		}
	}

	resolved := &PoolsConfig{
		Defaults: shared,
		Roles:    make(map[models.AgentType]*PoolConfig, len(models.AllAgentTypes())),
	}

	for _, role := range models.AllAgentTypes() {
		roleCfg := clonePoolConfig(shared)
		if user != nil && user.Roles != nil {
			if override, ok := user.Roles[role]; ok && override != nil {
				if err := mergo.Merge(roleCfg, override, mergo.WithOverride); err != nil {
					return nil, fmt.Errorf("failed to merge pool config for role %s: %w", role, err)
				}
			}
		}
		capPoolToModel(roleCfg)
		resolved.Roles[role] = roleCfg
	}

	return resolved, nil
}

// capPoolToModel caps MaxInstances to the model assignment's concurrency
// limit when one is set, and keeps MinInstances within the new ceiling.
func capPoolToModel(cfg *PoolConfig) {
	if cfg.Model == nil || cfg.Model.MaxConcurrentInstances <= 0 {
		return
	}
	if cfg.Model.MaxConcurrentInstances < cfg.Scaling.MaxInstances {
		cfg.Scaling.MaxInstances = cfg.Model.MaxConcurrentInstances
	}
	if cfg.Scaling.MinInstances > cfg.Scaling.MaxInstances {
		cfg.Scaling.MinInstances = cfg.Scaling.MaxInstances
	}
}

func clonePoolConfig(src *PoolConfig) *PoolConfig {
	cp := *src
	if src.Model != nil {
		modelCopy := *src.Model
		cp.Model = &modelCopy
	}
	return &cp
}
