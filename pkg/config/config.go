// Package config loads and validates the engine's YAML configuration:
// executor limits, per-role pool scaling, transport, storage, and the
// operator API.
package config

import (
	"github.com/dirigent-io/dirigent/pkg/models"
)

// Config is the umbrella configuration object returned by Load and used
// throughout the engine.
type Config struct {
	configPath string // Configuration file path (for reference)

	// Orchestrator holds workflow executor settings.
	Orchestrator *OrchestratorConfig `yaml:"orchestrator"`

	// Pools holds shared defaults and per-role pool settings.
	Pools *PoolsConfig `yaml:"pools"`

	// Transport holds agent-process transport settings.
	Transport *TransportConfig `yaml:"transport"`

	// Storage holds execution store settings.
	Storage *StorageConfig `yaml:"storage"`

	// API holds operator HTTP surface settings.
	API *APIConfig `yaml:"api"`
}

// ConfigPath returns the configuration file path, or "" for pure defaults.
func (c *Config) ConfigPath() string {
	return c.configPath
}

// PoolFor returns the resolved pool configuration for a role.
func (c *Config) PoolFor(role models.AgentType) *PoolConfig {
	return c.Pools.ForRole(role)
}

// Stats contains statistics about loaded configuration
type Stats struct {
	Roles          int
	MaxWorkflows   int
	StorageBackend StorageBackend
	TransportMode  TransportMode
}

// Stats returns configuration statistics for logging
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.Pools != nil {
		s.Roles = len(c.Pools.Roles)
	}
	if c.Orchestrator != nil {
		s.MaxWorkflows = c.Orchestrator.MaxConcurrentWorkflows
	}
	if c.Storage != nil {
		s.StorageBackend = c.Storage.Backend
	}
	if c.Transport != nil {
		s.TransportMode = c.Transport.Mode
	}
	return s
}
