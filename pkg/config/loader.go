package config

import (
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Load reads, merges, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read the YAML file (an empty path yields pure defaults)
//  2. Expand environment variables
//  3. Parse YAML into the user overlay
//  4. Merge user overlay onto built-in defaults (user values win)
//  5. Resolve per-role pool configs (defaults + role overrides, model caps)
//  6. Validate everything
func Load(path string) (*Config, error) {
	log := slog.With("config_path", path)
	log.Info("Loading configuration")

	user := &Config{}
	if path != "" {
		if err := loadYAML(path, user); err != nil {
			return nil, NewLoadError(path, err)
		}
	}

	cfg, err := resolve(user)
	if err != nil {
		return nil, NewLoadError(path, err)
	}
	cfg.configPath = path

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration loaded",
		"roles", stats.Roles,
		"max_workflows", stats.MaxWorkflows,
		"storage", stats.StorageBackend,
		"transport", stats.TransportMode)

	return cfg, nil
}

// resolve merges the user overlay with built-in defaults.
func resolve(user *Config) (*Config, error) {
	orch := DefaultOrchestratorConfig()
	if user.Orchestrator != nil {
		if err := mergo.Merge(orch, user.Orchestrator, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge orchestrator config: %w", err)
		}
	}

	transport := DefaultTransportConfig()
	if user.Transport != nil {
		if err := mergo.Merge(transport, user.Transport, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge transport config: %w", err)
		}
	}

	storage := DefaultStorageConfig()
	if user.Storage != nil {
		if err := mergo.Merge(storage, user.Storage, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge storage config: %w", err)
		}
	}

	api := DefaultAPIConfig()
	if user.API != nil {
		if err := mergo.Merge(api, user.API, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge api config: %w", err)
		}
	}

	pools, err := resolvePools(user.Pools)
	if err != nil {
		return nil, err
	}

	return &Config{
		Orchestrator: orch,
		Pools:        pools,
		Transport:    transport,
		Storage:      storage,
		API:          api,
	}, nil
}

func loadYAML(path string, target any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser produce a clearer message.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
