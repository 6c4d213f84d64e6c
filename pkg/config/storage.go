package config

import "time"

// RedisStorageConfig holds connection settings for the Redis backend.
type RedisStorageConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password,omitempty"`
	DB        int           `yaml:"db,omitempty"`
	KeyPrefix string        `yaml:"key_prefix,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
}

// PostgresStorageConfig holds connection settings for the PostgreSQL backend.
type PostgresStorageConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password,omitempty"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty"`
}

// StorageConfig selects and configures the execution envelope store.
type StorageConfig struct {
	// Backend selects the store implementation.
	Backend StorageBackend `yaml:"backend"`

	// Dir is the base directory for the fs backend.
	Dir string `yaml:"dir,omitempty"`

	// Redis configures the redis backend.
	Redis RedisStorageConfig `yaml:"redis,omitempty"`

	// Postgres configures the postgres backend.
	Postgres PostgresStorageConfig `yaml:"postgres,omitempty"`
}

// DefaultStorageConfig returns the built-in storage defaults.
func DefaultStorageConfig() *StorageConfig {
	return &StorageConfig{
		Backend: StorageBackendMemory,
		Dir:     "data/executions",
		Redis: RedisStorageConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "dirigent",
		},
		Postgres: PostgresStorageConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "dirigent",
			Database: "dirigent",
			SSLMode:  "disable",
		},
	}
}
