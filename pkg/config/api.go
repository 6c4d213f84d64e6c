package config

import "time"

// APIConfig configures the operator HTTP surface.
type APIConfig struct {
	// Host is the listen address.
	Host string `yaml:"host"`

	// Port is the listen port.
	Port int `yaml:"port"`

	// ShutdownTimeout bounds HTTP server drain during shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// EventBufferSize bounds each event subscriber's channel.
	EventBufferSize int `yaml:"event_buffer_size"`
}

// DefaultAPIConfig returns the built-in API defaults.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 10 * time.Second,
		EventBufferSize: 64,
	}
}
