package config

import "time"

// TransportConfig controls how tasks reach agent processes.
type TransportConfig struct {
	// Mode selects the transport implementation (local or http).
	Mode TransportMode `yaml:"mode"`

	// Endpoint is the base URL of the external agent-process service.
	// Required when Mode is http.
	Endpoint string `yaml:"endpoint,omitempty"`

	// RequestTimeout bounds a single HTTP call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// MaxAttempts is the number of tries per task send, including the first.
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier grows the delay between attempts.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`

	// BreakerFailureThreshold is the consecutive-failure count that opens
	// the circuit breaker.
	BreakerFailureThreshold uint32 `yaml:"breaker_failure_threshold"`

	// BreakerOpenTimeout is how long the breaker stays open before probing.
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout"`
}

// DefaultTransportConfig returns the built-in transport defaults.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{
		Mode:                    TransportModeLocal,
		RequestTimeout:          60 * time.Second,
		MaxAttempts:             3,
		InitialBackoff:          500 * time.Millisecond,
		MaxBackoff:              10 * time.Second,
		BackoffMultiplier:       2.0,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      30 * time.Second,
	}
}
