package config

// StorageBackend defines where execution envelopes are persisted
type StorageBackend string

const (
	// StorageBackendMemory keeps envelopes in process memory only
	StorageBackendMemory StorageBackend = "memory"
	// StorageBackendFS writes one JSON file per execution
	StorageBackendFS StorageBackend = "fs"
	// StorageBackendRedis stores envelopes in Redis
	StorageBackendRedis StorageBackend = "redis"
	// StorageBackendPostgres stores envelopes in PostgreSQL
	StorageBackendPostgres StorageBackend = "postgres"
)

// IsValid checks if the storage backend is valid
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageBackendMemory, StorageBackendFS, StorageBackendRedis, StorageBackendPostgres:
		return true
	default:
		return false
	}
}

// TransportMode defines how tasks reach agent processes
type TransportMode string

const (
	// TransportModeLocal executes agent steps in-process via the step registry
	TransportModeLocal TransportMode = "local"
	// TransportModeHTTP posts tasks to an external agent-process endpoint
	TransportModeHTTP TransportMode = "http"
)

// IsValid checks if the transport mode is valid
func (m TransportMode) IsValid() bool {
	return m == TransportModeLocal || m == TransportModeHTTP
}

// ModelTier defines the cost/capability class of a model assignment
type ModelTier string

const (
	// ModelTierPremium is the highest capability tier
	ModelTierPremium ModelTier = "premium"
	// ModelTierStandard is the default tier
	ModelTierStandard ModelTier = "standard"
	// ModelTierEconomy is the lowest cost tier
	ModelTierEconomy ModelTier = "economy"
)

// IsValid checks if the model tier is valid
func (t ModelTier) IsValid() bool {
	return t == ModelTierPremium || t == ModelTierStandard || t == ModelTierEconomy
}
