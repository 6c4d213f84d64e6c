// Package store persists workflow execution envelopes. The executor writes
// an envelope on every state transition and checkpoint; Status reads fall
// back to the store once an execution ages out of the in-memory history.
//
// Four backends implement the contract: memory (the default), fs (one JSON
// file per execution), redis, and postgres. Which one runs is a
// configuration choice; the executor sees only ExecutionStore.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// ErrNotFound is returned when no envelope exists for an execution id.
var ErrNotFound = errors.New("execution not found in store")

// ExecutionStore is the persistence contract the executor depends on.
// Implementations must be safe for concurrent use.
type ExecutionStore interface {
	// SaveSnapshot writes the envelope, replacing any previous version.
	SaveSnapshot(ctx context.Context, envelope *models.ExecutionEnvelope) error

	// LoadSnapshot returns the envelope for an execution id, or ErrNotFound.
	LoadSnapshot(ctx context.Context, executionID string) (*models.ExecutionEnvelope, error)

	// List returns every stored envelope. Ordering is backend-defined.
	List(ctx context.Context) ([]*models.ExecutionEnvelope, error)

	// Delete removes the envelope for an execution id. Deleting a missing
	// envelope is not an error.
	Delete(ctx context.Context, executionID string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Open builds the store selected by the configuration.
func Open(ctx context.Context, cfg *config.StorageConfig) (ExecutionStore, error) {
	if cfg == nil {
		return NewMemory(), nil
	}
	switch cfg.Backend {
	case "", config.StorageBackendMemory:
		return NewMemory(), nil
	case config.StorageBackendFS:
		return NewFS(cfg.Dir)
	case config.StorageBackendRedis:
		return NewRedis(ctx, cfg.Redis)
	case config.StorageBackendPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
