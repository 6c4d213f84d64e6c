package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dirigent-io/dirigent/pkg/models"
)

// Memory keeps envelopes in process memory. It is the default backend and
// the one tests run against. Envelopes are stored as marshaled JSON so a
// caller mutating a loaded envelope never corrupts the stored copy.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

// SaveSnapshot stores a deep copy of the envelope.
func (m *Memory) SaveSnapshot(_ context.Context, envelope *models.ExecutionEnvelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", envelope.ExecutionID, err)
	}
	m.mu.Lock()
	m.data[envelope.ExecutionID] = raw
	m.mu.Unlock()
	return nil
}

// LoadSnapshot returns a fresh copy of the stored envelope.
func (m *Memory) LoadSnapshot(_ context.Context, executionID string) (*models.ExecutionEnvelope, error) {
	m.mu.RLock()
	raw, ok := m.data[executionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
	}
	var envelope models.ExecutionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope %s: %w", executionID, err)
	}
	return &envelope, nil
}

// List returns every stored envelope in unspecified order.
func (m *Memory) List(_ context.Context) ([]*models.ExecutionEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.ExecutionEnvelope, 0, len(m.data))
	for id, raw := range m.data {
		var envelope models.ExecutionEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decoding envelope %s: %w", id, err)
		}
		out = append(out, &envelope)
	}
	return out, nil
}

// Delete removes the envelope. Missing ids are a no-op.
func (m *Memory) Delete(_ context.Context, executionID string) error {
	m.mu.Lock()
	delete(m.data, executionID)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *Memory) Close() error { return nil }
