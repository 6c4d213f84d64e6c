package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/dirigent-io/dirigent/pkg/config"
	"github.com/dirigent-io/dirigent/pkg/models"
)

// defaultKeyPrefix namespaces the engine's keys in a shared Redis.
const defaultKeyPrefix = "dirigent"

// Redis stores envelopes as JSON strings at <prefix>:execution:<id>. An
// optional TTL lets deployments age out terminal executions without a
// cleanup job.
type Redis struct {
	client *redis.Client
	cfg    config.RedisStorageConfig
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg config.RedisStorageConfig) (*Redis, error) {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultKeyPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &Redis{client: client, cfg: cfg}, nil
}

func (r *Redis) key(executionID string) string {
	return r.cfg.KeyPrefix + ":execution:" + executionID
}

// SaveSnapshot stores the envelope, refreshing the TTL when one is set.
func (r *Redis) SaveSnapshot(ctx context.Context, envelope *models.ExecutionEnvelope) error {
	raw, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encoding envelope %s: %w", envelope.ExecutionID, err)
	}
	if err := r.client.Set(ctx, r.key(envelope.ExecutionID), raw, r.cfg.TTL).Err(); err != nil {
		return fmt.Errorf("storing envelope %s: %w", envelope.ExecutionID, err)
	}
	return nil
}

// LoadSnapshot reads one envelope.
func (r *Redis) LoadSnapshot(ctx context.Context, executionID string) (*models.ExecutionEnvelope, error) {
	raw, err := r.client.Get(ctx, r.key(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, executionID)
		}
		return nil, fmt.Errorf("reading envelope %s: %w", executionID, err)
	}
	var envelope models.ExecutionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding envelope %s: %w", executionID, err)
	}
	return &envelope, nil
}

// List scans the key space for envelopes. SCAN-based, so safe on a shared
// instance at the cost of a weaker consistency view than a snapshot.
func (r *Redis) List(ctx context.Context) ([]*models.ExecutionEnvelope, error) {
	var out []*models.ExecutionEnvelope
	iter := r.client.Scan(ctx, 0, r.cfg.KeyPrefix+":execution:*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := r.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				// Expired between scan and read.
				continue
			}
			return nil, fmt.Errorf("reading %s: %w", iter.Val(), err)
		}
		var envelope models.ExecutionEnvelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", iter.Val(), err)
		}
		out = append(out, &envelope)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning executions: %w", err)
	}
	return out, nil
}

// Delete removes the envelope. Missing keys are a no-op.
func (r *Redis) Delete(ctx context.Context, executionID string) error {
	if err := r.client.Del(ctx, r.key(executionID)).Err(); err != nil {
		return fmt.Errorf("deleting envelope %s: %w", executionID, err)
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the client.
func (r *Redis) Close() error {
	return r.client.Close()
}
