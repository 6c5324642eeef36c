package response

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	blockKeyPrefix  = "fraudguard:block:"
	markerKeyPrefix = "fraudguard:blocked_ever:"
	// markerTTL bounds how long repeat-offender memory survives in redis.
	markerTTL = 30 * 24 * time.Hour
)

// RedisStore is a BlockStore shared across service instances. Block TTL is
// enforced by redis expiry in addition to the engine's own expiry checks,
// so lazily evicted lookups and the sweep stay correct either way.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func blockKey(identifier string) string  { return blockKeyPrefix + identifier }
func markerKey(identifier string) string { return markerKeyPrefix + identifier }

// Get implements BlockStore.
func (s *RedisStore) Get(ctx context.Context, identifier string) (*Block, error) {
	raw, err := s.client.Get(ctx, blockKey(identifier)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block: %w", err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("failed to decode block: %w", err)
	}
	return &b, nil
}

// Set implements BlockStore.
func (s *RedisStore) Set(ctx context.Context, b Block) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode block: %w", err)
	}
	var ttl time.Duration
	if !b.Permanent {
		ttl = time.Until(b.ExpiresAt)
		if ttl <= 0 {
			ttl = time.Second
		}
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, blockKey(b.Identifier), raw, ttl)
	pipe.Set(ctx, markerKey(b.Identifier), "1", markerTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store block: %w", err)
	}
	return nil
}

// Delete implements BlockStore.
func (s *RedisStore) Delete(ctx context.Context, identifier string) error {
	if err := s.client.Del(ctx, blockKey(identifier)).Err(); err != nil {
		return fmt.Errorf("failed to delete block: %w", err)
	}
	return nil
}

// All implements BlockStore.
func (s *RedisStore) All(ctx context.Context) ([]Block, error) {
	var out []Block
	iter := s.client.Scan(ctx, 0, blockKeyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read block %s: %w", iter.Val(), err)
		}
		var b Block
		if err := json.Unmarshal(raw, &b); err != nil {
			continue
		}
		out = append(out, b)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan blocks: %w", err)
	}
	return out, nil
}

// WasBlocked implements BlockStore.
func (s *RedisStore) WasBlocked(ctx context.Context, identifier string) (bool, error) {
	n, err := s.client.Exists(ctx, markerKey(identifier), blockKey(identifier)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check block marker: %w", err)
	}
	return n > 0, nil
}
