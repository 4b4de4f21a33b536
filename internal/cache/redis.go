package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cadencehq/cadence/internal/domain"
	"github.com/redis/go-redis/v9"
)

// Sequence snapshots are reconnect aids, not durable state; let idle
// sessions age out.
const redisTTL = 24 * time.Hour

// Redis is a SequenceCache shared across hub instances.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{client: client}, nil
}

func key(sessionID string) string {
	return "cadence:sequence:" + sessionID
}

// Get returns the cached document for a session, or nil.
func (r *Redis) Get(ctx context.Context, sessionID string) (*domain.SequenceDocument, error) {
	data, err := r.client.Get(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached sequence: %w", err)
	}
	var doc domain.SequenceDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode cached sequence: %w", err)
	}
	return &doc, nil
}

// Put stores the document for a session.
func (r *Redis) Put(ctx context.Context, sessionID string, doc *domain.SequenceDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode sequence: %w", err)
	}
	if err := r.client.Set(ctx, key(sessionID), data, redisTTL).Err(); err != nil {
		return fmt.Errorf("cache sequence: %w", err)
	}
	return nil
}

// Clear removes the cached document for a session.
func (r *Redis) Clear(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, key(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear cached sequence: %w", err)
	}
	return nil
}

// Close releases the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

var _ SequenceCache = (*Redis)(nil)
