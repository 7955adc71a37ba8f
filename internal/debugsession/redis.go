package debugsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bumperworks/preorders/internal/models"
)

const redisKeyPrefix = "preorders:debug_session:"

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, connectionString string, ttl time.Duration) (*RedisStore, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context is required")
	}

	opts, err := redis.ParseURL(connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis connection string: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w (and failed to close client: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) Get(ctx context.Context, id uuid.UUID) (*models.DebugSession, bool) {
	if r == nil || r.client == nil || id == uuid.Nil || ctx == nil {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	val, err := r.client.Get(ctx, redisSessionKey(id)).Bytes()
	if err != nil {
		return nil, false
	}

	var session models.DebugSession
	if err := json.Unmarshal(val, &session); err != nil {
		return nil, false
	}
	return &session, true
}

func (r *RedisStore) Save(ctx context.Context, session *models.DebugSession) error {
	if r == nil || r.client == nil {
		return fmt.Errorf("redis debug session store not configured")
	}
	if session == nil || session.ID == uuid.Nil {
		return fmt.Errorf("debug session id is required")
	}

	val, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode debug session: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Each save restarts the TTL.
	if err := r.client.Set(ctx, redisSessionKey(session.ID), val, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store debug session: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id uuid.UUID) {
	if r == nil || r.client == nil || id == uuid.Nil || ctx == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// A failed delete leaves the session to expire with its TTL.
	_ = r.client.Del(ctx, redisSessionKey(id)).Err()
}

func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func redisSessionKey(id uuid.UUID) string {
	return redisKeyPrefix + id.String()
}
