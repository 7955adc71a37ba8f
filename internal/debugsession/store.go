// Package debugsession stores in-flight diagnostic sessions with a bounded lifetime.
package debugsession

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bumperworks/preorders/internal/models"
)

const DefaultTTL = time.Hour

// Store keeps diagnostic sessions until their TTL elapses.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*models.DebugSession, bool)
	Save(ctx context.Context, session *models.DebugSession) error
	Delete(ctx context.Context, id uuid.UUID)
	Close() error
}

type Config struct {
	Provider              string
	RedisConnectionString string
	TTL                   time.Duration
}

func NewStore(ctx context.Context, cfg Config) (Store, error) {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	switch cfg.Provider {
	case "", "memory":
		return NewMemoryStore(ttl), nil
	case "redis":
		return NewRedisStore(ctx, cfg.RedisConnectionString, ttl)
	default:
		return nil, fmt.Errorf("unsupported debug session store provider: %s", cfg.Provider)
	}
}

func cloneSession(session *models.DebugSession) *models.DebugSession {
	if session == nil {
		return nil
	}
	cloned := *session
	cloned.Steps = make([]models.DebugStep, len(session.Steps))
	copy(cloned.Steps, session.Steps)
	return &cloned
}
