package debugsession

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/bumperworks/preorders/internal/models"
)

const defaultMemorySessions = 1_000

// MemoryStore is a size- and time-bounded in-process session store.
type MemoryStore struct {
	sessions *expirable.LRU[uuid.UUID, *models.DebugSession]
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		sessions: expirable.NewLRU[uuid.UUID, *models.DebugSession](defaultMemorySessions, nil, ttl),
	}
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.DebugSession, bool) {
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return cloneSession(session), true
}

func (s *MemoryStore) Save(_ context.Context, session *models.DebugSession) error {
	if session == nil || session.ID == uuid.Nil {
		return fmt.Errorf("debug session id is required")
	}
	s.sessions.Add(session.ID, cloneSession(session))
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id uuid.UUID) {
	s.sessions.Remove(id)
}

func (s *MemoryStore) Close() error {
	s.sessions.Purge()
	return nil
}
