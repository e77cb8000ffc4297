package challenges

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shieldgate/authcore/internal/autherrors"
	"github.com/shieldgate/authcore/internal/models"
)

// MemoryStore is an in-process Store keyed by challenge ID, with one
// mutex per entry so WithLock genuinely serializes concurrent
// verifications of the same challenge without blocking unrelated ones
// (§5: "hot reads do not block on writes to other keys").
type MemoryStore struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

type entry struct {
	mu        sync.Mutex
	challenge *models.Challenge
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[uuid.UUID]*entry)}
}

func (m *MemoryStore) Create(_ context.Context, c *models.Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *c
	m.entries[c.ID] = &entry{challenge: &clone}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Challenge, error) {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return nil, autherrors.ErrChallengeExpired
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	clone := *e.challenge
	return &clone, nil
}

func (m *MemoryStore) WithLock(_ context.Context, id uuid.UUID, fn func(c *models.Challenge) (*models.Challenge, error)) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return autherrors.ErrChallengeExpired
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next, err := fn(e.challenge)
	if err != nil {
		return err
	}
	if next != nil {
		e.challenge = next
	}
	return nil
}
