package chess

import (
	"context"
	"sort"
	"sync"

	"github.com/park285/cheese-coach/internal/domain"
)

// SessionStore owns live game sessions. Update runs fn on a private copy and
// commits it only when fn succeeds; calls for the same id never overlap.
type SessionStore interface {
	Create(ctx context.Context, g *domain.GameSession) error
	Get(ctx context.Context, id string) (*domain.GameSession, error)
	Update(ctx context.Context, id string, fn func(g *domain.GameSession) error) (*domain.GameSession, error)
	ListByPlayer(ctx context.Context, playerID string) ([]*domain.GameSession, error)
}

// keyedMutex hands out one mutex per session id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refLock)}
}

func (k *keyedMutex) Lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

// memoryStore keeps sessions in process memory. Used in development and tests.
type memoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.GameSession
	byPlayer map[string][]string
	locks    *keyedMutex
}

func NewMemorySessionStore() SessionStore {
	return &memoryStore{
		sessions: make(map[string]*domain.GameSession),
		byPlayer: make(map[string][]string),
		locks:    newKeyedMutex(),
	}
}

func (m *memoryStore) Create(ctx context.Context, g *domain.GameSession) error {
	if g == nil || g.ID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[g.ID]; exists {
		return ErrSessionConflict
	}
	m.sessions[g.ID] = g.Clone()
	m.byPlayer[g.PlayerID] = append(m.byPlayer[g.PlayerID], g.ID)
	return nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return g.Clone(), nil
}

func (m *memoryStore) Update(ctx context.Context, id string, fn func(g *domain.GameSession) error) (*domain.GameSession, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	cur, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(cur); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[id] = cur.Clone()
	m.mu.Unlock()
	return cur, nil
}

func (m *memoryStore) ListByPlayer(ctx context.Context, playerID string) ([]*domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byPlayer[playerID]
	out := make([]*domain.GameSession, 0, len(ids))
	for _, id := range ids {
		if g, ok := m.sessions[id]; ok {
			out = append(out, g.Clone())
		}
	}
	sortSessions(out)
	return out, nil
}

// sortSessions orders newest first.
func sortSessions(list []*domain.GameSession) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].StartedAt.After(list[j].StartedAt)
	})
}
