package chess

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/park285/cheese-coach/internal/domain"
)

// memrepo is an in-memory Repository used when no DB is configured.
type memrepo struct {
	mu sync.RWMutex

	games       map[string]*domain.GameSession
	gamesByUser map[string][]string
	stats       map[string]domain.UserStats
	analyses    map[string][]domain.AnalysisResult
}

func NewMemoryRepository() Repository {
	return &memrepo{
		games:       make(map[string]*domain.GameSession),
		gamesByUser: make(map[string][]string),
		stats:       make(map[string]domain.UserStats),
		analyses:    make(map[string][]domain.AnalysisResult),
	}
}

func (m *memrepo) FinishGame(ctx context.Context, game *domain.GameSession, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	if game == nil {
		return domain.UserStats{}, ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[game.ID]; exists {
		return domain.UserStats{}, ErrDuplicateGame
	}
	next, err := m.nextStats(game.PlayerID, fn)
	if err != nil {
		return domain.UserStats{}, err
	}
	m.games[game.ID] = game.Clone()
	m.gamesByUser[game.PlayerID] = append(m.gamesByUser[game.PlayerID], game.ID)
	m.stats[game.PlayerID] = next
	return copyStats(next), nil
}

func (m *memrepo) GetGame(ctx context.Context, id string) (*domain.GameSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return g.Clone(), nil
}

func (m *memrepo) RecentGames(ctx context.Context, playerID string, limit int) ([]*domain.GameSession, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	m.mu.RLock()
	ids := m.gamesByUser[playerID]
	items := make([]*domain.GameSession, 0, len(ids))
	for _, id := range ids {
		items = append(items, m.games[id].Clone())
	}
	m.mu.RUnlock()

	sortSessions(items)
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) GetStats(ctx context.Context, playerID string) (domain.UserStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.stats[playerID]
	if !ok {
		return domain.NewUserStats(playerID), nil
	}
	return copyStats(s), nil
}

func (m *memrepo) UpdateStats(ctx context.Context, playerID string, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := m.nextStats(playerID, fn)
	if err != nil {
		return domain.UserStats{}, err
	}
	m.stats[playerID] = next
	return copyStats(next), nil
}

// nextStats applies fn to a copy of the player's stats. Callers hold mu.
func (m *memrepo) nextStats(playerID string, fn func(stats *domain.UserStats) error) (domain.UserStats, error) {
	cur, ok := m.stats[playerID]
	if !ok {
		cur = domain.NewUserStats(playerID)
	}
	next := copyStats(cur)
	if err := fn(&next); err != nil {
		return domain.UserStats{}, err
	}
	next.Rating = clampRating(next.Rating)
	next.UpdatedAt = time.Now()
	return next, nil
}

func (m *memrepo) InsertAnalysis(ctx context.Context, playerID string, analysis domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	analysis.PrincipalVariation = append([]string(nil), analysis.PrincipalVariation...)
	m.analyses[playerID] = append(m.analyses[playerID], analysis)
	return nil
}

// analysesFor is used by tests to inspect stored analyses, newest first.
func (m *memrepo) analysesFor(playerID string) []domain.AnalysisResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := append([]domain.AnalysisResult(nil), m.analyses[playerID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func copyStats(s domain.UserStats) domain.UserStats {
	s.FavoriteOpenings = append([]domain.OpeningCount(nil), s.FavoriteOpenings...)
	return s
}
