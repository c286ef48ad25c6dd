package chess

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/cheese-coach/internal/domain"
)

const (
	defaultSessionTTL    = 24 * time.Hour
	maxOptimisticRetries = 8
)

// redisStore keeps sessions as JSON with a TTL. Updates in this process are
// serialized by a keyed mutex; WATCH/MULTI guards against other processes.
type redisStore struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	locks  *keyedMutex
}

func NewRedisSessionStore(rdb *redis.Client, ttl time.Duration) SessionStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &redisStore{rdb: rdb, ttl: ttl, prefix: "chess", locks: newKeyedMutex()}
}

// ParseRedisURL accepts redis:// and rediss:// URLs.
func ParseRedisURL(raw string) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("redis url required")
	}
	opts, err := redis.ParseURL(raw)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return opts, nil
}

func (s *redisStore) sessionKey(id string) string {
	return s.prefix + ":session:" + strings.TrimSpace(id)
}

func (s *redisStore) playerKey(playerID string) string {
	return s.prefix + ":index:player:" + strings.TrimSpace(playerID)
}

func (s *redisStore) Create(ctx context.Context, g *domain.GameSession) error {
	if g == nil || g.ID == "" {
		return ErrInvalidInput
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	key := s.sessionKey(g.ID)
	index := s.playerKey(g.PlayerID)
	// The session, its index entry and the index TTL land in one MULTI/EXEC.
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrSessionConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, s.ttl)
			pipe.SAdd(ctx, index, g.ID)
			pipe.Expire(ctx, index, s.ttl)
			return nil
		})
		return err
	}, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrSessionConflict), errors.Is(err, redis.TxFailedErr):
		return ErrSessionConflict
	default:
		return fmt.Errorf("store session: %w", err)
	}
}

func (s *redisStore) Get(ctx context.Context, id string) (*domain.GameSession, error) {
	raw, err := s.rdb.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(raw)
}

func decodeSession(raw []byte) (*domain.GameSession, error) {
	var g domain.GameSession
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &g, nil
}

func (s *redisStore) Update(ctx context.Context, id string, fn func(g *domain.GameSession) error) (*domain.GameSession, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	key := s.sessionKey(id)
	var committed *domain.GameSession
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrSessionNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeSession(raw)
		if err != nil {
			return err
		}
		if err := fn(cur); err != nil {
			return err
		}
		next, err := json.Marshal(cur)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		if err == nil {
			committed = cur
		}
		return err
	}

	for attempt := 0; attempt < maxOptimisticRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return committed, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionConflict, id)
}

func (s *redisStore) ListByPlayer(ctx context.Context, playerID string) ([]*domain.GameSession, error) {
	key := s.playerKey(playerID)
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	out := make([]*domain.GameSession, 0, len(ids))
	for _, id := range ids {
		g, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// expired; drop the stale index entry
			_ = s.rdb.SRem(ctx, key, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	sortSessions(out)
	return out, nil
}
