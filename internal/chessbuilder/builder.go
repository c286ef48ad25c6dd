package chessbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/config"
	"github.com/park285/cheese-coach/internal/httpapi"
	"github.com/park285/cheese-coach/internal/livefeed"
	"github.com/park285/cheese-coach/internal/msgcat"
	"github.com/park285/cheese-coach/internal/recognizer"
	svcchess "github.com/park285/cheese-coach/internal/service/chess"
)

type Deps struct {
	Service  *svcchess.Service
	Engine   *corechess.Engine
	API      *httpapi.Server
	Feed     *livefeed.Hub
	Messages *msgcat.Catalog

	closers []func() error
}

// Close releases the Redis client and database pool, if any.
func (d *Deps) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New wires the engine, storage, and transports. Redis and Postgres are used
// when their URLs are set; otherwise sessions and archives stay in memory.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.ApplyTiers(); err != nil {
		return nil, fmt.Errorf("apply tiers: %w", err)
	}
	deps := &Deps{}
	fail := func(err error) (*Deps, error) {
		_ = deps.Close()
		return nil, err
	}

	limits := corechess.DefaultLimits()
	limits.MaxDepth = cfg.MaxAnalysisDepth
	limits.DefaultDepth = cfg.DefaultAnalysisDepth
	limits.AnalysisTimeout = cfg.AnalysisTimeout
	engine := corechess.NewEngine(corechess.Options{
		Weights: cfg.Weights,
		Limits:  limits,
		Seed:    cfg.RandomSeed,
		Logger:  logger.Named("engine"),
	})
	deps.Engine = engine

	store, err := newSessionStore(ctx, deps, cfg, logger)
	if err != nil {
		return fail(err)
	}
	repo, err := newRepository(ctx, deps, cfg, logger)
	if err != nil {
		return fail(err)
	}

	rec, err := recognizer.New(engine.Rules(), recognizer.Options{
		MaxImageBytes: cfg.MaxImageBytes,
		Seed:          cfg.RandomSeed,
		Logger:        logger.Named("recognizer"),
	})
	if err != nil {
		return fail(fmt.Errorf("init recognizer: %w", err))
	}

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return fail(fmt.Errorf("load messages: %w", err))
	}
	deps.Messages = msgs

	deps.Feed = livefeed.NewHub(livefeed.Options{Logger: logger.Named("livefeed")})

	service, err := svcchess.NewService(engine, store, repo,
		svcchess.Config{HistoryLimit: cfg.HistoryLimit},
		logger.Named("service"),
		svcchess.WithRecognizer(rec),
		svcchess.WithPublisher(deps.Feed),
	)
	if err != nil {
		return fail(err)
	}
	deps.Service = service

	deps.API = httpapi.New(service, httpapi.Options{
		Messages:     msgs,
		Logger:       logger.Named("http"),
		MaxBodyBytes: cfg.MaxImageBytes + 1<<20,
	})
	return deps, nil
}

func newSessionStore(ctx context.Context, deps *Deps, cfg *config.AppConfig, logger *zap.Logger) (svcchess.SessionStore, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		logger.Warn("REDIS_URL not set; chess sessions are kept in memory")
		return svcchess.NewMemorySessionStore(), nil
	}
	opts, err := svcchess.ParseRedisURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	deps.closers = append(deps.closers, rdb.Close)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("chess sessions stored in redis", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return svcchess.NewRedisSessionStore(rdb, cfg.SessionTTL), nil
}

func newRepository(ctx context.Context, deps *Deps, cfg *config.AppConfig, logger *zap.Logger) (svcchess.Repository, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		logger.Warn("DATABASE_URL not set; finished games and stats are kept in memory")
		return svcchess.NewMemoryRepository(), nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	deps.closers = append(deps.closers, db.Close)
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := svcchess.Migrate(pctx, db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return svcchess.NewRepository(db), nil
}
