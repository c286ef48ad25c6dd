package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	corechess "github.com/park285/cheese-coach/internal/chess"
	"github.com/park285/cheese-coach/internal/domain"
	"github.com/park285/cheese-coach/internal/recognizer"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrIllegalMove           = errors.New("illegal move")
	ErrInvalidSession        = errors.New("invalid session")
	ErrSessionNotFound       = errors.New("chess session not found")
	ErrSessionConflict       = errors.New("chess session update conflict")
	ErrRecognizerUnavailable = errors.New("position recognizer unavailable")
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 50

	minInitialSeconds   = 60
	maxInitialSeconds   = 3600
	maxIncrementSeconds = 60

	ColorRandom = "random"
)

// Engine is the part of corechess.Engine the service drives.
type Engine interface {
	MovePicker
	Analyze(ctx context.Context, req corechess.AnalyzeRequest) (domain.AnalysisResult, error)
	Rules() *corechess.Oracle
	Random() *rand.Rand
}

type ImageRecognizer interface {
	Recognize(ctx context.Context, image []byte) (recognizer.Result, error)
}

type Config struct {
	HistoryLimit int
}

type Option func(*Service)

func WithRecognizer(r ImageRecognizer) Option {
	return func(s *Service) { s.recognizer = r }
}

func WithPublisher(p EventPublisher) Option {
	return func(s *Service) { s.events = p }
}

// WithRatingUpdater replaces ApplyRating.
func WithRatingUpdater(fn RatingUpdater) Option {
	return func(s *Service) { s.rate = fn }
}

type Service struct {
	engine     Engine
	machine    *Machine
	store      SessionStore
	repo       Repository
	recognizer ImageRecognizer
	events     EventPublisher
	rate       RatingUpdater
	cfg        Config
	logger     *zap.Logger
}

func NewService(engine Engine, store SessionStore, repo Repository, cfg Config, logger *zap.Logger, opts ...Option) (*Service, error) {
	if engine == nil {
		return nil, fmt.Errorf("chess engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if repo == nil {
		return nil, fmt.Errorf("chess repository is required")
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > maxHistoryLimit {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		engine:  engine,
		machine: NewMachine(engine.Rules(), engine),
		store:   store,
		repo:    repo,
		events:  nopPublisher{},
		rate:    ApplyRating,
		cfg:     cfg,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = nopPublisher{}
	}
	if s.rate == nil {
		s.rate = ApplyRating
	}
	return s, nil
}

type CreateGameRequest struct {
	Settings domain.GameSettings
	// FEN optionally starts the game from a custom position.
	FEN string
}

// CreateGame validates the settings, resolves a random color and starts the
// session. The bot's opening move is already in the log when it plays White.
func (s *Service) CreateGame(ctx context.Context, playerID string, req CreateGameRequest) (*domain.GameSession, error) {
	settings, color, err := s.normalizeSettings(req.Settings)
	if err != nil {
		return nil, err
	}
	g := &domain.GameSession{
		ID:          uuid.NewString(),
		PlayerID:    playerID,
		PlayerColor: color,
		StartFEN:    req.FEN,
		Settings:    settings,
	}
	tr, err := s.machine.Start(ctx, g)
	if err != nil {
		return nil, err
	}
	var stats *domain.UserStats
	if tr.Finished {
		if stats, err = s.finishGame(ctx, g); err != nil {
			return nil, err
		}
	}
	if err := s.store.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.Info("chess session created",
		zap.String("game_id", g.ID),
		zap.String("player_id", playerID),
		zap.String("color", string(color)),
		zap.String("difficulty", settings.Difficulty),
		zap.Int("moves", len(g.Moves)),
	)
	s.events.Publish(Event{Type: EventCreated, Game: g.Clone(), BotMove: tr.BotMove})
	if tr.Finished {
		s.gameFinished(g, stats)
	}
	return g, nil
}

func (s *Service) normalizeSettings(in domain.GameSettings) (domain.GameSettings, domain.Color, error) {
	tc := in.TimeControl
	if tc.Initial < minInitialSeconds || tc.Initial > maxInitialSeconds {
		return in, "", fmt.Errorf("%w: initial time %d outside [%d,%d] seconds", ErrInvalidInput, tc.Initial, minInitialSeconds, maxInitialSeconds)
	}
	if tc.Increment < 0 || tc.Increment > maxIncrementSeconds {
		return in, "", fmt.Errorf("%w: increment %d outside [0,%d] seconds", ErrInvalidInput, tc.Increment, maxIncrementSeconds)
	}

	in.Difficulty = strings.ToLower(strings.TrimSpace(in.Difficulty))
	if _, err := corechess.ParseTier(in.Difficulty); err != nil {
		return in, "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	in.Color = strings.ToLower(strings.TrimSpace(in.Color))
	var color domain.Color
	switch in.Color {
	case string(domain.White), string(domain.Black):
		color = domain.Color(in.Color)
	case ColorRandom:
		color = domain.White
		if s.engine.Random().Intn(2) == 1 {
			color = domain.Black
		}
	default:
		return in, "", fmt.Errorf("%w: unknown color %q", ErrInvalidInput, in.Color)
	}
	return in, color, nil
}

// MoveOutcome is the result of one player move.
type MoveOutcome struct {
	Game       *domain.GameSession
	PlayerMove *domain.Move
	BotMove    *domain.Move
	BotChoice  *corechess.Choice
	Stats      *domain.UserStats
}

// PlayMove applies the player's move and, if the game continues, the bot's
// reply. On any error the stored session is unchanged.
func (s *Service) PlayMove(ctx context.Context, playerID, gameID string, req domain.MoveRequest) (*MoveOutcome, error) {
	req.From = strings.ToLower(strings.TrimSpace(req.From))
	req.To = strings.ToLower(strings.TrimSpace(req.To))
	req.Promotion = strings.ToLower(strings.TrimSpace(req.Promotion))
	if req.From == "" || req.To == "" {
		return nil, fmt.Errorf("%w: move requires from and to squares", ErrInvalidInput)
	}

	var (
		tr    Transition
		stats *domain.UserStats
	)
	g, err := s.store.Update(ctx, gameID, func(g *domain.GameSession) error {
		if g.PlayerID != playerID {
			return ErrSessionNotFound
		}
		var err error
		if tr, err = s.machine.ApplyPlayerMove(ctx, g, req); err != nil {
			return err
		}
		stats = nil
		if tr.Finished {
			stats, err = s.finishGame(ctx, g)
		}
		return err
	})
	if err != nil {
		return nil, sessionError(err)
	}

	out := &MoveOutcome{Game: g, PlayerMove: tr.PlayerMove, BotMove: tr.BotMove, BotChoice: tr.BotChoice, Stats: stats}
	fields := []zap.Field{
		zap.String("game_id", g.ID),
		zap.String("player_move", tr.PlayerMove.SAN),
		zap.String("status", string(g.Status)),
	}
	if tr.BotChoice != nil {
		fields = append(fields,
			zap.String("bot_move", tr.BotMove.SAN),
			zap.String("tier", string(tr.BotChoice.Tier)),
			zap.Int("depth", tr.BotChoice.Depth),
			zap.Bool("random", tr.BotChoice.Random),
			zap.Duration("bot_elapsed", tr.BotChoice.Duration),
		)
	}
	s.logger.Info("chess move applied", fields...)
	s.events.Publish(Event{Type: EventMove, Game: g.Clone(), BotMove: tr.BotMove})

	if tr.Finished {
		s.gameFinished(g, stats)
	}
	return out, nil
}

// Resign ends the player's active game as a loss.
func (s *Service) Resign(ctx context.Context, playerID, gameID string) (*domain.GameSession, error) {
	var stats *domain.UserStats
	g, err := s.store.Update(ctx, gameID, func(g *domain.GameSession) error {
		if g.PlayerID != playerID {
			return ErrSessionNotFound
		}
		if _, err := s.machine.Resign(g); err != nil {
			return err
		}
		var err error
		stats, err = s.finishGame(ctx, g)
		return err
	})
	if err != nil {
		return nil, sessionError(err)
	}
	s.gameFinished(g, stats)
	return g, nil
}

// sessionError makes an unknown session on a mutating call an InvalidSession
// while keeping ErrSessionNotFound matchable.
func sessionError(err error) error {
	if errors.Is(err, ErrSessionNotFound) && !errors.Is(err, ErrInvalidSession) {
		return fmt.Errorf("%w: %w", ErrInvalidSession, err)
	}
	return err
}

// finishGame archives a game that just became terminal and applies its
// rating in one repository call. It runs inside the session update, so on
// error the session stays active and the call can be retried. A game that is
// already archived has already been rated and yields nil stats.
func (s *Service) finishGame(ctx context.Context, g *domain.GameSession) (*domain.UserStats, error) {
	stats, err := s.repo.FinishGame(ctx, g, func(st *domain.UserStats) error {
		*st = s.rate(*st, g)
		if op, ok := corechess.NameOpening(g.StartFEN, g.UCIMoves()); ok {
			recordOpening(st, op.Title)
		}
		return nil
	})
	if errors.Is(err, ErrDuplicateGame) {
		s.logger.Warn("chess game already archived, skipping rating", zap.String("game_id", g.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finish game %s: %w", g.ID, err)
	}
	return &stats, nil
}

// gameFinished reports a committed terminal transition.
func (s *Service) gameFinished(g *domain.GameSession, stats *domain.UserStats) {
	outcome := ""
	if g.Result != nil {
		outcome = string(g.Result.Outcome)
	}
	fields := []zap.Field{
		zap.String("game_id", g.ID),
		zap.String("status", string(g.Status)),
		zap.String("outcome", outcome),
	}
	if stats != nil {
		fields = append(fields, zap.Int("rating", stats.Rating))
	}
	s.logger.Info("chess game finished", fields...)
	s.events.Publish(Event{Type: EventFinished, Game: g.Clone(), Stats: stats})
}

// Game returns a live session or, once it has expired, its archived copy.
func (s *Service) Game(ctx context.Context, playerID, gameID string) (*domain.GameSession, error) {
	g, err := s.store.Get(ctx, gameID)
	if errors.Is(err, ErrSessionNotFound) {
		g, err = s.repo.GetGame(ctx, gameID)
		if errors.Is(err, ErrGameNotFound) {
			return nil, ErrSessionNotFound
		}
	}
	if err != nil {
		return nil, err
	}
	if g.PlayerID != playerID {
		return nil, ErrSessionNotFound
	}
	return g, nil
}

// History lists the player's live and archived games, newest first.
func (s *Service) History(ctx context.Context, playerID string, limit int) ([]*domain.GameSession, error) {
	if limit <= 0 {
		limit = s.cfg.HistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	live, err := s.store.ListByPlayer(ctx, playerID)
	if err != nil {
		return nil, err
	}
	archived, err := s.repo.RecentGames(ctx, playerID, limit)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(live))
	out := make([]*domain.GameSession, 0, len(live)+len(archived))
	for _, g := range live {
		seen[g.ID] = struct{}{}
		out = append(out, g)
	}
	for _, g := range archived {
		if _, ok := seen[g.ID]; ok {
			continue
		}
		out = append(out, g)
	}
	sortSessions(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type AnalyzeRequest struct {
	FEN     string
	Depth   int
	Timeout time.Duration
}

// Analyze evaluates a position, stores the snapshot and counts it in the
// player's stats.
func (s *Service) Analyze(ctx context.Context, playerID string, req AnalyzeRequest) (domain.AnalysisResult, error) {
	if strings.TrimSpace(req.FEN) == "" {
		return domain.AnalysisResult{}, fmt.Errorf("%w: fen is required", ErrInvalidInput)
	}
	if req.Depth < 0 || req.Timeout < 0 {
		return domain.AnalysisResult{}, fmt.Errorf("%w: depth and timeout must not be negative", ErrInvalidInput)
	}
	res, err := s.engine.Analyze(ctx, corechess.AnalyzeRequest{FEN: req.FEN, Depth: req.Depth, Timeout: req.Timeout})
	if err != nil {
		if errors.Is(err, corechess.ErrInvalidPosition) {
			return domain.AnalysisResult{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return domain.AnalysisResult{}, err
	}
	s.recordAnalysis(ctx, playerID, res)
	return res, nil
}

func (s *Service) recordAnalysis(ctx context.Context, playerID string, res domain.AnalysisResult) {
	if err := s.repo.InsertAnalysis(ctx, playerID, res); err != nil {
		s.logger.Warn("store chess analysis", zap.String("analysis_id", res.ID), zap.Error(err))
	}
	if _, err := s.repo.UpdateStats(ctx, playerID, func(st *domain.UserStats) error {
		st.TotalAnalyses++
		return nil
	}); err != nil {
		s.logger.Warn("count chess analysis", zap.String("player_id", playerID), zap.Error(err))
	}
	s.logger.Info("chess analysis completed",
		zap.String("analysis_id", res.ID),
		zap.String("eval", res.Evaluation.Formatted()),
		zap.Int("depth", res.Depth),
		zap.Int("confidence", res.Confidence),
		zap.Bool("timed_out", res.TimedOut),
		zap.Duration("elapsed", res.Elapsed),
	)
}

type ImageAnalysis struct {
	Analysis    domain.AnalysisResult
	Recognition recognizer.Result
}

// AnalyzeImage recognizes a board image and analyzes the recognized position.
func (s *Service) AnalyzeImage(ctx context.Context, playerID string, image []byte, depth int) (*ImageAnalysis, error) {
	if s.recognizer == nil {
		return nil, ErrRecognizerUnavailable
	}
	rec, err := s.recognizer.Recognize(ctx, image)
	if err != nil {
		if errors.Is(err, recognizer.ErrEmptyImage) || errors.Is(err, recognizer.ErrImageTooBig) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("recognize image: %w", err)
	}
	res, err := s.Analyze(ctx, playerID, AnalyzeRequest{FEN: rec.Position.FEN, Depth: depth})
	if err != nil {
		return nil, err
	}
	return &ImageAnalysis{Analysis: res, Recognition: rec}, nil
}

func (s *Service) Stats(ctx context.Context, playerID string) (domain.UserStats, error) {
	return s.repo.GetStats(ctx, playerID)
}
