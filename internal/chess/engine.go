package chess

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/cheese-coach/internal/domain"
)

const (
	confidenceFloor    = 70
	confidenceCeiling  = 98
	confidencePerDepth = 7
	timeoutPenalty     = 5
)

type Options struct {
	Weights Weights
	Limits  Limits
	// Seed fixes the engine's random stream. Zero seeds from the clock.
	Seed   int64
	Logger *zap.Logger
}

// Engine is the single entry point for both analysis and bot moves so the
// two paths share one evaluator and one search.
type Engine struct {
	rules  *Oracle
	eval   *Evaluator
	search *Searcher
	limits Limits
	logger *zap.Logger

	randMu sync.Mutex
	rand   *rand.Rand
}

func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	weights := opts.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	limits := opts.Limits.normalize()
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	eval := NewEvaluator(weights)
	return &Engine{
		rules:  NewOracle(),
		eval:   eval,
		search: NewSearcher(eval, limits.MaxDepth, defaultBranchCap),
		limits: limits,
		logger: logger,
		rand:   rand.New(rand.NewSource(seed)),
	}
}

func (e *Engine) Rules() *Oracle { return e.rules }

func (e *Engine) Evaluator() *Evaluator { return e.eval }

func (e *Engine) Limits() Limits { return e.limits }

// random hands out an independent generator per call so concurrent callers
// never share one.
func (e *Engine) random() *rand.Rand {
	e.randMu.Lock()
	seed := e.rand.Int63()
	e.randMu.Unlock()
	return rand.New(rand.NewSource(seed))
}

func (e *Engine) SetRandomSeed(seed int64) {
	e.randMu.Lock()
	e.rand = rand.New(rand.NewSource(seed))
	e.randMu.Unlock()
}

// Random exposes a derived generator for collaborators such as color choice.
func (e *Engine) Random() *rand.Rand { return e.random() }

type AnalyzeRequest struct {
	FEN     string
	Depth   int
	Timeout time.Duration
}

// Analyze evaluates a position and proposes the best move. A timed-out
// search still returns the deepest completed result.
func (e *Engine) Analyze(ctx context.Context, req AnalyzeRequest) (domain.AnalysisResult, error) {
	start := time.Now()
	pos, err := e.rules.Parse(req.FEN)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	st, err := e.rules.Status(pos)
	if err != nil {
		return domain.AnalysisResult{}, err
	}

	result := domain.AnalysisResult{
		ID:                 uuid.NewString(),
		Position:           pos,
		PrincipalVariation: []string{},
		CreatedAt:          start,
	}

	if st.Terminal {
		ev, err := e.eval.Evaluate(pos, Perturbation{})
		if err != nil {
			return domain.AnalysisResult{}, err
		}
		result.Evaluation = ev
		result.Confidence = confidenceCeiling
		result.Elapsed = time.Since(start)
		return result, nil
	}

	depth := e.limits.Depth(req.Depth)
	searchCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout(req.Timeout))
	defer cancel()

	res, err := e.search.Search(searchCtx, pos, SearchOptions{
		Depth: depth,
		Noise: e.eval.weights.NoiseAmplitude,
		Rand:  e.random(),
	})
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	if res.TimedOut {
		e.logger.Info("analysis search timed out",
			zap.Int("requested_depth", depth),
			zap.Int("completed_depth", res.Depth),
		)
	}

	best := res.Best
	result.Evaluation = res.Evaluation
	result.BestMove = &best
	result.PrincipalVariation = res.PrincipalVariation
	result.Depth = res.Depth
	result.Confidence = Confidence(res)
	result.TimedOut = res.TimedOut
	result.Elapsed = time.Since(start)

	e.logger.Debug("analysis completed",
		zap.String("fen", pos.FEN),
		zap.String("best", best.SAN),
		zap.String("eval", res.Evaluation.Formatted()),
		zap.Int("depth", res.Depth),
		zap.Int("nodes", res.Nodes),
		zap.Duration("elapsed", result.Elapsed),
	)
	return result, nil
}

// Confidence grows with completed depth, is maximal for a found mate and
// drops slightly when the search ran out of time.
func Confidence(res SearchResult) int {
	if res.MateFound() {
		return confidenceCeiling
	}
	c := confidenceFloor + confidencePerDepth*res.Depth
	if c > confidenceCeiling {
		c = confidenceCeiling
	}
	if res.TimedOut {
		c -= timeoutPenalty
	}
	if c < confidenceFloor {
		c = confidenceFloor
	}
	return c
}

// Choice is a bot move together with how it was picked.
type Choice struct {
	Move       domain.Move
	Tier       Tier
	Evaluation domain.Evaluation
	Depth      int
	Rank       int
	Random     bool
	TimedOut   bool
	Duration   time.Duration
}

// ChooseMove picks the tier's move for pos. The returned move is always
// confirmed against the legal move list.
func (e *Engine) ChooseMove(ctx context.Context, pos domain.Position, tierName string) (Choice, error) {
	start := time.Now()
	preset, err := GetPreset(tierName)
	if err != nil {
		return Choice{}, err
	}
	budget, err := MoveBudget(preset)
	if err != nil {
		return Choice{}, err
	}
	searchCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	r := e.random()
	opts := preset.searchOptions()
	opts.Rand = r
	res, err := e.search.Search(searchCtx, pos, opts)
	if err != nil {
		return Choice{}, err
	}

	sel, err := SelectCandidate(preset, res.Ranked, r)
	if err != nil {
		return Choice{}, err
	}
	move, err := e.confirm(pos, sel.Candidate.Move)
	if err != nil {
		e.logger.Warn("selected move failed legality check, using search best",
			zap.String("move", sel.Candidate.Move.UCI),
			zap.Error(err),
		)
		move, err = e.confirm(pos, res.Best)
		if err != nil {
			return Choice{}, fmt.Errorf("confirm best move: %w", err)
		}
		sel = Selection{Candidate: res.Ranked[0]}
	}

	choice := Choice{
		Move:       move,
		Tier:       preset.Name,
		Evaluation: sel.Candidate.Evaluation,
		Depth:      res.Depth,
		Rank:       sel.Rank,
		Random:     sel.Random,
		TimedOut:   res.TimedOut,
		Duration:   time.Since(start),
	}
	e.logger.Debug("bot move chosen",
		zap.String("tier", string(choice.Tier)),
		zap.String("move", move.SAN),
		zap.Int("depth", choice.Depth),
		zap.Int("rank", choice.Rank),
		zap.Bool("random", choice.Random),
		zap.Bool("timed_out", choice.TimedOut),
		zap.Duration("elapsed", choice.Duration),
	)
	return choice, nil
}

func (e *Engine) confirm(pos domain.Position, mv domain.Move) (domain.Move, error) {
	if mv.UCI == "" {
		return domain.Move{}, errors.New("empty move")
	}
	return e.rules.Validate(pos, domain.MoveRequest{From: mv.From, To: mv.To, Promotion: mv.Promotion})
}
