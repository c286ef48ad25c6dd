package chess

import (
	"context"
	"math/rand"
	"sort"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-coach/internal/domain"
)

const (
	mateScore     = 100000
	mateThreshold = mateScore - 1000
	infinity      = mateScore + 1

	defaultBranchCap = 5
	defaultMaxDepth  = 4
	maxPVLength      = 6
)

// SearchOptions configure one search call. Depth is clamped to the searcher's
// maximum. BranchCap limits how many children are expanded below the root:
// children are ordered by a cheap static score and only the first BranchCap
// are searched, so deep results are heuristic but cost stays predictable.
type SearchOptions struct {
	Depth          int
	BranchCap      int
	Noise          int
	RandomTieBreak bool
	Rand           *rand.Rand
}

// ScoredMove is a root move with its searched score from the mover's side.
type ScoredMove struct {
	Move       domain.Move
	Score      int
	Evaluation domain.Evaluation
}

type SearchResult struct {
	Best               domain.Move
	Evaluation         domain.Evaluation
	PrincipalVariation []string
	Ranked             []ScoredMove
	Requested          int
	Depth              int
	TimedOut           bool
	Nodes              int
}

// MateFound reports whether the best line leads to a forced mate.
func (r SearchResult) MateFound() bool { return r.Evaluation.IsMate() }

type Searcher struct {
	eval      *Evaluator
	maxDepth  int
	branchCap int
}

func NewSearcher(eval *Evaluator, maxDepth, branchCap int) *Searcher {
	if eval == nil {
		eval = NewEvaluator(DefaultWeights())
	}
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	if branchCap <= 0 {
		branchCap = defaultBranchCap
	}
	return &Searcher{eval: eval, maxDepth: maxDepth, branchCap: branchCap}
}

func (s *Searcher) MaxDepth() int { return s.maxDepth }

func (s *Searcher) clampDepth(depth int) int {
	if depth < 1 {
		return 1
	}
	if depth > s.maxDepth {
		return s.maxDepth
	}
	return depth
}

type rootChild struct {
	move  domain.Move
	child *node
}

type walker struct {
	ctx     context.Context
	eval    *Evaluator
	noise   Perturbation
	branch  int
	nodes   int
	aborted bool
}

// Search runs iterative deepening. Depth one always completes; a deeper
// iteration interrupted by ctx is discarded and the previous one is kept.
func (s *Searcher) Search(ctx context.Context, pos domain.Position, opts SearchOptions) (SearchResult, error) {
	root, err := newNode(pos.FEN)
	if err != nil {
		return SearchResult{}, err
	}
	legal := root.legal()
	if len(legal) == 0 {
		return SearchResult{}, ErrNoLegalMoves
	}

	children := make([]rootChild, 0, len(legal))
	for _, mv := range legal {
		child, err := root.play(mv)
		if err != nil {
			continue
		}
		children = append(children, rootChild{move: root.describe(mv), child: child})
	}
	if len(children) == 0 {
		return SearchResult{}, ErrNoLegalMoves
	}

	depth := s.clampDepth(opts.Depth)
	branchCap := opts.BranchCap
	if branchCap <= 0 {
		branchCap = s.branchCap
	}
	w := &walker{
		ctx:    ctx,
		eval:   s.eval,
		branch: branchCap,
		noise: Perturbation{
			Amplitude: opts.Noise,
			Depth:     depth,
			Rand:      opts.Rand,
		},
	}

	res := SearchResult{Requested: opts.Depth}
	var ranked []ScoredMove
	for d := 1; d <= depth; d++ {
		if d > 1 && ctx.Err() != nil {
			res.TimedOut = true
			break
		}
		scores := make([]ScoredMove, 0, len(children))
		for _, rc := range children {
			score := -w.negamax(rc.child, d-1, 1, -infinity, infinity, d > 1)
			if w.aborted {
				break
			}
			scores = append(scores, ScoredMove{Move: rc.move, Score: score})
		}
		if w.aborted {
			res.TimedOut = true
			break
		}
		ranked = scores
		res.Depth = d
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if opts.RandomTieBreak && opts.Rand != nil {
		tied := 1
		for tied < len(ranked) && ranked[tied].Score == ranked[0].Score {
			tied++
		}
		if tied > 1 {
			pick := opts.Rand.Intn(tied)
			ranked[0], ranked[pick] = ranked[pick], ranked[0]
		}
	}

	turn := root.turn()
	for i := range ranked {
		ranked[i].Evaluation = toEvaluation(ranked[i].Score, turn)
	}

	res.Ranked = ranked
	res.Best = ranked[0].Move
	res.Evaluation = ranked[0].Evaluation
	res.Nodes = w.nodes
	res.PrincipalVariation = s.principalVariation(ranked[0], children, opts.Depth)
	return res, nil
}

// negamax returns the score from the side to move at n. checkAbort is false
// for the first iteration so it always completes.
func (w *walker) negamax(n *node, depth, ply, alpha, beta int, checkAbort bool) int {
	w.nodes++
	if checkAbort && w.ctx.Err() != nil {
		w.aborted = true
		return 0
	}

	legal := n.legal()
	if len(legal) == 0 || n.game.Outcome() != nchess.NoOutcome {
		st := n.status()
		if st.Checkmate {
			return -(mateScore - ply)
		}
		if st.Terminal {
			return 0
		}
	}
	if depth == 0 {
		ev := w.eval.evaluate(n, w.noise)
		return relative(ev, n.turn(), ply)
	}

	kids := w.order(n, legal)
	if len(kids) == 0 {
		return relative(w.eval.evaluate(n, w.noise), n.turn(), ply)
	}
	best := -infinity
	for _, kid := range kids {
		score := -w.negamax(kid, depth-1, ply+1, -beta, -alpha, checkAbort)
		if w.aborted {
			return 0
		}
		if score > best {
			best = score
		}
		if score > alpha {
			alpha = score
		}
		if alpha >= beta {
			break
		}
	}
	return best
}

// order plays every legal move, sorts children by the quick score from the
// mover's side and keeps the first cap of them.
func (w *walker) order(n *node, legal []*nchess.Move) []*node {
	type scored struct {
		child *node
		score int
	}
	mover := n.turn()
	list := make([]scored, 0, len(legal))
	for _, mv := range legal {
		child, err := n.play(mv)
		if err != nil {
			continue
		}
		q := w.eval.quick(child)
		if mover == domain.Black {
			q = -q
		}
		list = append(list, scored{child: child, score: q})
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].score > list[j].score })
	if w.branch > 0 && len(list) > w.branch {
		list = list[:w.branch]
	}
	out := make([]*node, len(list))
	for i, s := range list {
		out[i] = s.child
	}
	return out
}

// principalVariation extends the chosen move greedily with one-ply replies.
func (s *Searcher) principalVariation(best ScoredMove, children []rootChild, requested int) []string {
	limit := requested
	if limit > maxPVLength {
		limit = maxPVLength
	}
	if limit < 1 {
		limit = 1
	}
	pv := []string{best.Move.SAN}
	var cur *node
	for _, rc := range children {
		if rc.move.UCI == best.Move.UCI {
			cur = rc.child
			break
		}
	}
	for cur != nil && len(pv) < limit {
		next, san := s.greedyReply(cur)
		if next == nil {
			break
		}
		pv = append(pv, san)
		cur = next
	}
	return pv
}

func (s *Searcher) greedyReply(n *node) (*node, string) {
	if n.status().Terminal {
		return nil, ""
	}
	legal := n.legal()
	if len(legal) == 0 {
		return nil, ""
	}
	mover := n.turn()
	var (
		bestNode  *node
		bestSAN   string
		bestScore = -infinity
	)
	for _, mv := range legal {
		child, err := n.play(mv)
		if err != nil {
			continue
		}
		score := -relative(s.eval.evaluate(child, Perturbation{}), mover.Opponent(), 1)
		if score > bestScore {
			bestScore = score
			bestNode = child
			bestSAN = n.san(mv)
		}
	}
	return bestNode, bestSAN
}

// relative converts a White-relative evaluation to the side to move's view,
// mapping mate distances onto the ply-adjusted mate scale.
func relative(ev domain.Evaluation, turn domain.Color, ply int) int {
	var score int
	if ev.IsMate() {
		score = mateScore - ply
		if ev.Value() < 0 {
			score = -score
		}
	} else {
		score = ev.Value()
	}
	if turn == domain.Black {
		return -score
	}
	return score
}

// toEvaluation converts a root score from mover's view into a White-relative
// evaluation. Mate distances are reported in full moves.
func toEvaluation(score int, mover domain.Color) domain.Evaluation {
	white := score
	if mover == domain.Black {
		white = -score
	}
	abs := score
	if abs < 0 {
		abs = -abs
	}
	if abs < mateThreshold {
		return domain.Centipawns(white)
	}
	moves := (mateScore - abs + 1) / 2
	if white < 0 {
		moves = -moves
	}
	return domain.MateIn(moves)
}
