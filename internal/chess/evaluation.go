package chess

import (
	"fmt"
	"math/rand"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-coach/internal/domain"
)

// Weights are heuristic defaults, not tuned engine constants.
type Weights struct {
	CenterBonus       int `yaml:"center_bonus"`
	KingAttackPenalty int `yaml:"king_attack_penalty"`
	MobilityWeight    int `yaml:"mobility_weight"`
	// NoiseAmplitude applies to plain analysis. Difficulty tiers carry their own.
	NoiseAmplitude int `yaml:"noise_amplitude"`
}

func DefaultWeights() Weights {
	return Weights{
		CenterBonus:       20,
		KingAttackPenalty: 50,
		MobilityWeight:    2,
	}
}

func (w Weights) Validate() error {
	switch {
	case w.CenterBonus < 0:
		return fmt.Errorf("center bonus must be >= 0: %d", w.CenterBonus)
	case w.KingAttackPenalty < 0:
		return fmt.Errorf("king attack penalty must be >= 0: %d", w.KingAttackPenalty)
	case w.MobilityWeight < 0:
		return fmt.Errorf("mobility weight must be >= 0: %d", w.MobilityWeight)
	case w.NoiseAmplitude < 0:
		return fmt.Errorf("noise amplitude must be >= 0: %d", w.NoiseAmplitude)
	}
	return nil
}

var pieceValues = map[nchess.PieceType]int{
	nchess.Pawn:   100,
	nchess.Knight: 320,
	nchess.Bishop: 330,
	nchess.Rook:   500,
	nchess.Queen:  900,
	nchess.King:   0,
}

var centerSquares = []nchess.Square{
	nchess.NewSquare(nchess.FileD, nchess.Rank4),
	nchess.NewSquare(nchess.FileE, nchess.Rank4),
	nchess.NewSquare(nchess.FileD, nchess.Rank5),
	nchess.NewSquare(nchess.FileE, nchess.Rank5),
}

// Breakdown is the White-relative centipawn score split by term.
type Breakdown struct {
	Material   int
	Center     int
	KingSafety int
	Mobility   int
	Noise      int
}

func (b Breakdown) Total() int {
	return b.Material + b.Center + b.KingSafety + b.Mobility + b.Noise
}

// Perturbation adds bounded noise of ±Amplitude/Depth drawn from Rand.
// A nil Rand or zero amplitude disables it.
type Perturbation struct {
	Amplitude int
	Depth     int
	Rand      *rand.Rand
}

func (p Perturbation) draw() int {
	if p.Rand == nil || p.Amplitude <= 0 {
		return 0
	}
	depth := p.Depth
	if depth < 1 {
		depth = 1
	}
	amp := p.Amplitude / depth
	if amp <= 0 {
		return 0
	}
	return p.Rand.Intn(2*amp+1) - amp
}

// Evaluator scores positions. It holds no mutable state and is safe for
// concurrent use as long as each caller brings its own rand source.
type Evaluator struct {
	weights Weights
}

func NewEvaluator(w Weights) *Evaluator {
	return &Evaluator{weights: w}
}

func (e *Evaluator) Weights() Weights { return e.weights }

// Evaluate returns a mate evaluation for a checkmated position, 0 for any
// other terminal position and the summed heuristic otherwise.
func (e *Evaluator) Evaluate(pos domain.Position, noise Perturbation) (domain.Evaluation, error) {
	n, err := newNode(pos.FEN)
	if err != nil {
		return domain.Evaluation{}, err
	}
	return e.evaluate(n, noise), nil
}

// Explain returns the per-term breakdown without noise.
func (e *Evaluator) Explain(pos domain.Position) (Breakdown, error) {
	n, err := newNode(pos.FEN)
	if err != nil {
		return Breakdown{}, err
	}
	return e.breakdown(n, n.legal()), nil
}

func (e *Evaluator) evaluate(n *node, noise Perturbation) domain.Evaluation {
	own := n.legal()
	if len(own) == 0 || n.game.Outcome() != nchess.NoOutcome {
		st := n.status()
		if st.Checkmate {
			if st.Winner == domain.White {
				return domain.MateIn(1)
			}
			return domain.MateIn(-1)
		}
		if st.Terminal {
			return domain.Centipawns(0)
		}
	}
	b := e.breakdown(n, own)
	b.Noise = noise.draw()
	return domain.Centipawns(b.Total())
}

func (e *Evaluator) breakdown(n *node, own []*nchess.Move) Breakdown {
	board := n.game.Position().Board()
	b := Breakdown{
		Material: material(board),
		Center:   e.weights.CenterBonus * centerOccupancy(board),
	}

	var idle []*nchess.Move
	if flipped, err := n.flipped(); err == nil {
		idle = flipped.legal()
	}
	white, black := own, idle
	if n.turn() == domain.Black {
		white, black = idle, own
	}

	if sq, ok := kingSquare(board, nchess.White); ok {
		b.KingSafety -= e.weights.KingAttackPenalty * countTargeting(black, sq)
	}
	if sq, ok := kingSquare(board, nchess.Black); ok {
		b.KingSafety += e.weights.KingAttackPenalty * countTargeting(white, sq)
	}
	b.Mobility = e.weights.MobilityWeight * (len(white) - len(black))
	return b
}

func material(board *nchess.Board) int {
	total := 0
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			piece := board.Piece(nchess.NewSquare(file, rank))
			if piece == nchess.NoPiece {
				continue
			}
			total += signed(piece.Color(), pieceValues[piece.Type()])
		}
	}
	return total
}

// centerOccupancy is the White-minus-Black count of occupied central squares.
func centerOccupancy(board *nchess.Board) int {
	count := 0
	for _, sq := range centerSquares {
		piece := board.Piece(sq)
		if piece == nchess.NoPiece {
			continue
		}
		count += signed(piece.Color(), 1)
	}
	return count
}

func signed(c nchess.Color, v int) int {
	if c == nchess.Black {
		return -v
	}
	return v
}

// quick is the cheap ordering score used by the search: material and center only.
func (e *Evaluator) quick(n *node) int {
	board := n.game.Position().Board()
	return material(board) + e.weights.CenterBonus*centerOccupancy(board)
}
