package chess

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/cheese-coach/internal/domain"
)

// StartFEN is the standard initial position. "startpos" is accepted as an alias.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

var (
	ErrInvalidPosition = errors.New("invalid position")
	ErrIllegalMove     = errors.New("illegal move")
	ErrNoLegalMoves    = errors.New("no legal moves")
)

// Status describes whether a position (or a game leading to it) has ended.
type Status struct {
	Terminal  bool
	Checkmate bool
	Stalemate bool
	Draw      bool
	// Winner is set only for checkmate.
	Winner domain.Color
	Method string
}

// Rules is the legality oracle the engine and the game service consume.
type Rules interface {
	Parse(fen string) (domain.Position, error)
	LegalMoves(pos domain.Position) ([]domain.Move, error)
	Validate(pos domain.Position, req domain.MoveRequest) (domain.Move, error)
	Status(pos domain.Position) (Status, error)
	Replay(startFEN string, moves []string) (domain.Position, Status, error)
}

// Oracle implements Rules on top of corentings/chess.
type Oracle struct{}

func NewOracle() *Oracle { return &Oracle{} }

var _ Rules = (*Oracle)(nil)

func normalizeFEN(fen string) string {
	fen = strings.TrimSpace(fen)
	if fen == "" || strings.EqualFold(fen, "startpos") {
		return StartFEN
	}
	return strings.Join(strings.Fields(fen), " ")
}

func (o *Oracle) Parse(fen string) (domain.Position, error) {
	n, err := newNode(fen)
	if err != nil {
		return domain.Position{}, err
	}
	return n.position(), nil
}

func (o *Oracle) LegalMoves(pos domain.Position) ([]domain.Move, error) {
	n, err := newNode(pos.FEN)
	if err != nil {
		return nil, err
	}
	legal := n.legal()
	out := make([]domain.Move, 0, len(legal))
	for _, mv := range legal {
		out = append(out, n.describe(mv))
	}
	return out, nil
}

// Validate resolves a requested move against the legal list. A pawn reaching
// the last rank without an explicit promotion piece promotes to a queen.
func (o *Oracle) Validate(pos domain.Position, req domain.MoveRequest) (domain.Move, error) {
	n, err := newNode(pos.FEN)
	if err != nil {
		return domain.Move{}, err
	}
	from := strings.ToLower(strings.TrimSpace(req.From))
	to := strings.ToLower(strings.TrimSpace(req.To))
	promo := strings.ToLower(strings.TrimSpace(req.Promotion))
	if len(from) != 2 || len(to) != 2 || len(promo) > 1 {
		return domain.Move{}, fmt.Errorf("%w: %s%s%s", ErrIllegalMove, from, to, promo)
	}

	want := from + to + promo
	var fallback *nchess.Move
	for _, mv := range n.legal() {
		uci := mv.String()
		if uci == want {
			return n.describe(mv), nil
		}
		if promo == "" && uci == want+"q" {
			fallback = mv
		}
	}
	if fallback != nil {
		return n.describe(fallback), nil
	}
	return domain.Move{}, fmt.Errorf("%w: %s", ErrIllegalMove, want)
}

func (o *Oracle) Status(pos domain.Position) (Status, error) {
	n, err := newNode(pos.FEN)
	if err != nil {
		return Status{}, err
	}
	return n.status(), nil
}

// Replay applies UCI moves from startFEN and reports the final status.
// Threefold repetition and the fifty-move rule count as claimed draws.
func (o *Oracle) Replay(startFEN string, moves []string) (domain.Position, Status, error) {
	n, err := newNode(startFEN)
	if err != nil {
		return domain.Position{}, Status{}, err
	}
	seen := map[string]int{repetitionKey(n.fen()): 1}
	for _, raw := range moves {
		uci := strings.ToLower(strings.TrimSpace(raw))
		mv, err := nchess.UCINotation{}.Decode(n.game.Position(), uci)
		if err != nil {
			return domain.Position{}, Status{}, fmt.Errorf("decode move %s: %w", raw, err)
		}
		child, err := n.play(mv)
		if err != nil {
			return domain.Position{}, Status{}, fmt.Errorf("apply move %s: %w", raw, err)
		}
		n = child
		seen[repetitionKey(n.fen())]++
	}

	st := n.status()
	if !st.Terminal {
		switch {
		case seen[repetitionKey(n.fen())] >= 3:
			st = Status{Terminal: true, Draw: true, Method: "threefoldrepetition"}
		case halfMoveClock(n.fen()) >= 100:
			st = Status{Terminal: true, Draw: true, Method: "fiftymoverule"}
		}
	}
	return n.position(), st, nil
}

// node is a parsed position used by the oracle, the evaluator and the search.
type node struct {
	game *nchess.Game
}

func newNode(fen string) (*node, error) {
	opt, err := nchess.FEN(normalizeFEN(fen))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPosition, err)
	}
	return &node{game: nchess.NewGame(opt)}, nil
}

func (n *node) fen() string { return n.game.FEN() }

func (n *node) turn() domain.Color { return colorOf(n.game.Position().Turn()) }

func (n *node) position() domain.Position {
	return domain.Position{FEN: n.fen(), Turn: n.turn()}
}

// legal lists the legal moves in the library's enumeration order.
func (n *node) legal() []*nchess.Move {
	pos := n.game.Position()
	valid := n.game.ValidMoves()
	out := make([]*nchess.Move, 0, len(valid))
	for i := range valid {
		mv, err := nchess.UCINotation{}.Decode(pos, valid[i].String())
		if err != nil {
			continue
		}
		out = append(out, mv)
	}
	return out
}

func (n *node) play(mv *nchess.Move) (*node, error) {
	child := n.game.Clone()
	if err := child.Move(mv, nil); err != nil {
		return nil, err
	}
	return &node{game: child}, nil
}

func (n *node) san(mv *nchess.Move) string {
	return nchess.AlgebraicNotation{}.Encode(n.game.Position(), mv)
}

// describe builds the domain move. mv must come from n.legal().
func (n *node) describe(mv *nchess.Move) domain.Move {
	uci := strings.ToLower(mv.String())
	out := domain.Move{
		From: uci[0:2],
		To:   uci[2:4],
		SAN:  n.san(mv),
		UCI:  uci,
	}
	if len(uci) > 4 {
		out.Promotion = uci[4:]
	}
	if child, err := n.play(mv); err == nil {
		out.Result = child.position()
	}
	return out
}

func (n *node) status() Status {
	if n.game.Outcome() == nchess.NoOutcome {
		// positions loaded from FEN may not carry an outcome yet
		if len(n.game.ValidMoves()) > 0 {
			return Status{}
		}
		if n.inCheck() {
			return Status{Terminal: true, Checkmate: true, Winner: n.turn().Opponent(), Method: "checkmate"}
		}
		return Status{Terminal: true, Stalemate: true, Method: "stalemate"}
	}
	method := n.game.Method()
	st := Status{Terminal: true, Method: strings.ToLower(method.String())}
	switch {
	case method == nchess.Checkmate:
		st.Checkmate = true
		st.Winner = n.turn().Opponent()
	case method == nchess.Stalemate:
		st.Stalemate = true
	default:
		st.Draw = true
	}
	return st
}

// flipped returns the same placement with the other side to move and no
// en-passant target. It is used to count the idle side's moves.
func (n *node) flipped() (*node, error) {
	fields := strings.Fields(n.fen())
	if len(fields) < 4 {
		return nil, ErrInvalidPosition
	}
	if fields[1] == "w" {
		fields[1] = "b"
	} else {
		fields[1] = "w"
	}
	fields[3] = "-"
	return newNode(strings.Join(fields, " "))
}

func (n *node) inCheck() bool {
	king, ok := kingSquare(n.game.Position().Board(), n.game.Position().Turn())
	if !ok {
		return false
	}
	idle, err := n.flipped()
	if err != nil {
		return false
	}
	return countTargeting(idle.legal(), king) > 0
}

func kingSquare(board *nchess.Board, color nchess.Color) (nchess.Square, bool) {
	for file := nchess.FileA; file <= nchess.FileH; file++ {
		for rank := nchess.Rank1; rank <= nchess.Rank8; rank++ {
			sq := nchess.NewSquare(file, rank)
			piece := board.Piece(sq)
			if piece.Type() == nchess.King && piece.Color() == color {
				return sq, true
			}
		}
	}
	return 0, false
}

func countTargeting(moves []*nchess.Move, sq nchess.Square) int {
	count := 0
	for _, mv := range moves {
		if mv.S2() == sq {
			count++
		}
	}
	return count
}

func colorOf(c nchess.Color) domain.Color {
	if c == nchess.Black {
		return domain.Black
	}
	return domain.White
}

func repetitionKey(fen string) string {
	fields := strings.Fields(fen)
	if len(fields) < 4 {
		return fen
	}
	return strings.Join(fields[:4], " ")
}

func halfMoveClock(fen string) int {
	fields := strings.Fields(fen)
	if len(fields) < 5 {
		return 0
	}
	clock, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0
	}
	return clock
}
