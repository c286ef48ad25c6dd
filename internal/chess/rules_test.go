package chess

import (
	"errors"
	"testing"

	"github.com/park285/cheese-coach/internal/domain"
)

const (
	foolsMateFEN  = "rnb1kbnr/pppp1ppp/8/4p3/6Pq/5P2/PPPPP2P/RNBQKBNR w KQkq - 1 3"
	stalemateFEN  = "7k/5Q2/6K1/8/8/8/8/8 b - - 0 1"
	backRankFEN   = "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1"
	pinnedFEN     = "4k3/4r3/8/8/8/8/4B3/4K3 w - - 0 1"
	promotionFEN  = "8/P6k/8/8/8/8/8/K7 w - - 0 1"
	afterE4FEN    = "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b KQkq - 0 1"
	startPosAlias = "startpos"
)

func mustParse(t *testing.T, o *Oracle, fen string) domain.Position {
	t.Helper()
	pos, err := o.Parse(fen)
	if err != nil {
		t.Fatalf("Parse(%q): %v", fen, err)
	}
	return pos
}

func TestParseStartposAlias(t *testing.T) {
	o := NewOracle()
	pos := mustParse(t, o, startPosAlias)
	if pos.Turn != domain.White {
		t.Fatalf("turn = %s, want white", pos.Turn)
	}
	if pos.FEN == "" {
		t.Fatalf("expected FEN to be populated")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	o := NewOracle()
	for _, fen := range []string{"not a fen", "rnbqkbnr/pppppppp/8/8 w"} {
		if _, err := o.Parse(fen); !errors.Is(err, ErrInvalidPosition) {
			t.Fatalf("Parse(%q) err = %v, want ErrInvalidPosition", fen, err)
		}
	}
}

func TestLegalMovesFromStart(t *testing.T) {
	o := NewOracle()
	pos := mustParse(t, o, StartFEN)
	moves, err := o.LegalMoves(pos)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	if len(moves) != 20 {
		t.Fatalf("expected 20 legal moves, got %d", len(moves))
	}
	for _, mv := range moves {
		if mv.SAN == "" || len(mv.UCI) < 4 {
			t.Fatalf("move missing notation: %+v", mv)
		}
		if mv.Result.Turn != domain.Black {
			t.Fatalf("resulting position should have black to move: %+v", mv.Result)
		}
	}
}

func TestLegalMoveCountIsStable(t *testing.T) {
	o := NewOracle()
	pos := mustParse(t, o, StartFEN)
	mv, err := o.Validate(pos, domain.MoveRequest{From: "g1", To: "f3"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	first, err := o.LegalMoves(mv.Result)
	if err != nil {
		t.Fatalf("LegalMoves: %v", err)
	}
	for i := 0; i < 3; i++ {
		again, err := o.LegalMoves(mv.Result)
		if err != nil {
			t.Fatalf("LegalMoves: %v", err)
		}
		if len(again) != len(first) {
			t.Fatalf("legal move count changed: %d then %d", len(first), len(again))
		}
	}
}

func TestValidate(t *testing.T) {
	o := NewOracle()
	start := mustParse(t, o, StartFEN)

	mv, err := o.Validate(start, domain.MoveRequest{From: "e2", To: "e4"})
	if err != nil {
		t.Fatalf("Validate e2e4: %v", err)
	}
	if mv.SAN != "e4" || mv.UCI != "e2e4" {
		t.Fatalf("unexpected move: %+v", mv)
	}
	if mv.Result.Turn != domain.Black {
		t.Fatalf("expected black to move after e4")
	}

	cases := []struct {
		name string
		fen  string
		req  domain.MoveRequest
	}{
		{"empty origin", StartFEN, domain.MoveRequest{From: "e3", To: "e4"}},
		{"too far", StartFEN, domain.MoveRequest{From: "e2", To: "e5"}},
		{"opponent piece", StartFEN, domain.MoveRequest{From: "e7", To: "e5"}},
		{"malformed", StartFEN, domain.MoveRequest{From: "e", To: "e4"}},
		{"self check", pinnedFEN, domain.MoveRequest{From: "e2", To: "d3"}},
	}
	for _, tc := range cases {
		pos := mustParse(t, o, tc.fen)
		if _, err := o.Validate(pos, tc.req); !errors.Is(err, ErrIllegalMove) {
			t.Fatalf("%s: err = %v, want ErrIllegalMove", tc.name, err)
		}
	}
}

func TestValidateDefaultsPromotionToQueen(t *testing.T) {
	o := NewOracle()
	pos := mustParse(t, o, promotionFEN)
	mv, err := o.Validate(pos, domain.MoveRequest{From: "a7", To: "a8"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if mv.Promotion != "q" || mv.UCI != "a7a8q" {
		t.Fatalf("expected queen promotion, got %+v", mv)
	}

	under, err := o.Validate(pos, domain.MoveRequest{From: "a7", To: "a8", Promotion: "n"})
	if err != nil {
		t.Fatalf("Validate underpromotion: %v", err)
	}
	if under.Promotion != "n" {
		t.Fatalf("expected knight promotion, got %+v", under)
	}
}

func TestStatus(t *testing.T) {
	o := NewOracle()

	st, err := o.Status(mustParse(t, o, foolsMateFEN))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Terminal || !st.Checkmate || st.Winner != domain.Black {
		t.Fatalf("expected black checkmate, got %+v", st)
	}

	st, err = o.Status(mustParse(t, o, stalemateFEN))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !st.Terminal || !st.Stalemate || st.Checkmate {
		t.Fatalf("expected stalemate, got %+v", st)
	}

	st, err = o.Status(mustParse(t, o, StartFEN))
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Terminal {
		t.Fatalf("start position should not be terminal: %+v", st)
	}
}

func TestReplayDetectsMateAndRepetition(t *testing.T) {
	o := NewOracle()

	pos, st, err := o.Replay(StartFEN, []string{"f2f3", "e7e5", "g2g4", "d8h4"})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !st.Checkmate || st.Winner != domain.Black {
		t.Fatalf("expected fool's mate, got %+v", st)
	}
	if pos.Turn != domain.White {
		t.Fatalf("mated side should be to move")
	}

	shuffle := []string{"g1f3", "g8f6", "f3g1", "f6g8", "g1f3", "g8f6", "f3g1", "f6g8"}
	_, st, err = o.Replay(StartFEN, shuffle)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !st.Terminal || !st.Draw {
		t.Fatalf("expected repetition draw, got %+v", st)
	}

	_, st, err = o.Replay(StartFEN, shuffle[:4])
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if st.Terminal {
		t.Fatalf("two occurrences must not end the game: %+v", st)
	}
}

func TestReplayRejectsIllegalMove(t *testing.T) {
	o := NewOracle()
	if _, _, err := o.Replay(StartFEN, []string{"e2e5"}); err == nil {
		t.Fatalf("expected error for illegal move")
	}
}
