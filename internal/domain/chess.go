package domain

import (
	"fmt"
	"time"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

func (c Color) Valid() bool { return c == White || c == Black }

// Position is an immutable FEN snapshot. Every move yields a new Position.
type Position struct {
	FEN  string `json:"fen"`
	Turn Color  `json:"turn"`
}

// Move is produced by the rules oracle or the search, never built by hand.
type Move struct {
	From      string   `json:"from"`
	To        string   `json:"to"`
	Promotion string   `json:"promotion,omitempty"`
	SAN       string   `json:"san"`
	UCI       string   `json:"uci"`
	Result    Position `json:"result"`
}

// MoveRequest is a caller-supplied move candidate before validation.
type MoveRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

func (r MoveRequest) UCI() string { return r.From + r.To + r.Promotion }

type EvalKind string

const (
	EvalCentipawns EvalKind = "cp"
	EvalMate       EvalKind = "mate"
)

// Evaluation holds either a centipawn score or a mate distance, never both.
// Values are White-relative: positive favours White.
type Evaluation struct {
	kind  EvalKind
	value int
}

func Centipawns(cp int) Evaluation { return Evaluation{kind: EvalCentipawns, value: cp} }

// MateIn builds a mate evaluation. moves is signed: positive when White mates.
// A zero distance is normalised to one move.
func MateIn(moves int) Evaluation {
	if moves == 0 {
		moves = 1
	}
	return Evaluation{kind: EvalMate, value: moves}
}

func (e Evaluation) Kind() EvalKind {
	if e.kind == "" {
		return EvalCentipawns
	}
	return e.kind
}

func (e Evaluation) IsMate() bool { return e.kind == EvalMate }

// Value is the centipawn score or the signed mate distance depending on Kind.
func (e Evaluation) Value() int { return e.value }

// Formatted renders "+0.35", "-1.20", "0.00", "M3" or "M-2".
func (e Evaluation) Formatted() string {
	if e.IsMate() {
		return fmt.Sprintf("M%d", e.value)
	}
	cp := e.value
	sign := ""
	switch {
	case cp > 0:
		sign = "+"
	case cp < 0:
		sign = "-"
		cp = -cp
	}
	return fmt.Sprintf("%s%d.%02d", sign, cp/100, cp%100)
}

func (e Evaluation) String() string { return e.Formatted() }

// AnalysisResult is stored once and never recomputed in place.
type AnalysisResult struct {
	ID                 string        `json:"id"`
	Position           Position      `json:"position"`
	Evaluation         Evaluation    `json:"-"`
	BestMove           *Move         `json:"bestMove,omitempty"`
	PrincipalVariation []string      `json:"principalVariation"`
	Depth              int           `json:"depth"`
	Confidence         int           `json:"confidence"`
	Elapsed            time.Duration `json:"analysisTime"`
	TimedOut           bool          `json:"-"`
	CreatedAt          time.Time     `json:"createdAt"`
}

type GameStatus string

const (
	StatusActive      GameStatus = "active"
	StatusCheckmate   GameStatus = "checkmate"
	StatusStalemate   GameStatus = "stalemate"
	StatusDraw        GameStatus = "draw"
	StatusResignation GameStatus = "resignation"
)

func (s GameStatus) Terminal() bool { return s != StatusActive && s != "" }

type Actor string

const (
	ActorPlayer Actor = "player"
	ActorBot    Actor = "bot"
)

type MoveEntry struct {
	Move      Move      `json:"move"`
	Actor     Actor     `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

type TimeControl struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
}

// GameSettings keeps the caller's choices; Color may be "random" as requested.
type GameSettings struct {
	TimeControl TimeControl `json:"timeControl"`
	Difficulty  string      `json:"difficulty"`
	Color       string      `json:"color"`
}

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
	OutcomeDraw Outcome = "draw"
)

// GameResult is recorded from the player's point of view.
type GameResult struct {
	Outcome Outcome `json:"outcome"`
	Winner  Color   `json:"winner,omitempty"`
	Method  string  `json:"method"`
}

type GameSession struct {
	ID          string       `json:"id"`
	PlayerID    string       `json:"playerId"`
	PlayerColor Color        `json:"playerColor"`
	StartFEN    string       `json:"startFen"`
	Position    Position     `json:"position"`
	Moves       []MoveEntry  `json:"moves"`
	Status      GameStatus   `json:"status"`
	Settings    GameSettings `json:"settings"`
	StartedAt   time.Time    `json:"startedAt"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
	Result      *GameResult  `json:"result,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy so a mutation never aliases the stored session.
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	dup := *g
	dup.Moves = append([]MoveEntry(nil), g.Moves...)
	if g.EndedAt != nil {
		t := *g.EndedAt
		dup.EndedAt = &t
	}
	if g.Result != nil {
		r := *g.Result
		dup.Result = &r
	}
	return &dup
}

// UCIMoves returns the move log in UCI notation, oldest first.
func (g *GameSession) UCIMoves() []string {
	out := make([]string, len(g.Moves))
	for i, e := range g.Moves {
		out[i] = e.Move.UCI
	}
	return out
}

func (g *GameSession) BotColor() Color { return g.PlayerColor.Opponent() }

const (
	MinRating     = 800
	MaxRating     = 2400
	InitialRating = 1200
)

type OpeningCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type UserStats struct {
	PlayerID         string         `json:"playerId"`
	TotalAnalyses    int            `json:"totalAnalyses"`
	TotalGames       int            `json:"totalGames"`
	Wins             int            `json:"wins"`
	Losses           int            `json:"losses"`
	Draws            int            `json:"draws"`
	Rating           int            `json:"rating"`
	FavoriteOpenings []OpeningCount `json:"favoriteOpenings"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

func NewUserStats(playerID string) UserStats {
	return UserStats{PlayerID: playerID, Rating: InitialRating}
}
