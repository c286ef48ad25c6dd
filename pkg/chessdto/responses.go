package chessdto

import "time"

type Evaluation struct {
	Type      string `json:"type"`
	Value     int    `json:"value"`
	Formatted string `json:"formatted"`
}

type BestMove struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SAN       string `json:"san"`
	Promotion string `json:"promotion,omitempty"`
}

// Analysis.AnalysisTime is in milliseconds.
type Analysis struct {
	Position           string     `json:"position"`
	Evaluation         Evaluation `json:"evaluation"`
	BestMove           *BestMove  `json:"bestMove,omitempty"`
	PrincipalVariation []string   `json:"principalVariation"`
	Depth              int        `json:"depth"`
	Confidence         int        `json:"confidence"`
	AnalysisTime       int64      `json:"analysisTime"`
}

type Recognition struct {
	Confidence int    `json:"confidence"`
	Opening    string `json:"opening,omitempty"`
}

type AnalysisResponse struct {
	Success     bool         `json:"success"`
	Analysis    *Analysis    `json:"analysis,omitempty"`
	Recognition *Recognition `json:"recognition,omitempty"`
}

type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	SAN       string `json:"san"`
	UCI       string `json:"uci"`
	Promotion string `json:"promotion,omitempty"`
	FEN       string `json:"fen"`
}

type MoveEntry struct {
	Move
	Actor     string    `json:"actor"`
	Timestamp time.Time `json:"timestamp"`
}

type Result struct {
	Outcome string `json:"outcome"`
	Winner  string `json:"winner,omitempty"`
	Method  string `json:"method"`
}

type Game struct {
	ID          string       `json:"id"`
	PlayerColor string       `json:"playerColor"`
	FEN         string       `json:"fen"`
	Turn        string       `json:"turn"`
	StartFEN    string       `json:"startFen"`
	Moves       []MoveEntry  `json:"moves"`
	Status      string       `json:"status"`
	Settings    GameSettings `json:"settings"`
	StartedAt   time.Time    `json:"startedAt"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
	Result      *Result      `json:"result,omitempty"`
}

type OpeningCount struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalAnalyses    int            `json:"totalAnalyses"`
	TotalGames       int            `json:"totalGames"`
	Wins             int            `json:"wins"`
	Losses           int            `json:"losses"`
	Draws            int            `json:"draws"`
	Rating           int            `json:"rating"`
	FavoriteOpenings []OpeningCount `json:"favoriteOpenings"`
}

type GameResponse struct {
	Success bool   `json:"success"`
	Game    *Game  `json:"game,omitempty"`
	BotMove *Move  `json:"botMove,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`
}

type HistoryResponse struct {
	Success bool   `json:"success"`
	Games   []Game `json:"games"`
}

type StatsResponse struct {
	Success bool   `json:"success"`
	Stats   *Stats `json:"stats,omitempty"`
}

// GameEvent is one message on the live game feed.
type GameEvent struct {
	Type    string `json:"type"`
	GameID  string `json:"gameId"`
	Game    *Game  `json:"game,omitempty"`
	BotMove *Move  `json:"botMove,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`
}
