package chessdto

// AnalyzePositionRequest is the body of POST analysis/position. Timeout is in
// milliseconds; zero values select the server defaults.
type AnalyzePositionRequest struct {
	FEN     string `json:"fen"`
	Depth   int    `json:"depth,omitempty"`
	Timeout int    `json:"timeout,omitempty"`
}

type TimeControl struct {
	Initial   int `json:"initial"`
	Increment int `json:"increment"`
}

type GameSettings struct {
	TimeControl TimeControl `json:"timeControl"`
	Difficulty  string      `json:"difficulty"`
	Color       string      `json:"color"`
}

type CreateGameRequest struct {
	Settings GameSettings `json:"settings"`
	// FEN starts the game from a custom position.
	FEN string `json:"fen,omitempty"`
}

type MoveInput struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

type MoveRequest struct {
	GameID string    `json:"gameId"`
	Move   MoveInput `json:"move"`
}
