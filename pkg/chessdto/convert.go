package chessdto

import (
	"github.com/park285/cheese-coach/internal/domain"
)

func FromEvaluation(e domain.Evaluation) Evaluation {
	return Evaluation{Type: string(e.Kind()), Value: e.Value(), Formatted: e.Formatted()}
}

func FromAnalysis(a domain.AnalysisResult) *Analysis {
	out := &Analysis{
		Position:           a.Position.FEN,
		Evaluation:         FromEvaluation(a.Evaluation),
		PrincipalVariation: append([]string{}, a.PrincipalVariation...),
		Depth:              a.Depth,
		Confidence:         a.Confidence,
		AnalysisTime:       a.Elapsed.Milliseconds(),
	}
	if a.BestMove != nil {
		out.BestMove = &BestMove{
			From:      a.BestMove.From,
			To:        a.BestMove.To,
			SAN:       a.BestMove.SAN,
			Promotion: a.BestMove.Promotion,
		}
	}
	return out
}

func FromMove(m *domain.Move) *Move {
	if m == nil {
		return nil
	}
	return &Move{
		From:      m.From,
		To:        m.To,
		SAN:       m.SAN,
		UCI:       m.UCI,
		Promotion: m.Promotion,
		FEN:       m.Result.FEN,
	}
}

func FromGame(g *domain.GameSession) *Game {
	if g == nil {
		return nil
	}
	out := &Game{
		ID:          g.ID,
		PlayerColor: string(g.PlayerColor),
		FEN:         g.Position.FEN,
		Turn:        string(g.Position.Turn),
		StartFEN:    g.StartFEN,
		Moves:       make([]MoveEntry, 0, len(g.Moves)),
		Status:      string(g.Status),
		Settings: GameSettings{
			TimeControl: TimeControl{
				Initial:   g.Settings.TimeControl.Initial,
				Increment: g.Settings.TimeControl.Increment,
			},
			Difficulty: g.Settings.Difficulty,
			Color:      g.Settings.Color,
		},
		StartedAt: g.StartedAt,
		EndedAt:   g.EndedAt,
	}
	for i := range g.Moves {
		e := g.Moves[i]
		out.Moves = append(out.Moves, MoveEntry{
			Move:      *FromMove(&e.Move),
			Actor:     string(e.Actor),
			Timestamp: e.Timestamp,
		})
	}
	if g.Result != nil {
		out.Result = &Result{
			Outcome: string(g.Result.Outcome),
			Winner:  string(g.Result.Winner),
			Method:  g.Result.Method,
		}
	}
	return out
}

func FromStats(s domain.UserStats) *Stats {
	out := &Stats{
		TotalAnalyses:    s.TotalAnalyses,
		TotalGames:       s.TotalGames,
		Wins:             s.Wins,
		Losses:           s.Losses,
		Draws:            s.Draws,
		Rating:           s.Rating,
		FavoriteOpenings: make([]OpeningCount, 0, len(s.FavoriteOpenings)),
	}
	for _, o := range s.FavoriteOpenings {
		out.FavoriteOpenings = append(out.FavoriteOpenings, OpeningCount{Name: o.Name, Count: o.Count})
	}
	return out
}

// ToSettings maps wire settings onto the domain type.
func (s GameSettings) ToSettings() domain.GameSettings {
	return domain.GameSettings{
		TimeControl: domain.TimeControl{Initial: s.TimeControl.Initial, Increment: s.TimeControl.Increment},
		Difficulty:  s.Difficulty,
		Color:       s.Color,
	}
}

func (m MoveInput) ToRequest() domain.MoveRequest {
	return domain.MoveRequest{From: m.From, To: m.To, Promotion: m.Promotion}
}
