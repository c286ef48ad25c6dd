package chess

import (
	"sort"

	"github.com/park285/cheese-coach/internal/domain"
)

const (
	winDelta  = 20
	drawDelta = 5
	lossDelta = -15

	favoriteOpeningsLimit = 5
)

// RatingUpdater folds one finished game into the player's stats.
type RatingUpdater func(stats domain.UserStats, game *domain.GameSession) domain.UserStats

// RatingDelta is the raw change for an outcome before clamping.
func RatingDelta(outcome domain.Outcome) int {
	switch outcome {
	case domain.OutcomeWin:
		return winDelta
	case domain.OutcomeDraw:
		return drawDelta
	case domain.OutcomeLoss:
		return lossDelta
	}
	return 0
}

func clampRating(r int) int {
	if r < domain.MinRating {
		return domain.MinRating
	}
	if r > domain.MaxRating {
		return domain.MaxRating
	}
	return r
}

// ApplyRating counts the game and moves the rating by the stored result.
// Games without a result leave stats untouched.
func ApplyRating(stats domain.UserStats, game *domain.GameSession) domain.UserStats {
	if game == nil || game.Result == nil {
		return stats
	}
	if stats.Rating == 0 {
		stats.Rating = domain.InitialRating
	}
	stats.TotalGames++
	switch game.Result.Outcome {
	case domain.OutcomeWin:
		stats.Wins++
	case domain.OutcomeDraw:
		stats.Draws++
	case domain.OutcomeLoss:
		stats.Losses++
	}
	stats.Rating = clampRating(stats.Rating + RatingDelta(game.Result.Outcome))
	return stats
}

// recordOpening bumps the opening's count and keeps the top entries.
func recordOpening(stats *domain.UserStats, name string) {
	if name == "" {
		return
	}
	found := false
	for i := range stats.FavoriteOpenings {
		if stats.FavoriteOpenings[i].Name == name {
			stats.FavoriteOpenings[i].Count++
			found = true
			break
		}
	}
	if !found {
		stats.FavoriteOpenings = append(stats.FavoriteOpenings, domain.OpeningCount{Name: name, Count: 1})
	}
	sort.SliceStable(stats.FavoriteOpenings, func(i, j int) bool {
		return stats.FavoriteOpenings[i].Count > stats.FavoriteOpenings[j].Count
	})
	if len(stats.FavoriteOpenings) > favoriteOpeningsLimit {
		stats.FavoriteOpenings = stats.FavoriteOpenings[:favoriteOpeningsLimit]
	}
}
