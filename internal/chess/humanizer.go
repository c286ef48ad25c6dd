package chess

import (
	"errors"
	"math/rand"
)

// Selection records how a tier picked its move.
type Selection struct {
	Candidate ScoredMove
	Rank      int
	// Random is set when the tier ignored the search and played any legal move.
	Random bool
}

// SelectCandidate applies a tier's humanizing rules to ranked root moves.
// candidates must be sorted best first and cover every legal root move.
func SelectCandidate(p DifficultyPreset, candidates []ScoredMove, r *rand.Rand) (Selection, error) {
	if len(candidates) == 0 {
		return Selection{}, errors.New("no candidates to choose from")
	}
	if err := ValidatePreset(p); err != nil {
		return Selection{}, err
	}
	if r == nil {
		return Selection{Candidate: candidates[0]}, nil
	}

	if p.RandomMoveProb > 0 && r.Float64() < p.RandomMoveProb {
		index := r.Intn(len(candidates))
		return Selection{Candidate: candidates[index], Rank: index, Random: true}, nil
	}

	limit := p.TopK
	if limit > len(candidates) {
		limit = len(candidates)
	}
	if limit <= 1 || r.Float64() >= p.TopKProb {
		return Selection{Candidate: candidates[0]}, nil
	}

	// never trade a found mate for a weaker line
	if candidates[0].Evaluation.IsMate() && candidates[0].Score > 0 {
		return Selection{Candidate: candidates[0]}, nil
	}

	totalWeight := 0.0
	for i := 0; i < limit; i++ {
		totalWeight += p.TopKWeights[i]
	}
	if totalWeight == 0 {
		return Selection{}, errors.New("candidate weights sum to zero")
	}

	threshold := r.Float64() * totalWeight
	index := 0
	for i := 0; i < limit; i++ {
		threshold -= p.TopKWeights[i]
		if threshold <= 0 {
			index = i
			break
		}
	}
	return Selection{Candidate: candidates[index], Rank: index}, nil
}
