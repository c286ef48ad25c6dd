package chess

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var ErrUnknownTier = errors.New("unknown difficulty tier")

type Tier string

const (
	TierBeginner     Tier = "beginner"
	TierIntermediate Tier = "intermediate"
	TierAdvanced     Tier = "advanced"
	TierMaximum      Tier = "maximum"
)

// Tiers lists the tiers in increasing strength.
var Tiers = []Tier{TierBeginner, TierIntermediate, TierAdvanced, TierMaximum}

// DifficultyPreset is the data-only description of one tier.
type DifficultyPreset struct {
	Name           Tier      `yaml:"-"`
	Depth          int       `yaml:"depth"`
	BranchCap      int       `yaml:"branch_cap"`
	MoveTimeMillis int       `yaml:"move_time_ms"`
	RandomMoveProb float64   `yaml:"random_move_prob"`
	TopK           int       `yaml:"top_k"`
	TopKProb       float64   `yaml:"top_k_prob"`
	TopKWeights    []float64 `yaml:"top_k_weights"`
	EvalNoise      int       `yaml:"eval_noise"`
	RandomTieBreak bool      `yaml:"random_tie_break"`
}

func (p DifficultyPreset) clone() DifficultyPreset {
	dup := p
	dup.TopKWeights = append([]float64(nil), p.TopKWeights...)
	return dup
}

func (p DifficultyPreset) searchOptions() SearchOptions {
	return SearchOptions{
		Depth:          p.Depth,
		BranchCap:      p.BranchCap,
		Noise:          p.EvalNoise,
		RandomTieBreak: p.RandomTieBreak,
	}
}

var presetMu sync.RWMutex

// presets is only reached through GetPreset and SetPreset, which hold presetMu
// and copy the weight slices in both directions.
var presets = map[Tier]DifficultyPreset{
	TierBeginner: {
		Name:           TierBeginner,
		Depth:          1,
		BranchCap:      4,
		MoveTimeMillis: 300,
		RandomMoveProb: 0.30,
		TopK:           1,
		TopKWeights:    []float64{1},
		EvalNoise:      60,
		RandomTieBreak: true,
	},
	TierIntermediate: {
		Name:           TierIntermediate,
		Depth:          2,
		BranchCap:      4,
		MoveTimeMillis: 800,
		TopK:           3,
		TopKProb:       0.50,
		TopKWeights:    []float64{0.6, 0.3, 0.1},
		EvalNoise:      25,
		RandomTieBreak: true,
	},
	TierAdvanced: {
		Name:           TierAdvanced,
		Depth:          3,
		BranchCap:      5,
		MoveTimeMillis: 1500,
		TopK:           1,
		TopKWeights:    []float64{1},
		EvalNoise:      5,
	},
	TierMaximum: {
		Name:           TierMaximum,
		Depth:          3,
		BranchCap:      6,
		MoveTimeMillis: 2500,
		TopK:           1,
		TopKWeights:    []float64{1},
	},
}

// ParseTier accepts tier names case-insensitively; "stockfish" is the
// historical label of the maximum tier.
func ParseTier(name string) (Tier, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "stockfish", "max", "master":
		return TierMaximum, nil
	case "":
		return "", fmt.Errorf("%w: empty", ErrUnknownTier)
	}
	tier := Tier(key)
	for _, t := range Tiers {
		if t == tier {
			return tier, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTier, name)
}

func GetPreset(name string) (DifficultyPreset, error) {
	tier, err := ParseTier(name)
	if err != nil {
		return DifficultyPreset{}, err
	}
	presetMu.RLock()
	p, ok := presets[tier]
	presetMu.RUnlock()
	if !ok {
		return DifficultyPreset{}, fmt.Errorf("%w: %s", ErrUnknownTier, name)
	}
	return p.clone(), nil
}

// SetPreset replaces a tier's configuration after validating it.
func SetPreset(name string, p DifficultyPreset) error {
	tier, err := ParseTier(name)
	if err != nil {
		return err
	}
	p.Name = tier
	if err := ValidatePreset(p); err != nil {
		return fmt.Errorf("preset %s: %w", tier, err)
	}
	presetMu.Lock()
	presets[tier] = p.clone()
	presetMu.Unlock()
	return nil
}

func ValidatePreset(p DifficultyPreset) error {
	switch {
	case p.Depth <= 0:
		return fmt.Errorf("depth must be > 0: %d", p.Depth)
	case p.BranchCap < 0:
		return fmt.Errorf("branch cap must be >= 0: %d", p.BranchCap)
	case p.MoveTimeMillis < 0:
		return fmt.Errorf("move time must be >= 0: %d", p.MoveTimeMillis)
	case p.RandomMoveProb < 0 || p.RandomMoveProb > 1:
		return fmt.Errorf("random move probability out of range 0-1: %f", p.RandomMoveProb)
	case p.TopKProb < 0 || p.TopKProb > 1:
		return fmt.Errorf("top-k probability out of range 0-1: %f", p.TopKProb)
	case p.TopK <= 0:
		return fmt.Errorf("top-k must be > 0: %d", p.TopK)
	case len(p.TopKWeights) < p.TopK:
		return fmt.Errorf("top-k weights (%d) must cover top-k (%d)", len(p.TopKWeights), p.TopK)
	case p.EvalNoise < 0:
		return fmt.Errorf("eval noise must be >= 0: %d", p.EvalNoise)
	}

	sum := 0.0
	for i := 0; i < p.TopK; i++ {
		w := p.TopKWeights[i]
		if w < 0 {
			return fmt.Errorf("top-k weight at index %d is negative: %f", i, w)
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("top-k weights sum to zero")
	}
	return nil
}
