package chess

import (
	"fmt"
	"time"
)

const (
	defaultAnalysisDepth   = 3
	defaultAnalysisTimeout = 3 * time.Second
	maxAnalysisTimeout     = 30 * time.Second
)

// Limits bound the cost of analysis requests.
type Limits struct {
	MaxDepth        int
	DefaultDepth    int
	AnalysisTimeout time.Duration
	MaxTimeout      time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxDepth:        defaultMaxDepth,
		DefaultDepth:    defaultAnalysisDepth,
		AnalysisTimeout: defaultAnalysisTimeout,
		MaxTimeout:      maxAnalysisTimeout,
	}
}

func (l Limits) normalize() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = defaultMaxDepth
	}
	if l.DefaultDepth <= 0 {
		l.DefaultDepth = defaultAnalysisDepth
	}
	if l.DefaultDepth > l.MaxDepth {
		l.DefaultDepth = l.MaxDepth
	}
	if l.AnalysisTimeout <= 0 {
		l.AnalysisTimeout = defaultAnalysisTimeout
	}
	if l.MaxTimeout <= 0 {
		l.MaxTimeout = maxAnalysisTimeout
	}
	return l
}

// Depth returns the depth actually searched for a requested depth. Zero
// means the default.
func (l Limits) Depth(requested int) int {
	switch {
	case requested <= 0:
		return l.DefaultDepth
	case requested > l.MaxDepth:
		return l.MaxDepth
	}
	return requested
}

func (l Limits) Timeout(requested time.Duration) time.Duration {
	switch {
	case requested <= 0:
		return l.AnalysisTimeout
	case requested > l.MaxTimeout:
		return l.MaxTimeout
	}
	return requested
}

// MoveBudget is the wall-clock allowance for one bot move of the tier.
func MoveBudget(p DifficultyPreset) (time.Duration, error) {
	if err := ValidatePreset(p); err != nil {
		return 0, err
	}
	if p.MoveTimeMillis == 0 {
		return 0, fmt.Errorf("preset %s does not define a move time", p.Name)
	}
	return time.Duration(p.MoveTimeMillis) * time.Millisecond, nil
}
