package wallet

import (
	"math"

	"github.com/mosaicnetworks/memorychain/src/chain"
	"github.com/mosaicnetworks/memorychain/src/task"
)

// BaseValue returns the reward of a task of the given difficulty before
// quality and boosts.
func BaseValue(d chain.Difficulty) int64 {
	switch d {
	case chain.Easy:
		return 100
	case chain.Medium:
		return 250
	case chain.Hard:
		return 500
	case chain.Expert:
		return 1000
	}
	return 0
}

// QualityFactor is the approval ratio of the winning solution, clamped to
// [0.5, 1.5].
func QualityFactor(approvals, rejections int) float64 {
	total := approvals + rejections
	if total == 0 {
		return 1
	}
	q := float64(approvals) / float64(total)
	if q < 0.5 {
		q = 0.5
	}
	if q > 1.5 {
		q = 1.5
	}
	return q
}

// ComputeReward returns the reward of a completed task.
func ComputeReward(t task.Task) (int64, error) {
	if t.State != task.Completed {
		return 0, ErrTaskNotCompleted
	}
	s, ok := t.Winning()
	if !ok {
		return 0, ErrTaskNotCompleted
	}

	multiplier := t.RewardMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}

	base := float64(BaseValue(t.ResolvedDifficulty))
	return int64(math.Round(base * QualityFactor(s.Approvals, s.Rejections) * multiplier)), nil
}
