package domain

import (
	"fmt"
	"sort"
)

// StakeTier maps "at least Minutes before the race" to a percentage of the max stake.
type StakeTier struct {
	Minutes float64
	Percent float64
}

// StakingSchedule is the time-based staking step function. Far from the race
// only a fraction of the stake is offered; close to post time the full stake.
type StakingSchedule struct {
	MaxStake float64 // per stake point
	tiers    []StakeTier
}

// NewStakingSchedule validates and sorts the tiers. Percentages must not grow
// as the threshold grows.
func NewStakingSchedule(maxStake float64, tiers []StakeTier) (StakingSchedule, error) {
	if len(tiers) == 0 {
		return StakingSchedule{}, fmt.Errorf("domain.NewStakingSchedule: no tiers")
	}
	sorted := make([]StakeTier, len(tiers))
	copy(sorted, tiers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Minutes < sorted[j].Minutes })

	for i, t := range sorted {
		if t.Percent <= 0 || t.Percent > 100 {
			return StakingSchedule{}, fmt.Errorf("domain.NewStakingSchedule: tier %.0fmin: percent %.1f out of range", t.Minutes, t.Percent)
		}
		if i > 0 && t.Minutes == sorted[i-1].Minutes {
			return StakingSchedule{}, fmt.Errorf("domain.NewStakingSchedule: duplicate tier %.0fmin", t.Minutes)
		}
		if i > 0 && t.Percent > sorted[i-1].Percent {
			return StakingSchedule{}, fmt.Errorf("domain.NewStakingSchedule: tier %.0fmin (%.1f%%) larger than closer tier %.0fmin (%.1f%%)",
				t.Minutes, t.Percent, sorted[i-1].Minutes, sorted[i-1].Percent)
		}
	}
	return StakingSchedule{MaxStake: maxStake, tiers: sorted}, nil
}

// Percent returns the stake percentage for the given minutes to race: the tier
// with the largest threshold not above minutes, or the smallest tier when the
// race is closer than every threshold.
func (s StakingSchedule) Percent(minutesToRace float64) float64 {
	if len(s.tiers) == 0 {
		return 0
	}
	pct := s.tiers[0].Percent
	for _, t := range s.tiers {
		if t.Minutes > minutesToRace {
			break
		}
		pct = t.Percent
	}
	return pct
}

// TargetStake is the stake to have matched by now for the given stake points.
func (s StakingSchedule) TargetStake(points, minutesToRace float64) float64 {
	return TruncateMoney(s.MaxStake * points * s.Percent(minutesToRace) / 100)
}

// Tiers returns a copy of the sorted tiers.
func (s StakingSchedule) Tiers() []StakeTier {
	out := make([]StakeTier, len(s.tiers))
	copy(out, s.tiers)
	return out
}
