package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultTiers() []StakeTier {
	return []StakeTier{
		{Minutes: 720, Percent: 10},
		{Minutes: 15, Percent: 100},
		{Minutes: 360, Percent: 20},
		{Minutes: 30, Percent: 85},
		{Minutes: 120, Percent: 50},
		{Minutes: 60, Percent: 70},
	}
}

func TestStakingSchedule_Percent(t *testing.T) {
	s, err := NewStakingSchedule(10, defaultTiers())
	require.NoError(t, err)

	assert.Equal(t, 100.0, s.Percent(2), "closer than every tier")
	assert.Equal(t, 100.0, s.Percent(15))
	assert.Equal(t, 85.0, s.Percent(45))
	assert.Equal(t, 70.0, s.Percent(60))
	assert.Equal(t, 50.0, s.Percent(359))
	assert.Equal(t, 10.0, s.Percent(1440))
}

func TestStakingSchedule_TargetStake(t *testing.T) {
	s, err := NewStakingSchedule(10, defaultTiers())
	require.NoError(t, err)

	assert.InDelta(t, 17.0, s.TargetStake(2, 45), 0.0001)
	assert.InDelta(t, 10.0, s.TargetStake(1, 5), 0.0001)
	assert.InDelta(t, 0.33, s.TargetStake(0.33, 800), 0.0001)
}

func TestStakingSchedule_TiersAreSorted(t *testing.T) {
	s, err := NewStakingSchedule(10, defaultTiers())
	require.NoError(t, err)

	tiers := s.Tiers()
	require.Len(t, tiers, 6)
	assert.Equal(t, 15.0, tiers[0].Minutes)
	assert.Equal(t, 720.0, tiers[5].Minutes)

	tiers[0].Percent = 1
	assert.Equal(t, 100.0, s.Percent(15), "Tiers returns a copy")
}

func TestNewStakingSchedule_Rejects(t *testing.T) {
	_, err := NewStakingSchedule(10, nil)
	assert.Error(t, err)

	_, err = NewStakingSchedule(10, []StakeTier{{Minutes: 15, Percent: 50}, {Minutes: 60, Percent: 80}})
	assert.ErrorContains(t, err, "larger than closer tier")

	_, err = NewStakingSchedule(10, []StakeTier{{Minutes: 15, Percent: 0}})
	assert.ErrorContains(t, err, "out of range")

	_, err = NewStakingSchedule(10, []StakeTier{{Minutes: 15, Percent: 50}, {Minutes: 15, Percent: 40}})
	assert.ErrorContains(t, err, "duplicate")
}
