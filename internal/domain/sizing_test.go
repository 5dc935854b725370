package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func testSizer() Sizer {
	return Sizer{MinStake: 1.0, Tolerance: 0.5}
}

// --- BACK ---

func TestSizer_BackFullStakeAtBetterPrice(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		CurrentBackPrice: 3.5,
	})
	assert.True(t, res.ShouldBet)
	assert.InDelta(t, 10.00, res.RemainingStake, 0.0001)
	assert.Equal(t, 3.5, res.BetPrice)
}

func TestSizer_BackRemainingAfterPartialMatch(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		TotalMatched:     3.337,
		CurrentBackPrice: 3.0,
	})
	assert.True(t, res.ShouldBet)
	assert.InDelta(t, 6.66, res.RemainingStake, 0.0001, "rounded down to pence")
}

func TestSizer_BackPriceMovedAgainst(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		CurrentBackPrice: 2.9,
	})
	assert.False(t, res.ShouldBet)
	assert.Contains(t, res.Reason, "below requested")
}

func TestSizer_BackBelowMinimumIsFullyMatched(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		TotalMatched:     9.5,
		CurrentBackPrice: 3.2,
	})
	assert.False(t, res.ShouldBet)
	assert.Contains(t, res.Reason, "fully matched")
}

func TestSizer_NoPrice(t *testing.T) {
	back := testSizer().Size(SizingInput{Side: SideBack, TargetStake: 10, RequestedOdds: 3})
	lay := testSizer().Size(SizingInput{Side: SideLay, TargetStake: 10, RequestedOdds: 3})
	assert.False(t, back.ShouldBet)
	assert.False(t, lay.ShouldBet)
}

// --- LAY ---

func TestSizer_LayLiabilityBased(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:            SideLay,
		TargetStake:     10,
		RequestedOdds:   3.0,
		CurrentLayPrice: 2.5,
	})
	assert.True(t, res.ShouldBet)
	assert.InDelta(t, 13.33, res.RemainingStake, 0.0001)
	assert.Equal(t, 2.5, res.BetPrice)
}

func TestSizer_LayAfterPartialMatch(t *testing.T) {
	// 5 matched @ 3.0 → liability 10 of 20
	res := testSizer().Size(SizingInput{
		Side:                SideLay,
		TargetStake:         10,
		RequestedOdds:       3.0,
		TotalMatched:        5,
		AveragePriceMatched: 3.0,
		CurrentLayPrice:     2.5,
	})
	assert.True(t, res.ShouldBet)
	assert.InDelta(t, 6.66, res.RemainingStake, 0.0001)
}

func TestSizer_LayFallsBackToStoredLiability(t *testing.T) {
	in := SizingInput{
		Side:            SideLay,
		TargetStake:     10,
		RequestedOdds:   3.0,
		TotalMatched:    10,
		TotalLiability:  20,
		CurrentLayPrice: 2.8,
	}
	res := testSizer().Size(in)
	assert.False(t, res.ShouldBet)
	assert.Equal(t, "liability filled", res.Reason)
	assert.True(t, testSizer().IsFullyMatched(in))
}

func TestSizer_LayPriceMovedAgainst(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:            SideLay,
		TargetStake:     10,
		RequestedOdds:   3.0,
		CurrentLayPrice: 3.2,
	})
	assert.False(t, res.ShouldBet)
	assert.Contains(t, res.Reason, "above requested")
}

func TestSizer_LayInvalidPrice(t *testing.T) {
	res := testSizer().Size(SizingInput{
		Side:            SideLay,
		TargetStake:     10,
		RequestedOdds:   3.0,
		CurrentLayPrice: 1.0,
	})
	assert.False(t, res.ShouldBet)
	assert.Contains(t, res.Reason, "invalid lay price")
}

// --- IsFullyMatched ---

func TestSizer_RestingExposureReducesStake(t *testing.T) {
	back := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		TotalMatched:     2,
		CurrentBackPrice: 3.2,
		Pending:          3,
	})
	assert.True(t, back.ShouldBet)
	assert.InDelta(t, 5.00, back.RemainingStake, 0.0001)

	// 15 target liability, 6 resting: 9 / (2.5 - 1) = 6
	lay := testSizer().Size(SizingInput{
		Side:            SideLay,
		TargetStake:     10,
		RequestedOdds:   2.5,
		CurrentLayPrice: 2.5,
		Pending:         6,
	})
	assert.True(t, lay.ShouldBet)
	assert.InDelta(t, 6.00, lay.RemainingStake, 0.0001)

	covered := testSizer().Size(SizingInput{
		Side:             SideBack,
		TargetStake:      10,
		RequestedOdds:    3.0,
		CurrentBackPrice: 3.2,
		Pending:          10,
	})
	assert.False(t, covered.ShouldBet)
}

func TestSizer_IsFullyMatched(t *testing.T) {
	z := testSizer()
	assert.True(t, z.IsFullyMatched(SizingInput{Side: SideBack, TargetStake: 10, TotalMatched: 9.6}))
	assert.False(t, z.IsFullyMatched(SizingInput{Side: SideBack, TargetStake: 10, TotalMatched: 9.4}))
	assert.True(t, z.IsFullyMatched(SizingInput{
		Side: SideLay, TargetStake: 10, RequestedOdds: 3, TotalMatched: 13.2, AveragePriceMatched: 2.5,
	}))
	assert.False(t, z.IsFullyMatched(SizingInput{
		Side: SideLay, TargetStake: 10, RequestedOdds: 3, TotalMatched: 5, AveragePriceMatched: 3,
	}))
	assert.False(t, z.IsFullyMatched(SizingInput{Side: SideBack}), "no target yet")
}

// --- Properties ---

func TestSizer_BackNeverOverBets(t *testing.T) {
	z := testSizer()
	rapid.Check(t, func(t *rapid.T) {
		target := rapid.Float64Range(0, 500).Draw(t, "target")
		matched := rapid.Float64Range(0, 600).Draw(t, "matched")
		requested := StandardLadder.Snap(rapid.Float64Range(1.01, 50).Draw(t, "requested"))
		price := StandardLadder.Snap(rapid.Float64Range(1.01, 60).Draw(t, "price"))

		res := z.Size(SizingInput{
			Side:             SideBack,
			TargetStake:      target,
			RequestedOdds:    requested,
			TotalMatched:     matched,
			CurrentBackPrice: price,
		})
		if res.ShouldBet && res.RemainingStake > target-matched+1e-9 {
			t.Fatalf("remaining %v > target %v - matched %v", res.RemainingStake, target, matched)
		}
	})
}

func TestSizer_LayFillSequenceNeverExceedsLiability(t *testing.T) {
	z := testSizer()
	rapid.Check(t, func(t *rapid.T) {
		target := rapid.Float64Range(2, 200).Draw(t, "target")
		requested := StandardLadder.Snap(rapid.Float64Range(1.5, 20).Draw(t, "requested"))
		targetLiability := target * (requested - 1)

		var matched, avg float64
		for i := 0; i < 20; i++ {
			price := StandardLadder.SnapDown(rapid.Float64Range(1.02, requested).Draw(t, "price"))
			res := z.Size(SizingInput{
				Side:                SideLay,
				TargetStake:         target,
				RequestedOdds:       requested,
				TotalMatched:        matched,
				AveragePriceMatched: avg,
				CurrentLayPrice:     price,
			})
			if !res.ShouldBet {
				break
			}
			frac := rapid.Float64Range(0.1, 1).Draw(t, "fill")
			fill := TruncateMoney(res.RemainingStake * frac)
			if fill <= 0 {
				continue
			}
			avg = (matched*avg + fill*price) / (matched + fill)
			matched += fill

			if liability := matched * (avg - 1); liability > targetLiability+0.01 {
				t.Fatalf("liability %v exceeds target %v", liability, targetLiability)
			}
		}
	})
}
