package domain

import "fmt"

// SizingInput is everything the sizer needs about one selection.
type SizingInput struct {
	Side                Side
	TargetStake         float64
	RequestedOdds       float64
	TotalMatched        float64
	AveragePriceMatched float64
	TotalLiability      float64 // fallback when no average price is known
	CurrentBackPrice    float64 // 0 = no price
	CurrentLayPrice     float64 // 0 = no price
	Pending             float64 // unmatched exposure already resting: stake for BACK, liability for LAY
}

// SizingFromState builds the sizer input for a selection.
func SizingFromState(s SelectionState) SizingInput {
	return SizingInput{
		Side:                s.Side,
		TargetStake:         s.CalculatedStake,
		RequestedOdds:       s.RequestedOdds,
		TotalMatched:        s.TotalMatched,
		AveragePriceMatched: s.AveragePriceMatched,
		TotalLiability:      s.TotalLiability,
		CurrentBackPrice:    s.CurrentBackPrice,
		CurrentLayPrice:     s.CurrentLayPrice,
		Pending:             s.RestingEarlyBird,
	}
}

// TargetLiability is the liability a fully matched LAY selection carries.
func (in SizingInput) TargetLiability() float64 {
	return in.TargetStake * (in.RequestedOdds - 1)
}

// MatchedLiability is the liability already matched on a LAY selection.
func (in SizingInput) MatchedLiability() float64 {
	if in.AveragePriceMatched > 1 {
		return in.TotalMatched * (in.AveragePriceMatched - 1)
	}
	return in.TotalLiability
}

// SizingResult says whether to bet more and how much. Reason is for logs only.
type SizingResult struct {
	ShouldBet      bool
	RemainingStake float64
	BetPrice       float64
	Reason         string
}

// Sizer computes stakes for both bet sides. MinStake is the smallest stake the
// exchange accepts; Tolerance is how close to the target counts as fully matched.
type Sizer struct {
	MinStake  float64
	Tolerance float64
}

// Size decides the next order for a selection.
func (z Sizer) Size(in SizingInput) SizingResult {
	switch in.Side {
	case SideBack:
		return z.sizeBack(in)
	case SideLay:
		return z.sizeLay(in)
	}
	return SizingResult{Reason: fmt.Sprintf("unknown side %q", in.Side)}
}

func (z Sizer) sizeBack(in SizingInput) SizingResult {
	if in.CurrentBackPrice <= 0 {
		return SizingResult{Reason: "no back price available"}
	}
	if in.CurrentBackPrice < in.RequestedOdds {
		return SizingResult{
			BetPrice: in.CurrentBackPrice,
			Reason:   fmt.Sprintf("back price %.2f below requested %.2f", in.CurrentBackPrice, in.RequestedOdds),
		}
	}

	remaining := TruncateMoney(in.TargetStake - in.TotalMatched - in.Pending)
	if remaining < z.MinStake {
		return SizingResult{
			RemainingStake: max(remaining, 0),
			BetPrice:       in.CurrentBackPrice,
			Reason:         fmt.Sprintf("fully matched (remaining %.2f below minimum %.2f)", remaining, z.MinStake),
		}
	}

	return SizingResult{
		ShouldBet:      true,
		RemainingStake: remaining,
		BetPrice:       in.CurrentBackPrice,
		Reason:         fmt.Sprintf("back %.2f of %.2f at %.2f", remaining, in.TargetStake, in.CurrentBackPrice),
	}
}

func (z Sizer) sizeLay(in SizingInput) SizingResult {
	if in.CurrentLayPrice <= 0 {
		return SizingResult{Reason: "no lay price available"}
	}

	remainingLiability := in.TargetLiability() - in.MatchedLiability() - in.Pending
	if remainingLiability <= 0 {
		return SizingResult{BetPrice: in.CurrentLayPrice, Reason: "liability filled"}
	}
	if in.CurrentLayPrice > in.RequestedOdds {
		return SizingResult{
			BetPrice: in.CurrentLayPrice,
			Reason:   fmt.Sprintf("lay price %.2f above requested %.2f", in.CurrentLayPrice, in.RequestedOdds),
		}
	}
	if in.CurrentLayPrice <= 1.0 {
		return SizingResult{Reason: fmt.Sprintf("invalid lay price %.2f", in.CurrentLayPrice)}
	}

	stake := TruncateMoney(remainingLiability / (in.CurrentLayPrice - 1))
	if stake < z.MinStake {
		return SizingResult{
			RemainingStake: stake,
			BetPrice:       in.CurrentLayPrice,
			Reason:         fmt.Sprintf("fully matched (stake %.2f below minimum %.2f)", stake, z.MinStake),
		}
	}

	return SizingResult{
		ShouldBet:      true,
		RemainingStake: stake,
		BetPrice:       in.CurrentLayPrice,
		Reason: fmt.Sprintf("lay %.2f at %.2f for liability %.2f of %.2f",
			stake, in.CurrentLayPrice, remainingLiability, in.TargetLiability()),
	}
}

// IsFullyMatched reports whether the selection has reached its target.
func (z Sizer) IsFullyMatched(in SizingInput) bool {
	if in.TargetStake <= 0 {
		return false
	}
	switch in.Side {
	case SideBack:
		return in.TotalMatched >= in.TargetStake-z.Tolerance
	case SideLay:
		return in.MatchedLiability() >= in.TargetLiability()-z.Tolerance
	}
	return false
}
