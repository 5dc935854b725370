package decision

import (
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// EarlyBirdConfig controls the ladder of small resting orders placed well
// before the race, while the selection has no bet yet.
type EarlyBirdConfig struct {
	Enabled           bool
	MinHorizonMinutes float64
	TickOffsets       []int
	Stake             float64 // per order
}

func (e *Engine) earlyBirdEligible(s domain.SelectionState, now time.Time) bool {
	cfg := e.cfg.EarlyBird
	if !cfg.Enabled || len(cfg.TickOffsets) == 0 || s.HasBet {
		return false
	}
	if s.MinutesToRace < cfg.MinHorizonMinutes {
		return false
	}
	return !s.ExpiresAt.IsZero() && now.Before(s.ExpiresAt)
}

// earlyBirdOrders offers a fixed stake at each tick offset beyond the current
// price. BACK orders sit above the best back, LAY orders below the best lay.
// Offsets that would cross the requested odds are skipped and the total,
// together with early-bird orders still resting, is capped at the target
// stake (target liability for LAY).
func (e *Engine) earlyBirdOrders(s domain.SelectionState) []domain.Order {
	cfg := e.cfg.EarlyBird
	ladder := e.cfg.Ladder
	ref := domain.NewStrategyRef(domain.KindEarlyBird, s.UniqueID)
	minStake := e.cfg.Sizer.MinStake

	var (
		out   []domain.Order
		used  float64
		seen  = make(map[float64]bool)
		limit = s.CalculatedStake
	)
	if s.Side == domain.SideLay {
		limit = s.CalculatedStake * (s.RequestedOdds - 1)
	}
	limit -= s.RestingEarlyBird
	if limit <= 0 {
		return nil
	}

	for _, offset := range cfg.TickOffsets {
		var price float64
		switch s.Side {
		case domain.SideBack:
			if s.CurrentBackPrice <= 0 {
				return out
			}
			price = ladder.TicksAway(s.CurrentBackPrice, offset)
			if price < s.RequestedOdds {
				continue
			}
		case domain.SideLay:
			if s.CurrentLayPrice <= 0 {
				return out
			}
			price = ladder.TicksAway(s.CurrentLayPrice, -offset)
			if price > s.RequestedOdds || price <= ladder.Min() {
				continue
			}
		default:
			return nil
		}
		if seen[price] {
			continue
		}

		stake := cfg.Stake
		exposure := stake
		if s.Side == domain.SideLay {
			exposure = stake * (price - 1)
		}
		if used+exposure > limit+e.cfg.Failsafe.Epsilon {
			stake = remainingStake(s.Side, limit-used, price)
			if stake < minStake {
				break
			}
			exposure = stake
			if s.Side == domain.SideLay {
				exposure = stake * (price - 1)
			}
		}

		seen[price] = true
		used += exposure
		out = append(out, domain.Order{
			MarketID:    s.MarketID,
			SelectionID: s.SelectionID,
			Side:        s.Side,
			Size:        stake,
			Price:       price,
			StrategyRef: ref,
		})
	}
	return out
}

func remainingStake(side domain.Side, remaining, price float64) float64 {
	if remaining <= 0 {
		return 0
	}
	if side == domain.SideLay {
		return domain.TruncateMoney(remaining / (price - 1))
	}
	return domain.TruncateMoney(remaining)
}
