// Package decision turns selection snapshots into the orders to place on one
// loop tick. It is pure: no I/O, no clock reads, no mutation of its input.
package decision

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

const defaultEpsilon = 0.01

// Config holds everything the engine needs to decide.
type Config struct {
	Sizer        domain.Sizer
	Ladder       *domain.Ladder
	Failsafe     domain.Failsafe
	EarlyBird    EarlyBirdConfig
	Invalidation InvalidationConfig

	// MinLiquidity is the size that must be on offer on the bet's side of the
	// book before an entry order is sent. 0 disables the check.
	MinLiquidity float64
}

// Engine is the decision engine.
type Engine struct {
	cfg Config
}

// New creates an Engine, filling unset values with defaults.
func New(cfg Config) *Engine {
	if cfg.Ladder == nil {
		cfg.Ladder = domain.StandardLadder
	}
	if cfg.Failsafe.Epsilon <= 0 {
		cfg.Failsafe.Epsilon = defaultEpsilon
	}
	if cfg.Invalidation.PlaceRunnerThreshold <= 0 {
		cfg.Invalidation.PlaceRunnerThreshold = defaultPlaceRunnerThreshold
	}
	if cfg.EarlyBird.Stake <= 0 {
		cfg.EarlyBird.Stake = cfg.Sizer.MinStake
	}
	return &Engine{cfg: cfg}
}

// Decide evaluates every selection in input order.
func (e *Engine) Decide(states []domain.SelectionState, now time.Time) domain.DecisionResult {
	var res domain.DecisionResult
	cashOut := make(map[string]bool)

	for _, s := range states {
		if s.Closed(now) {
			continue
		}
		if s.RunnerStatus == domain.RunnerRemoved {
			// a non-runner is void; there is nothing to hedge
			continue
		}

		// a fully matched selection can still be invalidated and cashed out
		if reason, ok := e.invalidation(s); ok {
			res.Invalidations = append(res.Invalidations, domain.Invalidation{
				UniqueID: s.UniqueID,
				MarketID: s.MarketID,
				Reason:   reason,
			})
			if s.TotalMatched > 0 {
				res.CashOuts = append(res.CashOuts, domain.CashOut{UniqueID: s.UniqueID, Key: s.Key()})
				if !cashOut[s.MarketID] {
					cashOut[s.MarketID] = true
					res.CashOutMarketIDs = append(res.CashOutMarketIDs, s.MarketID)
				}
			}
			slog.Debug("decision: selection invalidated",
				"unique_id", s.UniqueID, "reason", reason, "matched", s.TotalMatched)
			continue
		}
		if s.FullyMatched {
			continue
		}

		if e.earlyBirdEligible(s, now) {
			for _, o := range e.earlyBirdOrders(s) {
				e.route(&res, &res.EarlyBird, s, o)
			}
			continue
		}

		if s.CalculatedStake <= 0 {
			continue
		}
		sz := e.cfg.Sizer.Size(domain.SizingFromState(s))
		if !sz.ShouldBet {
			slog.Debug("decision: no bet", "unique_id", s.UniqueID, "reason", sz.Reason)
			continue
		}
		if depth, ok := e.liquid(s); !ok {
			slog.Debug("decision: no bet", "unique_id", s.UniqueID,
				"reason", "thin market", "depth", depth, "min", e.cfg.MinLiquidity)
			continue
		}
		e.route(&res, &res.Orders, s, domain.Order{
			MarketID:    s.MarketID,
			SelectionID: s.SelectionID,
			Side:        s.Side,
			Size:        sz.RemainingStake,
			Price:       sz.BetPrice,
			StrategyRef: domain.NewStrategyRef(domain.KindEntry, s.UniqueID),
		})
	}
	return res
}

// liquid reports whether the side the selection bets on holds at least
// MinLiquidity, along with the depth seen.
func (e *Engine) liquid(s domain.SelectionState) (float64, bool) {
	depth := s.BackDepth
	if s.Side == domain.SideLay {
		depth = s.LayDepth
	}
	return depth, e.cfg.MinLiquidity <= 0 || depth >= e.cfg.MinLiquidity
}

// route runs the failsafe and appends the order to dst or to Suppressed.
func (e *Engine) route(res *domain.DecisionResult, dst *[]domain.OrderWithState, s domain.SelectionState, o domain.Order) {
	ows := domain.OrderWithState{
		Order:            o,
		UniqueID:         s.UniqueID,
		TargetStake:      s.CalculatedStake,
		WithinStakeLimit: e.cfg.Failsafe.Allows(o, s.TotalMatched, s.MatchedLiability(), s.CalculatedStake),
	}
	if !ows.WithinStakeLimit {
		slog.Warn("decision: failsafe suppressed order",
			"unique_id", s.UniqueID, "side", o.Side, "size", o.Size, "price", o.Price,
			"matched", s.TotalMatched, "target", s.CalculatedStake)
		res.Suppressed = append(res.Suppressed, ows)
		return
	}
	*dst = append(*dst, ows)
}
