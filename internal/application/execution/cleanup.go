package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

// Cancellation reasons, also used as metric labels.
const (
	ReasonImminent  = "imminent"
	ReasonStale     = "stale"
	ReasonEarlyBird = "early_bird_horizon"
)

// CleanupConfig holds the order staleness policy.
type CleanupConfig struct {
	StaleAfter       time.Duration // entry orders older than this are cancelled
	Imminent         time.Duration // every automated order is cancelled this close to the race
	EarlyBirdHorizon time.Duration // early-bird orders are cancelled this close to the race
}

// CleanupStats counts what one cleanup pass did.
type CleanupStats struct {
	Scanned   int
	Cancelled int
	Failed    int
}

// Cleanup cancels automated orders that should no longer rest on the exchange.
// Manually placed orders are never touched.
type Cleanup struct {
	exchange ports.Exchange
	store    ports.SelectionStore
	metrics  ports.Metrics
	cfg      CleanupConfig
}

// NewCleanup creates a Cleanup. A nil metrics discards counters.
func NewCleanup(exchange ports.Exchange, store ports.SelectionStore, metrics ports.Metrics, cfg CleanupConfig) *Cleanup {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	return &Cleanup{exchange: exchange, store: store, metrics: metrics, cfg: cfg}
}

// Run scans executable orders once.
func (c *Cleanup) Run(ctx context.Context, now time.Time) (CleanupStats, error) {
	var st CleanupStats

	orders, err := c.exchange.CurrentOrders(ctx, nil)
	if err != nil {
		return st, fmt.Errorf("execution.Cleanup: current orders: %w", err)
	}

	var (
		automated []domain.ExchangeOrder
		marketIDs []string
		seen      = make(map[string]bool)
	)
	for _, o := range orders {
		if !o.Executable() || !o.StrategyRef.IsAutomated() {
			continue
		}
		automated = append(automated, o)
		if !seen[o.MarketID] {
			seen[o.MarketID] = true
			marketIDs = append(marketIDs, o.MarketID)
		}
	}
	if len(automated) == 0 {
		return st, nil
	}

	raceTimes, err := c.store.RaceTimes(ctx, marketIDs)
	if err != nil {
		return st, fmt.Errorf("execution.Cleanup: race times: %w", err)
	}

	for _, o := range automated {
		st.Scanned++
		reason := c.reason(o, raceTimes[o.MarketID], now)
		if reason == "" {
			continue
		}
		if err := c.exchange.CancelOrder(ctx, o.BetID); err != nil {
			if errors.Is(err, ports.ErrNetwork) {
				return st, fmt.Errorf("execution.Cleanup: cancel %s: %w", o.BetID, err)
			}
			st.Failed++
			slog.Warn("cleanup: cancel failed", "bet_id", o.BetID, "reason", reason, "err", err)
			continue
		}
		st.Cancelled++
		c.metrics.OrderCancelled(reason)
		slog.Info("cleanup: order cancelled",
			"bet_id", o.BetID, "market", o.MarketID, "selection", o.SelectionID,
			"reason", reason, "remaining", money(o.SizeRemaining))
	}
	return st, nil
}

// reason returns why o should be cancelled, or "" to keep it. A zero raceTime
// means unknown and leaves only the stale rule.
func (c *Cleanup) reason(o domain.ExchangeOrder, raceTime, now time.Time) string {
	known := !raceTime.IsZero()
	toRace := raceTime.Sub(now)

	if known && toRace < c.cfg.Imminent {
		return ReasonImminent
	}
	switch o.StrategyRef.Kind() {
	case domain.KindEntry:
		if c.cfg.StaleAfter > 0 && !o.PlacedDate.IsZero() && now.Sub(o.PlacedDate) > c.cfg.StaleAfter {
			return ReasonStale
		}
	case domain.KindEarlyBird:
		if known && toRace < c.cfg.EarlyBirdHorizon {
			return ReasonEarlyBird
		}
	}
	return ""
}
