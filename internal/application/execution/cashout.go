package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

// runCashOut closes the automated position of each target selection: its
// unmatched orders are cancelled one by one, then its matched bets are hedged
// at the current opposing price. Manual bets and other selections on the same
// market are left alone. Hedges are not re-checked by the failsafe since they
// only reduce exposure.
func (x *Executor) runCashOut(ctx context.Context, targets []domain.CashOut, st *Stats) error {
	owned := make(map[domain.StrategyRef]domain.RunnerKey)
	var markets []string
	seen := make(map[string]bool)
	for _, t := range targets {
		for _, ref := range t.Refs() {
			owned[ref] = t.Key
		}
		if !seen[t.Key.MarketID] {
			seen[t.Key.MarketID] = true
			markets = append(markets, t.Key.MarketID)
		}
	}

	current, err := x.exchange.CurrentOrders(ctx, markets)
	if err != nil {
		return fmt.Errorf("cash out: current orders: %w", err)
	}
	cancelled := 0
	for _, o := range ownedOrders(current, owned) {
		if !o.Executable() {
			continue
		}
		if err := x.exchange.CancelOrder(ctx, o.BetID); err != nil {
			if errors.Is(err, ports.ErrNetwork) {
				return fmt.Errorf("cash out: cancel %s: %w", o.BetID, err)
			}
			slog.Warn("executor: cash out cancel failed", "bet_id", o.BetID, "err", err)
			continue
		}
		cancelled++
		x.metrics.OrderCancelled("cash_out")
	}

	if cancelled > 0 {
		// refetch so the bets reflect what matched before the cancel
		current, err = x.exchange.CurrentOrders(ctx, markets)
		if err != nil {
			return fmt.Errorf("cash out: current orders: %w", err)
		}
	}
	bets := matchedBets(ownedOrders(current, owned))
	if len(bets) == 0 {
		slog.Info("executor: cash out found no matched bets", "markets", markets)
		return nil
	}

	books, err := x.exchange.MarketPrices(ctx, markets)
	if err != nil {
		return fmt.Errorf("cash out: prices: %w", err)
	}
	prices := make(map[domain.RunnerKey]domain.RunnerPrice)
	for _, b := range books {
		for _, r := range b.Runners {
			if r.MarketID == "" {
				r.MarketID = b.MarketID
			}
			prices[r.Key()] = r
		}
	}

	idx := newRestingIndex(current)
	for _, o := range x.cashOut.Calculate(bets, prices) {
		before := st.Placed
		if err := x.place(ctx, o, idx, st); err != nil {
			return fmt.Errorf("cash out: %w", err)
		}
		if st.Placed > before {
			st.CashOutOrders++
		}
	}
	return nil
}

// ownedOrders keeps the orders whose reference belongs to the runner it was
// issued for.
func ownedOrders(orders []domain.ExchangeOrder, owned map[domain.StrategyRef]domain.RunnerKey) []domain.ExchangeOrder {
	var out []domain.ExchangeOrder
	for _, o := range orders {
		if key, ok := owned[o.StrategyRef]; ok && key == o.Key() {
			out = append(out, o)
		}
	}
	return out
}

// matchedBets turns the matched part of each order into a bet.
func matchedBets(orders []domain.ExchangeOrder) []domain.MatchedBet {
	var bets []domain.MatchedBet
	for _, o := range orders {
		if o.SizeMatched <= 0 {
			continue
		}
		price := o.AveragePriceMatched
		if price <= 1 {
			price = o.Price
		}
		bets = append(bets, domain.MatchedBet{
			MarketID:    o.MarketID,
			SelectionID: o.SelectionID,
			Side:        o.Side,
			Size:        o.SizeMatched,
			Price:       price,
		})
	}
	return bets
}
