// Package execution applies decisions to the exchange: it places orders,
// performs cash-outs and cancels orders that should no longer rest.
package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

// Stats counts what one Execute call did.
type Stats struct {
	Placed        int
	Matched       int // placements with any size matched, partial included
	Failed        int
	Skipped       int // an identical order already rests on the exchange
	Resized       int // entry orders cancelled to be replaced at a new price
	Refused       int // failed the failsafe re-check
	Invalidated   int
	CashOutOrders int
}

// Executor places orders one at a time.
type Executor struct {
	exchange ports.Exchange
	store    ports.SelectionStore
	metrics  ports.Metrics
	failsafe domain.Failsafe
	cashOut  domain.CashOutCalculator

	mu sync.Mutex // placement is strictly serialized
}

// NewExecutor creates an Executor. A nil metrics discards counters.
func NewExecutor(
	exchange ports.Exchange,
	store ports.SelectionStore,
	metrics ports.Metrics,
	failsafe domain.Failsafe,
	cashOut domain.CashOutCalculator,
) *Executor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cashOut.Ladder == nil {
		cashOut.Ladder = domain.StandardLadder
	}
	return &Executor{
		exchange: exchange,
		store:    store,
		metrics:  metrics,
		failsafe: failsafe,
		cashOut:  cashOut,
	}
}

// restingKey identifies an executable order by strategy ref and price in pence.
type restingKey struct {
	ref   domain.StrategyRef
	price int64
}

func keyOf(ref domain.StrategyRef, price float64) restingKey {
	return restingKey{ref: ref, price: int64(math.Round(price * 100))}
}

// restingIndex is the batch's view of what already rests on the exchange.
type restingIndex map[restingKey]bool

// restingEntries groups executable entry orders by reference.
func restingEntries(orders []domain.ExchangeOrder) map[domain.StrategyRef][]domain.ExchangeOrder {
	out := make(map[domain.StrategyRef][]domain.ExchangeOrder)
	for _, o := range orders {
		if o.Executable() && o.StrategyRef.Kind() == domain.KindEntry {
			out[o.StrategyRef] = append(out[o.StrategyRef], o)
		}
	}
	return out
}

func newRestingIndex(orders []domain.ExchangeOrder) restingIndex {
	idx := make(restingIndex, len(orders))
	for _, o := range orders {
		if o.Executable() && o.StrategyRef.IsAutomated() {
			idx[keyOf(o.StrategyRef, o.Price)] = true
		}
	}
	return idx
}

// Execute persists invalidations, places the decided orders and runs the
// queued cash-outs. Per-order failures are counted, not returned. A network
// failure aborts the batch since every following call would fail the same way.
func (x *Executor) Execute(ctx context.Context, res domain.DecisionResult) (Stats, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var st Stats
	for _, inv := range res.Invalidations {
		if err := x.store.InvalidateSelection(ctx, inv); err != nil {
			slog.Warn("executor: invalidate selection failed", "unique_id", inv.UniqueID, "err", err)
			continue
		}
		st.Invalidated++
		slog.Info("executor: selection invalidated", "unique_id", inv.UniqueID, "reason", inv.Reason)
	}

	orders := res.AllOrders()
	if len(orders) == 0 && len(res.CashOuts) == 0 {
		return st, nil
	}

	current, err := x.exchange.CurrentOrders(ctx, res.MarketIDs())
	if err != nil {
		return st, fmt.Errorf("execution.Execute: current orders: %w", err)
	}
	idx := newRestingIndex(current)
	entries := restingEntries(current)

	for _, o := range orders {
		if !x.failsafe.Recheck(o) {
			st.Refused++
			slog.Warn("executor: order refused by failsafe",
				"unique_id", o.UniqueID, "side", o.Order.Side,
				"size", money(o.Order.Size), "price", o.Order.Price)
			continue
		}
		ok, err := x.resize(ctx, o.Order, entries, idx, &st)
		if err != nil {
			return st, fmt.Errorf("execution.Execute: %w", err)
		}
		if !ok {
			continue
		}
		if err := x.place(ctx, o.Order, idx, &st); err != nil {
			return st, fmt.Errorf("execution.Execute: %w", err)
		}
	}

	if len(res.CashOuts) > 0 {
		if err := x.runCashOut(ctx, res.CashOuts, &st); err != nil {
			return st, fmt.Errorf("execution.Execute: %w", err)
		}
	}
	return st, nil
}

// resize cancels entry orders of the same reference resting at another price
// so that a selection keeps a single live entry order. It reports false when
// an old order could not be cancelled and the new one must not be placed.
func (x *Executor) resize(ctx context.Context, o domain.Order, entries map[domain.StrategyRef][]domain.ExchangeOrder, idx restingIndex, st *Stats) (bool, error) {
	if o.StrategyRef.Kind() != domain.KindEntry {
		return true, nil
	}
	want := keyOf(o.StrategyRef, o.Price)
	var kept []domain.ExchangeOrder
	ok := true
	for _, r := range entries[o.StrategyRef] {
		old := keyOf(r.StrategyRef, r.Price)
		if old == want {
			kept = append(kept, r)
			continue
		}
		if err := x.exchange.CancelOrder(ctx, r.BetID); err != nil {
			if errors.Is(err, ports.ErrNetwork) {
				return false, fmt.Errorf("resize %s: %w", r.BetID, err)
			}
			slog.Warn("executor: cancel before resize failed", "bet_id", r.BetID, "err", err)
			kept = append(kept, r)
			ok = false
			continue
		}
		delete(idx, old)
		st.Resized++
		x.metrics.OrderCancelled("resize")
		slog.Info("executor: entry order moved",
			"bet_id", r.BetID, "market", r.MarketID, "selection", r.SelectionID,
			"from", r.Price, "to", o.Price, "unmatched", money(r.SizeRemaining))
	}
	entries[o.StrategyRef] = kept
	return ok, nil
}

// place submits one order unless an identical one already rests. Only network
// errors are returned.
func (x *Executor) place(ctx context.Context, o domain.Order, idx restingIndex, st *Stats) error {
	key := keyOf(o.StrategyRef, o.Price)
	if idx[key] {
		st.Skipped++
		slog.Debug("executor: identical order already resting",
			"market", o.MarketID, "selection", o.SelectionID, "ref", o.StrategyRef, "price", o.Price)
		return nil
	}

	r, err := x.exchange.PlaceOrder(ctx, o)
	if err != nil {
		st.Failed++
		x.metrics.OrderFailed()
		if errors.Is(err, ports.ErrNetwork) {
			return fmt.Errorf("place %s/%s: %w", o.MarketID, o.SelectionID, err)
		}
		slog.Warn("executor: place order failed",
			"market", o.MarketID, "selection", o.SelectionID, "err", err)
		return nil
	}
	if !r.Success {
		st.Failed++
		x.metrics.OrderFailed()
		slog.Warn("executor: order rejected",
			"market", o.MarketID, "selection", o.SelectionID, "side", o.Side,
			"size", money(o.Size), "price", o.Price, "code", r.ErrorCode)
		return nil
	}

	st.Placed++
	x.metrics.OrderPlaced(o.StrategyRef.Kind())
	if r.SizeMatched > 0 {
		st.Matched++
		x.metrics.OrderMatched()
	}
	if r.SizeMatched < o.Size {
		idx[key] = true
	}
	slog.Info("executor: order placed",
		"bet_id", r.BetID, "market", o.MarketID, "selection", o.SelectionID,
		"side", o.Side, "size", money(o.Size), "price", o.Price,
		"matched", money(r.SizeMatched), "strategy", o.StrategyRef.Kind())
	return nil
}

func money(v float64) string {
	return fmt.Sprintf("£%.2f", v)
}
