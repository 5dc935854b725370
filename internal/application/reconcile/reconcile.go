// Package reconcile brings the local ledger in line with the exchange, which
// is the source of truth for every order.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

// Report counts what one reconciliation pass wrote.
type Report struct {
	Selections      int
	BetLogRows      int
	PendingOrders   int
	PendingDeleted  int
	ProgressUpdates int
}

// Reconciler is the only writer of bet_log and pending_orders.
type Reconciler struct {
	exchange ports.Exchange
	store    ports.SelectionStore
	ledger   ports.Ledger
}

// New creates a Reconciler.
func New(exchange ports.Exchange, store ports.SelectionStore, ledger ports.Ledger) *Reconciler {
	return &Reconciler{exchange: exchange, store: store, ledger: ledger}
}

// Run reconciles the race day of now (UTC). Rows are upserted by unique id so
// running it twice writes the same state.
func (r *Reconciler) Run(ctx context.Context, now time.Time) (Report, error) {
	var rep Report
	day := startOfDay(now)

	selections, err := r.store.FetchSelections(ctx, domain.SelectionFilter{Day: day})
	if err != nil {
		return rep, fmt.Errorf("reconcile.Run: fetch selections: %w", err)
	}
	rep.Selections = len(selections)

	var current []domain.ExchangeOrder
	if len(selections) > 0 {
		current, err = r.exchange.CurrentOrders(ctx, marketIDs(selections))
		if err != nil {
			return rep, fmt.Errorf("reconcile.Run: current orders: %w", err)
		}
	}
	cleared, err := r.exchange.PastOrders(ctx, day, now)
	if err != nil {
		return rep, fmt.Errorf("reconcile.Run: cleared orders: %w", err)
	}

	var (
		betLog  []domain.BetLogRow
		pending []domain.PendingOrderRow
		keep    = make(map[string]bool)
	)
	for _, s := range selections {
		own := ownership(s)
		cur := filterCurrent(current, own)
		clr := filterCleared(cleared, own)

		p := progressOf(s.UniqueID, cur, clr)
		if progressChanged(s, p) {
			if err := r.store.UpdateSelectionProgress(ctx, p); err != nil {
				slog.Warn("reconcile: update progress failed", "unique_id", s.UniqueID, "err", err)
			} else {
				rep.ProgressUpdates++
			}
		}

		if row, ok := pendingRow(s, cur, now); ok {
			pending = append(pending, row)
			keep[s.UniqueID] = true
			continue
		}
		if p.TotalMatched > 0 {
			betLog = append(betLog, betLogRow(s, p, settle(clr), now))
		}
	}

	if len(betLog) > 0 {
		if err := r.ledger.UpsertBetLog(ctx, betLog); err != nil {
			return rep, fmt.Errorf("reconcile.Run: upsert bet log: %w", err)
		}
	}
	if len(pending) > 0 {
		if err := r.ledger.UpsertPendingOrders(ctx, pending); err != nil {
			return rep, fmt.Errorf("reconcile.Run: upsert pending: %w", err)
		}
	}
	rep.BetLogRows = len(betLog)
	rep.PendingOrders = len(pending)

	stored, err := r.ledger.PendingOrders(ctx)
	if err != nil {
		return rep, fmt.Errorf("reconcile.Run: pending orders: %w", err)
	}
	var gone []string
	for _, row := range stored {
		if !keep[row.UniqueID] {
			gone = append(gone, row.UniqueID)
		}
	}
	if len(gone) > 0 {
		if err := r.ledger.DeletePendingOrders(ctx, gone); err != nil {
			return rep, fmt.Errorf("reconcile.Run: delete pending: %w", err)
		}
		rep.PendingDeleted = len(gone)
	}

	slog.Debug("reconcile: done",
		"selections", rep.Selections, "bet_log", rep.BetLogRows,
		"pending", rep.PendingOrders, "pending_deleted", rep.PendingDeleted)
	return rep, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func marketIDs(selections []domain.SelectionState) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range selections {
		if s.MarketID != "" && !seen[s.MarketID] {
			seen[s.MarketID] = true
			ids = append(ids, s.MarketID)
		}
	}
	return ids
}

// owner tells which orders belong to a selection: its entry and early-bird
// refs, plus the cash-out hedges of its runner.
type owner struct {
	key     domain.RunnerKey
	placed  map[domain.StrategyRef]bool
	cashOut domain.StrategyRef
}

func ownership(s domain.SelectionState) owner {
	return owner{
		key: s.Key(),
		placed: map[domain.StrategyRef]bool{
			domain.NewStrategyRef(domain.KindEntry, s.UniqueID):     true,
			domain.NewStrategyRef(domain.KindEarlyBird, s.UniqueID): true,
		},
		cashOut: domain.CashOutRef(s.Key()),
	}
}

func (o owner) placedBy(ref domain.StrategyRef, key domain.RunnerKey) bool {
	return key == o.key && o.placed[ref]
}

func (o owner) hedgedBy(ref domain.StrategyRef, key domain.RunnerKey) bool {
	return key == o.key && ref == o.cashOut
}

func filterCurrent(orders []domain.ExchangeOrder, own owner) []domain.ExchangeOrder {
	var out []domain.ExchangeOrder
	for _, o := range orders {
		if own.placedBy(o.StrategyRef, o.Key()) {
			out = append(out, o)
		}
	}
	return out
}

func filterCleared(rows []domain.ClearedOrder, own owner) []domain.ClearedOrder {
	var out []domain.ClearedOrder
	for _, c := range rows {
		if own.placedBy(c.StrategyRef, c.Key()) || own.hedgedBy(c.StrategyRef, c.Key()) {
			out = append(out, c)
		}
	}
	return out
}

// matchedBet is one bet's matched size and price, however it was reported.
type matchedBet struct {
	size, volume float64
}

// progressOf computes the selection's matching progress from its own bets.
// A settled bet is taken from the cleared rows; otherwise the current order
// view is used. Cash-out hedges do not count as progress.
func progressOf(uniqueID string, current []domain.ExchangeOrder, cleared []domain.ClearedOrder) domain.SelectionProgress {
	p := domain.SelectionProgress{UniqueID: uniqueID}

	bets := make(map[string]*matchedBet)
	var side domain.Side
	for _, c := range cleared {
		if c.StrategyRef.Kind() == domain.KindCashOut {
			continue
		}
		side = c.Side
		b := bets[c.BetID]
		if b == nil {
			b = &matchedBet{}
			bets[c.BetID] = b
		}
		b.size += c.SizeSettled
		b.volume += c.SizeSettled * c.PriceMatched
	}
	for _, o := range current {
		side = o.Side
		if _, settled := bets[o.BetID]; settled {
			continue
		}
		price := o.AveragePriceMatched
		if price <= 1 {
			price = o.Price
		}
		bets[o.BetID] = &matchedBet{size: o.SizeMatched, volume: o.SizeMatched * price}
	}

	var size, volume float64
	for _, b := range bets {
		size += b.size
		volume += b.volume
	}
	p.BetCount = len(bets)
	p.HasBet = p.BetCount > 0
	p.TotalMatched = domain.RoundMoney(size)
	if size > 0 {
		p.AveragePriceMatched = math.Round(volume/size*100) / 100
	}
	switch side {
	case domain.SideLay:
		p.TotalLiability = domain.RoundMoney(volume - size)
	case domain.SideBack:
		p.TotalLiability = p.TotalMatched
	}
	return p
}

func progressChanged(s domain.SelectionState, p domain.SelectionProgress) bool {
	const eps = 0.005
	return math.Abs(s.TotalMatched-p.TotalMatched) > eps ||
		math.Abs(s.AveragePriceMatched-p.AveragePriceMatched) > eps ||
		math.Abs(s.TotalLiability-p.TotalLiability) > eps ||
		s.BetCount != p.BetCount || s.HasBet != p.HasBet
}

// pendingRow aggregates the selection's executable orders, if any.
func pendingRow(s domain.SelectionState, current []domain.ExchangeOrder, now time.Time) (domain.PendingOrderRow, bool) {
	var (
		row     domain.PendingOrderRow
		betIDs  []string
		volume  float64
		latest  time.Time
		present bool
	)
	for _, o := range current {
		if !o.Executable() {
			continue
		}
		present = true
		betIDs = append(betIDs, o.BetID)
		row.Size += o.Size
		row.SizeMatched += o.SizeMatched
		row.SizeRemaining += o.SizeRemaining
		volume += o.SizeMatched * o.AveragePriceMatched
		if row.PlacedDate.IsZero() || o.PlacedDate.Before(row.PlacedDate) {
			row.PlacedDate = o.PlacedDate
		}
		if !o.PlacedDate.Before(latest) {
			latest = o.PlacedDate
			row.Price = o.Price
			row.StrategyRef = o.StrategyRef
		}
	}
	if !present {
		return domain.PendingOrderRow{}, false
	}

	sort.Strings(betIDs)
	row.UniqueID = s.UniqueID
	row.RaceID = s.RaceID
	row.RaceTime = s.RaceTime
	row.HorseID = s.HorseID
	row.HorseName = s.HorseName
	row.Side = s.Side
	row.MarketType = s.MarketType
	row.MarketID = s.MarketID
	row.SelectionID = s.SelectionID
	row.BetIDs = strings.Join(betIDs, ",")
	row.Size = domain.RoundMoney(row.Size)
	row.SizeMatched = domain.RoundMoney(row.SizeMatched)
	row.SizeRemaining = domain.RoundMoney(row.SizeRemaining)
	if row.SizeMatched > 0 {
		row.AveragePriceMatched = math.Round(volume/row.SizeMatched*100) / 100
	}
	row.UpdatedAt = now
	return row, true
}

// settlement is the summed result of the cleared rows of one
// (event, market, selection) group.
type settlement struct {
	eventID    string
	key        domain.RunnerKey
	profit     float64
	commission float64
	outcome    string
	settled    time.Time
}

// settle groups cleared rows by (event, market, selection) in first-seen order.
// The outcome comes from the first row placed by the selection itself.
func settle(rows []domain.ClearedOrder) []settlement {
	type groupKey struct {
		eventID string
		key     domain.RunnerKey
	}
	var (
		order  []groupKey
		groups = make(map[groupKey]*settlement)
	)
	for _, c := range rows {
		k := groupKey{eventID: c.EventID, key: c.Key()}
		g, ok := groups[k]
		if !ok {
			g = &settlement{eventID: c.EventID, key: c.Key()}
			groups[k] = g
			order = append(order, k)
		}
		g.profit += c.Profit
		g.commission += c.Commission
		if g.outcome == "" && c.StrategyRef.Kind() != domain.KindCashOut {
			g.outcome = domain.NormalizeOutcome(c.Outcome)
		}
		if c.SettledDate.After(g.settled) {
			g.settled = c.SettledDate
		}
	}
	out := make([]settlement, 0, len(order))
	for _, k := range order {
		g := groups[k]
		if g.outcome == "" {
			g.outcome = domain.OutcomeVoid
		}
		out = append(out, *g)
	}
	return out
}

func betLogRow(s domain.SelectionState, p domain.SelectionProgress, settled []settlement, now time.Time) domain.BetLogRow {
	row := domain.BetLogRow{
		UniqueID:            s.UniqueID,
		RaceID:              s.RaceID,
		RaceTime:            s.RaceTime,
		HorseID:             s.HorseID,
		HorseName:           s.HorseName,
		Side:                s.Side,
		MarketType:          s.MarketType,
		MarketID:            s.MarketID,
		SelectionID:         s.SelectionID,
		RequestedOdds:       s.RequestedOdds,
		MatchedSize:         p.TotalMatched,
		AveragePriceMatched: p.AveragePriceMatched,
		Outcome:             domain.OutcomeMatched,
		BetCount:            p.BetCount,
		UpdatedAt:           now,
	}
	if len(settled) == 0 {
		return row
	}
	var last time.Time
	for _, g := range settled {
		row.Profit += g.profit
		row.Commission += g.commission
		if g.settled.After(last) {
			last = g.settled
		}
	}
	row.Profit = domain.RoundMoney(row.Profit)
	row.Commission = domain.RoundMoney(row.Commission)
	row.Outcome = settled[0].outcome
	if !last.IsZero() {
		row.SettledDate = &last
	}
	return row
}
