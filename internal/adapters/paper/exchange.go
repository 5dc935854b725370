package paper

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/google/uuid"
)

// Error codes reported in PlaceResult for rejected orders.
const (
	CodeInvalidOdds    = "INVALID_ODDS"
	CodeInvalidSize    = "INVALID_BET_SIZE"
	CodeMarketNotOpen  = "MARKET_NOT_OPEN"
	CodeRunnerRemoved  = "RUNNER_REMOVED"
	defaultCommission  = 0.05
	marketStatusOpen   = "OPEN"
	marketStatusClosed = "CLOSED"
)

// PriceSource supplies live books. The HTTP exchange client satisfies it.
type PriceSource interface {
	MarketPrices(ctx context.Context, marketIDs []string) ([]domain.MarketBook, error)
}

// Exchange is an in-memory exchange. Orders match against the last known book:
// BACK orders at or below the best back price and LAY orders at or above the
// best lay price are matched against the size available, the rest rests as
// EXECUTABLE until a later book crosses it.
type Exchange struct {
	source     PriceSource
	commission float64
	now        func() time.Time

	mu      sync.Mutex
	books   map[string]domain.MarketBook
	orders  []*domain.ExchangeOrder
	cleared []domain.ClearedOrder
	offline bool
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithPriceSource makes MarketPrices read through to src.
func WithPriceSource(src PriceSource) Option {
	return func(e *Exchange) { e.source = src }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// WithCommission sets the commission rate charged on winning bets.
func WithCommission(rate float64) Option {
	return func(e *Exchange) { e.commission = rate }
}

// New creates an empty paper exchange.
func New(opts ...Option) *Exchange {
	e := &Exchange{
		commission: defaultCommission,
		now:        time.Now,
		books:      make(map[string]domain.MarketBook),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

var (
	_ ports.Exchange = (*Exchange)(nil)
	_ ports.Session  = (*Exchange)(nil)
)

// SetOffline makes every call fail with ports.ErrNetwork until reset.
func (e *Exchange) SetOffline(offline bool) {
	e.mu.Lock()
	e.offline = offline
	e.mu.Unlock()
}

// SetBook replaces the book of a market and matches resting orders against it.
func (e *Exchange) SetBook(book domain.MarketBook) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setBookLocked(book)
}

func (e *Exchange) setBookLocked(book domain.MarketBook) {
	if book.Status == "" {
		book.Status = marketStatusOpen
	}
	book.Runners = slices.Clone(book.Runners)
	for i := range book.Runners {
		book.Runners[i].MarketID = book.MarketID
	}
	e.books[book.MarketID] = book
	for _, o := range e.orders {
		if o.MarketID == book.MarketID && o.Executable() {
			e.match(o, book)
		}
	}
}

func (e *Exchange) checkOnline() error {
	if e.offline {
		return fmt.Errorf("paper: %w", ports.ErrNetwork)
	}
	return nil
}

// --- ports.Session ---

func (e *Exchange) Login(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkOnline()
}

func (e *Exchange) Logout(context.Context) error { return nil }

func (e *Exchange) Ping(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkOnline()
}

// --- ports.Exchange ---

// CurrentOrders returns copies of the orders in the given markets, every
// market when marketIDs is empty.
func (e *Exchange) CurrentOrders(_ context.Context, marketIDs []string) ([]domain.ExchangeOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return nil, err
	}
	var out []domain.ExchangeOrder
	for _, o := range e.orders {
		if len(marketIDs) == 0 || slices.Contains(marketIDs, o.MarketID) {
			out = append(out, *o)
		}
	}
	return out, nil
}

// PastOrders returns settled rows whose settlement falls in [from, to].
func (e *Exchange) PastOrders(_ context.Context, from, to time.Time) ([]domain.ClearedOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return nil, err
	}
	var out []domain.ClearedOrder
	for _, c := range e.cleared {
		if !c.SettledDate.Before(from) && !c.SettledDate.After(to) {
			out = append(out, c)
		}
	}
	return out, nil
}

// PlaceOrder accepts a limit order and matches what it can immediately.
func (e *Exchange) PlaceOrder(ctx context.Context, o domain.Order) (domain.PlaceResult, error) {
	book, err := e.bookFor(ctx, o.MarketID)
	if err != nil {
		return domain.PlaceResult{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return domain.PlaceResult{}, err
	}

	switch {
	case !domain.StandardLadder.IsValid(o.Price):
		return domain.PlaceResult{ErrorCode: CodeInvalidOdds}, nil
	case o.Size <= 0:
		return domain.PlaceResult{ErrorCode: CodeInvalidSize}, nil
	case book.Status != marketStatusOpen:
		return domain.PlaceResult{ErrorCode: CodeMarketNotOpen}, nil
	}
	if r, ok := book.Runner(o.SelectionID); ok && r.Status == domain.RunnerRemoved {
		return domain.PlaceResult{ErrorCode: CodeRunnerRemoved}, nil
	}

	placed := &domain.ExchangeOrder{
		BetID:         uuid.NewString(),
		EventID:       book.MarketID,
		MarketID:      o.MarketID,
		SelectionID:   o.SelectionID,
		Side:          o.Side,
		Price:         o.Price,
		Size:          o.Size,
		SizeRemaining: o.Size,
		Status:        domain.StatusExecutable,
		PlacedDate:    e.now().UTC(),
		StrategyRef:   o.StrategyRef,
	}
	e.match(placed, book)
	e.orders = append(e.orders, placed)

	slog.Debug("paper: order placed",
		"bet_id", placed.BetID,
		"market", o.MarketID,
		"selection", o.SelectionID,
		"side", o.Side,
		"price", o.Price,
		"size", fmt.Sprintf("£%.2f", o.Size),
		"matched", fmt.Sprintf("£%.2f", placed.SizeMatched),
	)
	return domain.PlaceResult{
		Success:             true,
		BetID:               placed.BetID,
		SizeMatched:         placed.SizeMatched,
		AveragePriceMatched: placed.AveragePriceMatched,
	}, nil
}

// CancelOrder lapses the unmatched part of a bet. Bets with nothing matched
// disappear from the current orders.
func (e *Exchange) CancelOrder(_ context.Context, betID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return err
	}
	for i, o := range e.orders {
		if o.BetID != betID {
			continue
		}
		if !o.Executable() {
			return fmt.Errorf("paper.CancelOrder: bet %s is not executable", betID)
		}
		e.cancelAt(i)
		return nil
	}
	return fmt.Errorf("paper.CancelOrder: bet %s: %w", betID, ports.ErrNotFound)
}

// CancelOrders cancels every executable order in the given markets.
func (e *Exchange) CancelOrders(_ context.Context, marketIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return err
	}
	for i := len(e.orders) - 1; i >= 0; i-- {
		o := e.orders[i]
		if o.Executable() && slices.Contains(marketIDs, o.MarketID) {
			e.cancelAt(i)
		}
	}
	return nil
}

func (e *Exchange) cancelAt(i int) {
	o := e.orders[i]
	if o.SizeMatched == 0 {
		e.orders = slices.Delete(e.orders, i, i+1)
		return
	}
	o.SizeRemaining = 0
	o.Status = domain.StatusExecutionComplete
}

// MarketPrices returns the known books. With a price source, books are fetched
// from it first and resting orders are matched against them.
func (e *Exchange) MarketPrices(ctx context.Context, marketIDs []string) ([]domain.MarketBook, error) {
	if e.source != nil {
		books, err := e.source.MarketPrices(ctx, marketIDs)
		if err != nil {
			return nil, err
		}
		e.mu.Lock()
		for _, b := range books {
			e.setBookLocked(b)
		}
		e.mu.Unlock()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkOnline(); err != nil {
		return nil, err
	}
	out := make([]domain.MarketBook, 0, len(marketIDs))
	for _, id := range marketIDs {
		if b, ok := e.books[id]; ok {
			out = append(out, b)
		}
	}
	return out, nil
}

// Settle closes a market: executable remainders lapse and matched bets move to
// the cleared history with their profit. Runners in winners count as won.
func (e *Exchange) Settle(marketID string, winners ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	at := e.now().UTC()
	kept := e.orders[:0]
	for _, o := range e.orders {
		if o.MarketID != marketID {
			kept = append(kept, o)
			continue
		}
		if o.SizeMatched == 0 {
			continue
		}
		won := slices.Contains(winners, o.SelectionID)
		e.cleared = append(e.cleared, e.clear(*o, won, at))
	}
	e.orders = kept

	if b, ok := e.books[marketID]; ok {
		b.Status = marketStatusClosed
		e.books[marketID] = b
	}
}

func (e *Exchange) clear(o domain.ExchangeOrder, runnerWon bool, at time.Time) domain.ClearedOrder {
	price := o.AveragePriceMatched
	if price <= 1 {
		price = o.Price
	}
	var profit float64
	switch {
	case o.Side == domain.SideBack && runnerWon:
		profit = o.SizeMatched * (price - 1)
	case o.Side == domain.SideBack:
		profit = -o.SizeMatched
	case runnerWon:
		profit = -o.SizeMatched * (price - 1)
	default:
		profit = o.SizeMatched
	}

	outcome := domain.OutcomeLost
	var commission float64
	if profit > 0 {
		outcome = domain.OutcomeWon
		commission = domain.RoundMoney(profit * e.commission)
	}
	return domain.ClearedOrder{
		BetID:        o.BetID,
		EventID:      o.EventID,
		MarketID:     o.MarketID,
		SelectionID:  o.SelectionID,
		Side:         o.Side,
		PriceMatched: price,
		SizeSettled:  o.SizeMatched,
		Profit:       domain.RoundMoney(profit),
		Commission:   commission,
		Outcome:      outcome,
		PlacedDate:   o.PlacedDate,
		SettledDate:  at,
		StrategyRef:  o.StrategyRef,
	}
}

func (e *Exchange) bookFor(ctx context.Context, marketID string) (domain.MarketBook, error) {
	e.mu.Lock()
	b, ok := e.books[marketID]
	e.mu.Unlock()
	if ok || e.source == nil {
		if !ok {
			b = domain.MarketBook{MarketID: marketID, Status: marketStatusClosed}
		}
		return b, nil
	}
	books, err := e.MarketPrices(ctx, []string{marketID})
	if err != nil {
		return domain.MarketBook{}, fmt.Errorf("paper.PlaceOrder: fetch book: %w", err)
	}
	if len(books) == 0 {
		return domain.MarketBook{MarketID: marketID, Status: marketStatusClosed}, nil
	}
	return books[0], nil
}

// match fills o against the crossing levels of book. Size taken from a level
// is not removed from the book.
func (e *Exchange) match(o *domain.ExchangeOrder, book domain.MarketBook) {
	if book.Status != marketStatusOpen || o.SizeRemaining <= 0 {
		return
	}
	r, ok := book.Runner(o.SelectionID)
	if !ok || r.Status == domain.RunnerRemoved {
		return
	}

	levels := r.Backs
	crosses := func(p float64) bool { return p >= o.Price }
	if o.Side == domain.SideLay {
		levels = r.Lays
		crosses = func(p float64) bool { return p <= o.Price }
	}

	var filled float64
	for _, l := range levels {
		if !crosses(l.Price) || filled >= o.SizeRemaining {
			break
		}
		filled += min(l.Size, o.SizeRemaining-filled)
	}
	filled = domain.TruncateMoney(filled)
	if filled <= 0 {
		return
	}

	// fills are recorded at the order price
	totalMatched := o.SizeMatched + filled
	o.AveragePriceMatched = (o.SizeMatched*o.AveragePriceMatched + filled*o.Price) / totalMatched
	o.SizeMatched = domain.RoundMoney(totalMatched)
	o.SizeRemaining = domain.RoundMoney(o.Size - o.SizeMatched)
	if o.SizeRemaining <= 0 {
		o.SizeRemaining = 0
		o.Status = domain.StatusExecutionComplete
	}
}
