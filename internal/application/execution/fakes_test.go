package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
)

type fakeExchange struct {
	mu sync.Mutex

	current []domain.ExchangeOrder
	books   []domain.MarketBook

	// afterCancel replaces current once CancelOrder or CancelOrders is called
	afterCancel []domain.ExchangeOrder

	placeErrFor map[string]error // by selection id
	rejectFor   map[string]string
	matchAll    bool

	placed           []domain.Order
	cancelled        []string
	cancelledMarkets [][]string
	cancelErr        error
}

func (f *fakeExchange) CurrentOrders(_ context.Context, _ []string) ([]domain.ExchangeOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ExchangeOrder(nil), f.current...), nil
}

func (f *fakeExchange) PastOrders(context.Context, time.Time, time.Time) ([]domain.ClearedOrder, error) {
	return nil, nil
}

func (f *fakeExchange) PlaceOrder(_ context.Context, o domain.Order) (domain.PlaceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.placeErrFor[o.SelectionID]; err != nil {
		return domain.PlaceResult{}, err
	}
	if code, ok := f.rejectFor[o.SelectionID]; ok {
		return domain.PlaceResult{ErrorCode: code}, nil
	}
	f.placed = append(f.placed, o)
	r := domain.PlaceResult{Success: true, BetID: fmt.Sprintf("bet-%d", len(f.placed))}
	if f.matchAll {
		r.SizeMatched = o.Size
		r.AveragePriceMatched = o.Price
	}
	return r, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, betID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, betID)
	if f.afterCancel != nil {
		f.current = f.afterCancel
	}
	return nil
}

func (f *fakeExchange) CancelOrders(_ context.Context, marketIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelledMarkets = append(f.cancelledMarkets, marketIDs)
	if f.afterCancel != nil {
		f.current = f.afterCancel
	}
	return nil
}

func (f *fakeExchange) MarketPrices(context.Context, []string) ([]domain.MarketBook, error) {
	return f.books, nil
}

type fakeStore struct {
	invalidated []domain.Invalidation
	raceTimes   map[string]time.Time
}

func (s *fakeStore) FetchSelections(context.Context, domain.SelectionFilter) ([]domain.SelectionState, error) {
	return nil, nil
}

func (s *fakeStore) InvalidateSelection(_ context.Context, inv domain.Invalidation) error {
	s.invalidated = append(s.invalidated, inv)
	return nil
}

func (s *fakeStore) UpdateSelectionProgress(context.Context, domain.SelectionProgress) error {
	return nil
}

func (s *fakeStore) RaceTimes(context.Context, []string) (map[string]time.Time, error) {
	return s.raceTimes, nil
}

func (s *fakeStore) LatestRaceTime(context.Context, time.Time) (time.Time, error) {
	return time.Time{}, ports.ErrNotFound
}

type countingMetrics struct {
	ports.NopMetrics
	placed    map[domain.StrategyKind]int
	cancelled map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{placed: map[domain.StrategyKind]int{}, cancelled: map[string]int{}}
}

func (m *countingMetrics) OrderPlaced(k domain.StrategyKind) { m.placed[k]++ }
func (m *countingMetrics) OrderCancelled(r string)          { m.cancelled[r]++ }
