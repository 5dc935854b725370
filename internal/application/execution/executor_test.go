package execution

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(ex *fakeExchange, store *fakeStore, m ports.Metrics) *Executor {
	return NewExecutor(ex, store, m,
		domain.Failsafe{MaxStakePerSelection: 100, MaxLiabilityPerSelection: 300, Epsilon: 0.01},
		domain.CashOutCalculator{MinStake: 1},
	)
}

func entry(uniqueID, selectionID string, side domain.Side, size, price float64) domain.OrderWithState {
	return domain.OrderWithState{
		Order: domain.Order{
			MarketID:    "1.100",
			SelectionID: selectionID,
			Side:        side,
			Size:        size,
			Price:       price,
			StrategyRef: domain.NewStrategyRef(domain.KindEntry, uniqueID),
		},
		UniqueID:         uniqueID,
		WithinStakeLimit: true,
		TargetStake:      size,
	}
}

func TestExecute_PlacesOrdinaryThenEarlyBird(t *testing.T) {
	ex := &fakeExchange{matchAll: true}
	m := newCountingMetrics()
	eb := entry("sel-2", "8", domain.SideBack, 2, 5.0)
	eb.Order.StrategyRef = domain.NewStrategyRef(domain.KindEarlyBird, "sel-2")

	st, err := newTestExecutor(ex, &fakeStore{}, m).Execute(context.Background(), domain.DecisionResult{
		Orders:    []domain.OrderWithState{entry("sel-1", "7", domain.SideBack, 10, 3.5)},
		EarlyBird: []domain.OrderWithState{eb},
	})

	require.NoError(t, err)
	assert.Equal(t, 2, st.Placed)
	assert.Equal(t, 2, st.Matched)
	require.Len(t, ex.placed, 2)
	assert.Equal(t, "7", ex.placed[0].SelectionID)
	assert.Equal(t, "8", ex.placed[1].SelectionID)
	assert.Equal(t, 1, m.placed[domain.KindEntry])
	assert.Equal(t, 1, m.placed[domain.KindEarlyBird])
}

func TestExecute_SkipsIdenticalRestingOrder(t *testing.T) {
	o := entry("sel-1", "7", domain.SideBack, 10, 3.5)
	ex := &fakeExchange{current: []domain.ExchangeOrder{{
		BetID: "b1", MarketID: "1.100", SelectionID: "7", Side: domain.SideBack,
		Price: 3.5, Size: 10, SizeRemaining: 10,
		Status: domain.StatusExecutable, StrategyRef: o.Order.StrategyRef,
	}}}

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{o},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Skipped)
	assert.Empty(t, ex.placed)
}

func TestExecute_ResizesEntryAtNewPrice(t *testing.T) {
	o := entry("sel-1", "7", domain.SideBack, 10, 3.6)
	ex := &fakeExchange{current: []domain.ExchangeOrder{{
		BetID: "b1", MarketID: "1.100", SelectionID: "7", Price: 3.5, Size: 10, SizeRemaining: 10,
		Status: domain.StatusExecutable, StrategyRef: o.Order.StrategyRef,
	}, {
		BetID: "b0", MarketID: "1.100", SelectionID: "7", Price: 3.6,
		Status: domain.StatusExecutionComplete, StrategyRef: o.Order.StrategyRef,
	}}}
	m := newCountingMetrics()

	st, err := newTestExecutor(ex, &fakeStore{}, m).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{o},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ex.cancelled, "the old price is withdrawn first")
	assert.Equal(t, 1, st.Resized)
	assert.Equal(t, 1, m.cancelled["resize"])
	assert.Equal(t, 1, st.Placed)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, 3.6, ex.placed[0].Price)
	assert.InDelta(t, 10, ex.placed[0].Size, 0.0001, "one live order carries the stake")
}

func TestExecute_NoPlacementWhenResizeCancelFails(t *testing.T) {
	o := entry("sel-1", "7", domain.SideBack, 10, 3.6)
	ex := &fakeExchange{
		current: []domain.ExchangeOrder{{
			BetID: "b1", MarketID: "1.100", SelectionID: "7", Price: 3.5, SizeRemaining: 10,
			Status: domain.StatusExecutable, StrategyRef: o.Order.StrategyRef,
		}},
		cancelErr: errors.New("BET_TAKEN_OR_LAPSED"),
	}

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{o},
	})
	require.NoError(t, err)
	assert.Empty(t, ex.placed)
	assert.Equal(t, 0, st.Resized)
}

func TestExecute_EarlyBirdLadderNotResized(t *testing.T) {
	eb := entry("sel-1", "7", domain.SideBack, 2, 3.1)
	eb.Order.StrategyRef = domain.NewStrategyRef(domain.KindEarlyBird, "sel-1")
	ex := &fakeExchange{current: []domain.ExchangeOrder{{
		BetID: "b1", MarketID: "1.100", SelectionID: "7", Price: 3.05, SizeRemaining: 2,
		Status: domain.StatusExecutable, StrategyRef: eb.Order.StrategyRef,
	}}}

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		EarlyBird: []domain.OrderWithState{eb},
	})
	require.NoError(t, err)
	assert.Empty(t, ex.cancelled)
	assert.Equal(t, 1, st.Placed)
}

func TestExecute_DuplicateWithinBatchSkipped(t *testing.T) {
	ex := &fakeExchange{}
	o := entry("sel-1", "7", domain.SideBack, 10, 3.5)

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{o, o},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Placed)
	assert.Equal(t, 1, st.Skipped)
}

func TestExecute_FailsafeRecheckRefuses(t *testing.T) {
	ex := &fakeExchange{}
	flagged := entry("sel-1", "7", domain.SideBack, 10, 3.5)
	flagged.WithinStakeLimit = false
	huge := entry("sel-2", "8", domain.SideLay, 200, 3.0) // liability 400

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{flagged, huge},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Refused)
	assert.Empty(t, ex.placed)
}

func TestExecute_PerOrderFailureDoesNotAbort(t *testing.T) {
	ex := &fakeExchange{
		placeErrFor: map[string]error{"7": errors.New("INVALID_ODDS")},
		rejectFor:   map[string]string{"8": "INSUFFICIENT_FUNDS"},
	}
	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{
			entry("sel-1", "7", domain.SideBack, 10, 3.5),
			entry("sel-2", "8", domain.SideBack, 10, 4.0),
			entry("sel-3", "9", domain.SideBack, 10, 5.0),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, st.Failed)
	assert.Equal(t, 1, st.Placed)
	require.Len(t, ex.placed, 1)
	assert.Equal(t, "9", ex.placed[0].SelectionID)
}

func TestExecute_NetworkErrorAborts(t *testing.T) {
	ex := &fakeExchange{
		placeErrFor: map[string]error{"7": fmt.Errorf("dial: %w", ports.ErrNetwork)},
	}
	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		Orders: []domain.OrderWithState{
			entry("sel-1", "7", domain.SideBack, 10, 3.5),
			entry("sel-3", "9", domain.SideBack, 10, 5.0),
		},
	})
	require.ErrorIs(t, err, ports.ErrNetwork)
	assert.Equal(t, 1, st.Failed)
	assert.Empty(t, ex.placed)
}

func TestExecute_PersistsInvalidations(t *testing.T) {
	store := &fakeStore{}
	st, err := newTestExecutor(&fakeExchange{}, store, nil).Execute(context.Background(), domain.DecisionResult{
		Invalidations: []domain.Invalidation{{UniqueID: "sel-1", MarketID: "1.100", Reason: "place terms changed"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, st.Invalidated)
	require.Len(t, store.invalidated, 1)
	assert.Equal(t, "sel-1", store.invalidated[0].UniqueID)
}

func TestExecute_CashOutHedgesMatchedPosition(t *testing.T) {
	ref := domain.NewStrategyRef(domain.KindEntry, "sel-1")
	ex := &fakeExchange{
		current: []domain.ExchangeOrder{{
			BetID: "b1", MarketID: "1.100", SelectionID: "7", Side: domain.SideLay,
			Price: 2.5, Size: 20, SizeMatched: 15, SizeRemaining: 5, AveragePriceMatched: 2.5,
			Status: domain.StatusExecutable, StrategyRef: ref,
		}},
		afterCancel: []domain.ExchangeOrder{{
			BetID: "b1", MarketID: "1.100", SelectionID: "7", Side: domain.SideLay,
			Price: 2.5, Size: 20, SizeMatched: 15, AveragePriceMatched: 2.5,
			Status: domain.StatusExecutionComplete, StrategyRef: ref,
		}},
		books: []domain.MarketBook{{
			MarketID: "1.100",
			Runners: []domain.RunnerPrice{{
				SelectionID: "7", Status: domain.RunnerActive,
				Backs: []domain.PriceSize{{Price: 3.0, Size: 50}},
				Lays:  []domain.PriceSize{{Price: 3.05, Size: 50}},
			}},
		}},
	}
	m := newCountingMetrics()

	st, err := newTestExecutor(ex, &fakeStore{}, m).Execute(context.Background(), domain.DecisionResult{
		Invalidations:    []domain.Invalidation{{UniqueID: "sel-1", MarketID: "1.100", Reason: "field dropped"}},
		CashOutMarketIDs: []string{"1.100"},
		CashOuts:         []domain.CashOut{{UniqueID: "sel-1", Key: domain.RunnerKey{MarketID: "1.100", SelectionID: "7"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"b1"}, ex.cancelled)
	assert.Empty(t, ex.cancelledMarkets, "never cancels a whole market")
	assert.Equal(t, 1, m.cancelled["cash_out"])
	require.Len(t, ex.placed, 1)
	h := ex.placed[0]
	assert.Equal(t, domain.SideBack, h.Side)
	assert.Equal(t, 3.0, h.Price)
	assert.InDelta(t, 12.5, h.Size, 0.0001)
	assert.Equal(t, domain.CashOutRef(domain.RunnerKey{MarketID: "1.100", SelectionID: "7"}), h.StrategyRef)
	assert.Equal(t, 1, st.CashOutOrders)
	assert.Equal(t, 1, m.placed[domain.KindCashOut])
}

func TestExecute_CashOutLeavesOtherBetsAlone(t *testing.T) {
	refA := domain.NewStrategyRef(domain.KindEntry, "sel-a")
	refB := domain.NewStrategyRef(domain.KindEntry, "sel-b")
	orders := []domain.ExchangeOrder{
		{BetID: "a1", MarketID: "1.100", SelectionID: "7", Side: domain.SideBack, Price: 4.0,
			Size: 10, SizeMatched: 10, AveragePriceMatched: 4.0,
			Status: domain.StatusExecutionComplete, StrategyRef: refA},
		{BetID: "a2", MarketID: "1.100", SelectionID: "7", Side: domain.SideBack, Price: 4.2,
			Size: 5, SizeRemaining: 5, Status: domain.StatusExecutable, StrategyRef: refA},
		{BetID: "b1", MarketID: "1.100", SelectionID: "8", Side: domain.SideBack, Price: 6.0,
			Size: 10, SizeMatched: 4, SizeRemaining: 6, AveragePriceMatched: 6.0,
			Status: domain.StatusExecutable, StrategyRef: refB},
		{BetID: "m1", MarketID: "1.100", SelectionID: "7", Side: domain.SideBack, Price: 4.0,
			Size: 20, SizeMatched: 20, AveragePriceMatched: 4.0,
			Status: domain.StatusExecutionComplete, StrategyRef: "my own punt"},
		// a reference of selection A on another runner is not A's position
		{BetID: "x1", MarketID: "1.100", SelectionID: "9", Side: domain.SideBack, Price: 5.0,
			Size: 3, SizeMatched: 3, AveragePriceMatched: 5.0,
			Status: domain.StatusExecutionComplete, StrategyRef: refA},
	}
	runner := func(id string) domain.RunnerPrice {
		return domain.RunnerPrice{
			SelectionID: id, Status: domain.RunnerActive,
			Backs: []domain.PriceSize{{Price: 3.9, Size: 100}},
			Lays:  []domain.PriceSize{{Price: 4.0, Size: 100}},
		}
	}
	ex := &fakeExchange{
		current: orders,
		books:   []domain.MarketBook{{MarketID: "1.100", Runners: []domain.RunnerPrice{runner("7"), runner("8"), runner("9")}}},
	}

	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		CashOutMarketIDs: []string{"1.100"},
		CashOuts:         []domain.CashOut{{UniqueID: "sel-a", Key: domain.RunnerKey{MarketID: "1.100", SelectionID: "7"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"a2"}, ex.cancelled)
	require.Len(t, ex.placed, 1)
	h := ex.placed[0]
	assert.Equal(t, "7", h.SelectionID)
	assert.Equal(t, domain.SideLay, h.Side)
	assert.Equal(t, 4.0, h.Price)
	assert.InDelta(t, 10, h.Size, 0.0001, "hedges the automated 10, not the manual 20")
	assert.Equal(t, 1, st.CashOutOrders)
}

func TestExecute_CashOutWithoutMatchedBets(t *testing.T) {
	ex := &fakeExchange{}
	st, err := newTestExecutor(ex, &fakeStore{}, nil).Execute(context.Background(), domain.DecisionResult{
		CashOutMarketIDs: []string{"1.100"},
		CashOuts:         []domain.CashOut{{UniqueID: "sel-1", Key: domain.RunnerKey{MarketID: "1.100", SelectionID: "7"}}},
	})
	require.NoError(t, err)
	assert.Empty(t, ex.cancelled)
	assert.Empty(t, ex.placed)
	assert.Equal(t, 0, st.CashOutOrders)
}
