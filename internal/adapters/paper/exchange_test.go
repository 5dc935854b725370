package paper_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/racebot/internal/adapters/paper"
	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func book(back, lay, size float64) domain.MarketBook {
	return domain.MarketBook{
		MarketID: "1.100",
		Runners: []domain.RunnerPrice{
			{
				SelectionID: "101",
				Status:      domain.RunnerActive,
				Backs:       []domain.PriceSize{{Price: back, Size: size}},
				Lays:        []domain.PriceSize{{Price: lay, Size: size}},
			},
			{SelectionID: "102", Status: domain.RunnerRemoved, LastPriceTraded: 9},
		},
	}
}

func newExchange() *paper.Exchange {
	return paper.New(paper.WithClock(func() time.Time { return t0 }))
}

func TestPlaceOrder_BackMatchesAtOrBelowBestBack(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(3.5, 3.6, 100))

	res, err := ex.PlaceOrder(context.Background(), domain.Order{
		MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 10, Price: 3.5, StrategyRef: "rbE-0123456789a",
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.NotEmpty(t, res.BetID)
	assert.InDelta(t, 10, res.SizeMatched, 0.001)

	orders, err := ex.CurrentOrders(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.StatusExecutionComplete, orders[0].Status)
	assert.Equal(t, t0, orders[0].PlacedDate)
	assert.Equal(t, domain.StrategyRef("rbE-0123456789a"), orders[0].StrategyRef)
}

func TestPlaceOrder_BackAboveBestRests(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(3.5, 3.6, 100))

	res, err := ex.PlaceOrder(context.Background(), domain.Order{
		MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 10, Price: 4.0,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, res.SizeMatched)

	orders, _ := ex.CurrentOrders(context.Background(), []string{"1.100"})
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Executable())
	assert.InDelta(t, 10, orders[0].SizeRemaining, 0.001)

	// the market drifts out and crosses the resting order
	ex.SetBook(book(4.1, 4.2, 100))
	orders, _ = ex.CurrentOrders(context.Background(), nil)
	assert.False(t, orders[0].Executable())
	assert.InDelta(t, 10, orders[0].SizeMatched, 0.001)
	assert.InDelta(t, 4.0, orders[0].AveragePriceMatched, 0.001)
}

func TestPlaceOrder_LayPartialMatch(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(2.48, 2.5, 4))

	res, err := ex.PlaceOrder(context.Background(), domain.Order{
		MarketID: "1.100", SelectionID: "101", Side: domain.SideLay, Size: 13.33, Price: 2.5,
	})
	require.NoError(t, err)
	assert.InDelta(t, 4, res.SizeMatched, 0.001)

	orders, _ := ex.CurrentOrders(context.Background(), nil)
	require.Len(t, orders, 1)
	assert.True(t, orders[0].Executable())
	assert.InDelta(t, 9.33, orders[0].SizeRemaining, 0.001)
}

func TestPlaceOrder_Rejections(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(3.5, 3.6, 100))
	ctx := context.Background()

	cases := []struct {
		name  string
		order domain.Order
		code  string
	}{
		{"off ladder", domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 2, Price: 3.03}, paper.CodeInvalidOdds},
		{"zero size", domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 0, Price: 3.0}, paper.CodeInvalidSize},
		{"unknown market", domain.Order{MarketID: "1.999", SelectionID: "101", Side: domain.SideBack, Size: 2, Price: 3.0}, paper.CodeMarketNotOpen},
		{"removed runner", domain.Order{MarketID: "1.100", SelectionID: "102", Side: domain.SideBack, Size: 2, Price: 3.0}, paper.CodeRunnerRemoved},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := ex.PlaceOrder(ctx, tc.order)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.code, res.ErrorCode)
		})
	}
}

func TestCancelOrder(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(2.48, 2.5, 4))
	ctx := context.Background()

	partial, _ := ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideLay, Size: 10, Price: 2.5})
	unmatched, _ := ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 5, Price: 10})

	require.NoError(t, ex.CancelOrder(ctx, unmatched.BetID))
	require.NoError(t, ex.CancelOrder(ctx, partial.BetID))

	orders, _ := ex.CurrentOrders(ctx, nil)
	require.Len(t, orders, 1, "unmatched bet disappears")
	assert.Equal(t, partial.BetID, orders[0].BetID)
	assert.False(t, orders[0].Executable())
	assert.InDelta(t, 4, orders[0].SizeMatched, 0.001)

	err := ex.CancelOrder(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestCancelOrders_ByMarket(t *testing.T) {
	ex := newExchange()
	ex.SetBook(book(3.5, 3.6, 100))
	other := book(3.5, 3.6, 100)
	other.MarketID = "1.200"
	ex.SetBook(other)
	ctx := context.Background()

	_, _ = ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 5, Price: 10})
	_, _ = ex.PlaceOrder(ctx, domain.Order{MarketID: "1.200", SelectionID: "101", Side: domain.SideBack, Size: 5, Price: 10})

	require.NoError(t, ex.CancelOrders(ctx, []string{"1.100"}))
	orders, _ := ex.CurrentOrders(ctx, nil)
	require.Len(t, orders, 1)
	assert.Equal(t, "1.200", orders[0].MarketID)
}

func TestSettle_MovesMatchedBetsToHistory(t *testing.T) {
	ex := paper.New(paper.WithClock(func() time.Time { return t0 }), paper.WithCommission(0.05))
	ex.SetBook(book(4.0, 4.1, 100))
	ctx := context.Background()

	_, _ = ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 10, Price: 4.0})
	_, _ = ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideLay, Size: 5, Price: 4.1})
	_, _ = ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 5, Price: 20})

	ex.Settle("1.100", "101")

	orders, _ := ex.CurrentOrders(ctx, nil)
	assert.Empty(t, orders)

	cleared, err := ex.PastOrders(ctx, t0.Add(-time.Hour), t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, cleared, 2, "the unmatched bet lapses")

	assert.Equal(t, domain.OutcomeWon, cleared[0].Outcome)
	assert.InDelta(t, 30, cleared[0].Profit, 0.001)
	assert.InDelta(t, 1.5, cleared[0].Commission, 0.001)

	assert.Equal(t, domain.OutcomeLost, cleared[1].Outcome)
	assert.InDelta(t, -15.5, cleared[1].Profit, 0.001)
	assert.Zero(t, cleared[1].Commission)

	outside, _ := ex.PastOrders(ctx, t0.Add(time.Hour), t0.Add(2*time.Hour))
	assert.Empty(t, outside)

	res, _ := ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 2, Price: 4})
	assert.Equal(t, paper.CodeMarketNotOpen, res.ErrorCode)
}

type stubSource struct {
	calls int
	books []domain.MarketBook
}

func (s *stubSource) MarketPrices(_ context.Context, ids []string) ([]domain.MarketBook, error) {
	s.calls++
	return s.books, nil
}

func TestMarketPrices_ReadsThroughSource(t *testing.T) {
	src := &stubSource{books: []domain.MarketBook{book(3.0, 3.05, 50)}}
	ex := paper.New(paper.WithPriceSource(src))
	ctx := context.Background()

	res, err := ex.PlaceOrder(ctx, domain.Order{MarketID: "1.100", SelectionID: "101", Side: domain.SideBack, Size: 5, Price: 3.0})
	require.NoError(t, err)
	assert.True(t, res.Success, "book fetched on demand")
	assert.Equal(t, 1, src.calls)

	books, err := ex.MarketPrices(ctx, []string{"1.100"})
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "1.100", books[0].Runners[0].MarketID)
	assert.Equal(t, 2, src.calls)
}

func TestOffline_ReturnsNetworkError(t *testing.T) {
	ex := newExchange()
	ex.SetOffline(true)
	ctx := context.Background()

	assert.ErrorIs(t, ex.Ping(ctx), ports.ErrNetwork)
	_, err := ex.CurrentOrders(ctx, nil)
	assert.True(t, errors.Is(err, ports.ErrNetwork))

	ex.SetOffline(false)
	assert.NoError(t, ex.Ping(ctx))
}
