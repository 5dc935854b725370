package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// Exchange is what the trading core needs from a betting exchange.
// Implementations wrap transport failures in ErrNetwork.
type Exchange interface {
	// CurrentOrders returns executable and recently completed orders.
	// An empty marketIDs means every market.
	CurrentOrders(ctx context.Context, marketIDs []string) ([]domain.ExchangeOrder, error)

	// PastOrders returns settled orders placed between from and to.
	PastOrders(ctx context.Context, from, to time.Time) ([]domain.ClearedOrder, error)

	// PlaceOrder submits a limit order. A rejected order is reported through
	// PlaceResult.Success, not as an error.
	PlaceOrder(ctx context.Context, order domain.Order) (domain.PlaceResult, error)

	// CancelOrder cancels the unmatched part of one order.
	CancelOrder(ctx context.Context, betID string) error

	// CancelOrders cancels every unmatched order in the given markets.
	CancelOrders(ctx context.Context, marketIDs []string) error

	// MarketPrices returns the current book of each market.
	MarketPrices(ctx context.Context, marketIDs []string) ([]domain.MarketBook, error)
}

// Session manages the authenticated exchange session.
type Session interface {
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	// Ping is a cheap authenticated round trip, used to probe connectivity.
	Ping(ctx context.Context) error
}
