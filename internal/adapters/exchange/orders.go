package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/google/uuid"
)

const (
	orderTypeLimit     = "LIMIT"
	persistenceLapse   = "LAPSE"
	betStatusSettled   = "SETTLED"
	bookBatchSize      = 40
	instructionSuccess = "SUCCESS"
)

// CurrentOrders pages through the current orders of the given markets.
// An empty marketIDs returns the orders of every market.
func (c *Client) CurrentOrders(ctx context.Context, marketIDs []string) ([]domain.ExchangeOrder, error) {
	var all []domain.ExchangeOrder
	req := currentOrdersRequest{MarketIDs: marketIDs, RecordCount: pageSize}
	for {
		var resp currentOrdersResponse
		if err := c.call(ctx, "/orders/current", req, &resp); err != nil {
			return nil, fmt.Errorf("exchange.CurrentOrders: %w", err)
		}
		all = append(all, mapCurrentOrders(resp.Orders)...)
		if !resp.MoreAvailable || len(resp.Orders) == 0 {
			break
		}
		req.FromRecord += len(resp.Orders)
	}
	return all, nil
}

// PastOrders pages through the orders settled between from and to.
func (c *Client) PastOrders(ctx context.Context, from, to time.Time) ([]domain.ClearedOrder, error) {
	var all []domain.ClearedOrder
	req := clearedOrdersRequest{
		BetStatus: betStatusSettled,
		SettledDateRange: dateRange{
			From: from.UTC().Format(time.RFC3339),
			To:   to.UTC().Format(time.RFC3339),
		},
		RecordCount: pageSize,
	}
	for {
		var resp clearedOrdersResponse
		if err := c.call(ctx, "/orders/cleared", req, &resp); err != nil {
			return nil, fmt.Errorf("exchange.PastOrders: %w", err)
		}
		all = append(all, mapClearedOrders(resp.Orders)...)
		if !resp.MoreAvailable || len(resp.Orders) == 0 {
			break
		}
		req.FromRecord += len(resp.Orders)
	}
	return all, nil
}

// PlaceOrder submits one limit order. Each request carries a fresh customer
// ref so the exchange can drop duplicated deliveries of the same request.
func (c *Client) PlaceOrder(ctx context.Context, o domain.Order) (domain.PlaceResult, error) {
	req := placeRequest{
		MarketID:            o.MarketID,
		CustomerRef:         uuid.NewString(),
		CustomerStrategyRef: string(o.StrategyRef),
		Instructions: []placeInstruction{{
			SelectionID: json.Number(o.SelectionID),
			Side:        string(o.Side),
			OrderType:   orderTypeLimit,
			LimitOrder: limitOrder{
				Size:            o.Size,
				Price:           o.Price,
				PersistenceType: persistenceLapse,
			},
		}},
	}

	var resp placeResponse
	if err := c.call(ctx, "/orders/place", req, &resp); err != nil {
		return domain.PlaceResult{}, fmt.Errorf("exchange.PlaceOrder: %w", err)
	}

	res := domain.PlaceResult{Success: resp.Status == statusSuccess, ErrorCode: resp.ErrorCode}
	if len(resp.InstructionReports) > 0 {
		rep := resp.InstructionReports[0]
		res.BetID = rep.BetID
		res.SizeMatched = rep.SizeMatched
		res.AveragePriceMatched = rep.AveragePriceMatched
		if rep.Status != instructionSuccess {
			res.Success = false
		}
		if res.ErrorCode == "" {
			res.ErrorCode = rep.ErrorCode
		}
	}
	return res, nil
}

// CancelOrder cancels the unmatched remainder of one bet.
func (c *Client) CancelOrder(ctx context.Context, betID string) error {
	req := cancelRequest{Instructions: []cancelInstruction{{BetID: betID}}}
	var resp cancelResponse
	if err := c.call(ctx, "/orders/cancel", req, &resp); err != nil {
		return fmt.Errorf("exchange.CancelOrder: %w", err)
	}
	if resp.Status != statusSuccess {
		return fmt.Errorf("exchange.CancelOrder: bet %s: %s", betID, resp.ErrorCode)
	}
	return nil
}

// CancelOrders cancels every unmatched order in each market. It stops at the
// first failing market.
func (c *Client) CancelOrders(ctx context.Context, marketIDs []string) error {
	for _, id := range marketIDs {
		var resp cancelResponse
		if err := c.call(ctx, "/orders/cancel", cancelRequest{MarketID: id}, &resp); err != nil {
			return fmt.Errorf("exchange.CancelOrders: market %s: %w", id, err)
		}
		if resp.Status != statusSuccess {
			return fmt.Errorf("exchange.CancelOrders: market %s: %s", id, resp.ErrorCode)
		}
	}
	return nil
}

// MarketPrices fetches the best offers of each market in batches.
func (c *Client) MarketPrices(ctx context.Context, marketIDs []string) ([]domain.MarketBook, error) {
	var all []domain.MarketBook
	for start := 0; start < len(marketIDs); start += bookBatchSize {
		end := min(start+bookBatchSize, len(marketIDs))
		var resp []marketBook
		if err := c.call(ctx, "/markets/book", bookRequest{MarketIDs: marketIDs[start:end]}, &resp); err != nil {
			return nil, fmt.Errorf("exchange.MarketPrices: %w", err)
		}
		all = append(all, mapMarketBooks(resp)...)
	}
	return all, nil
}
