package exchange

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// mapCurrentOrders converts exchange DTOs to domain orders. Rows with an
// unknown side are dropped.
func mapCurrentOrders(raw []currentOrder) []domain.ExchangeOrder {
	out := make([]domain.ExchangeOrder, 0, len(raw))
	for _, r := range raw {
		side, err := domain.ParseSide(r.Side)
		if err != nil {
			slog.Warn("exchange: skipping current order", "bet_id", r.BetID, "err", err)
			continue
		}
		out = append(out, domain.ExchangeOrder{
			BetID:               r.BetID,
			EventID:             r.EventID,
			MarketID:            r.MarketID,
			SelectionID:         r.SelectionID.String(),
			Side:                side,
			Price:               r.PriceSize.Price,
			Size:                r.PriceSize.Size,
			SizeMatched:         r.SizeMatched,
			SizeRemaining:       r.SizeRemaining,
			AveragePriceMatched: r.AveragePriceMatched,
			Status:              domain.ExecutionStatus(r.Status),
			PlacedDate:          parseTime(r.PlacedDate),
			StrategyRef:         domain.StrategyRef(r.CustomerStrategyRef),
		})
	}
	return out
}

// mapClearedOrders converts settled-order DTOs to domain rows.
func mapClearedOrders(raw []clearedOrder) []domain.ClearedOrder {
	out := make([]domain.ClearedOrder, 0, len(raw))
	for _, r := range raw {
		side, err := domain.ParseSide(r.Side)
		if err != nil {
			slog.Warn("exchange: skipping cleared order", "bet_id", r.BetID, "err", err)
			continue
		}
		out = append(out, domain.ClearedOrder{
			BetID:        r.BetID,
			EventID:      r.EventID,
			MarketID:     r.MarketID,
			SelectionID:  r.SelectionID.String(),
			Side:         side,
			PriceMatched: r.PriceMatched,
			SizeSettled:  r.SizeSettled,
			Profit:       r.Profit,
			Commission:   r.Commission,
			Outcome:      domain.NormalizeOutcome(r.BetOutcome),
			PlacedDate:   parseTime(r.PlacedDate),
			SettledDate:  parseTime(r.SettledDate),
			StrategyRef:  domain.StrategyRef(r.CustomerStrategyRef),
		})
	}
	return out
}

// mapMarketBooks converts book DTOs to domain books.
func mapMarketBooks(raw []marketBook) []domain.MarketBook {
	out := make([]domain.MarketBook, 0, len(raw))
	for _, m := range raw {
		book := domain.MarketBook{
			MarketID: m.MarketID,
			Status:   m.Status,
			InPlay:   m.InPlay,
			Runners:  make([]domain.RunnerPrice, 0, len(m.Runners)),
		}
		for _, r := range m.Runners {
			book.Runners = append(book.Runners, domain.RunnerPrice{
				MarketID:        m.MarketID,
				SelectionID:     r.SelectionID.String(),
				Status:          domain.RunnerStatus(r.Status),
				LastPriceTraded: r.LastPriceTraded,
				Backs:           mapLevels(r.Ex.AvailableToBack),
				Lays:            mapLevels(r.Ex.AvailableToLay),
			})
		}
		out = append(out, book)
	}
	return out
}

func mapLevels(raw []priceSize) []domain.PriceSize {
	if len(raw) == 0 {
		return nil
	}
	out := make([]domain.PriceSize, len(raw))
	for i, l := range raw {
		out[i] = domain.PriceSize{Price: l.Price, Size: l.Size}
	}
	return out
}

// parseTime accepts the timestamp formats the exchange is known to send.
// Unparseable input yields the zero time.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.000Z",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
