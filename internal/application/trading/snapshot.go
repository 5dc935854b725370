package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"golang.org/x/sync/errgroup"
)

const (
	defaultPriceChunk       = 10
	defaultPriceConcurrency = 4
)

// SnapshotConfig controls how live market data is folded into selections.
type SnapshotConfig struct {
	Staking             domain.StakingSchedule
	Sizer               domain.Sizer
	ShortPriceThreshold float64
	EarlyBirdCutoff     time.Duration // default ExpiresAt = race time - cutoff
	PriceChunk          int           // markets per price request
	PriceConcurrency    int
}

// SnapshotBuilder rebuilds the selection states for one tick.
type SnapshotBuilder struct {
	exchange ports.Exchange
	store    ports.SelectionStore
	cfg      SnapshotConfig
}

// NewSnapshotBuilder creates a SnapshotBuilder.
func NewSnapshotBuilder(exchange ports.Exchange, store ports.SelectionStore, cfg SnapshotConfig) *SnapshotBuilder {
	if cfg.PriceChunk <= 0 {
		cfg.PriceChunk = defaultPriceChunk
	}
	if cfg.PriceConcurrency <= 0 {
		cfg.PriceConcurrency = defaultPriceConcurrency
	}
	return &SnapshotBuilder{exchange: exchange, store: store, cfg: cfg}
}

// Build returns today's valid selections with live prices, timing and target stake.
func (b *SnapshotBuilder) Build(ctx context.Context, now time.Time) ([]domain.SelectionState, error) {
	selections, err := b.store.FetchSelections(ctx, domain.SelectionFilter{Day: startOfDay(now), OnlyValid: true})
	if err != nil {
		return nil, fmt.Errorf("trading.Build: fetch selections: %w", err)
	}

	var markets []string
	seen := make(map[string]bool)
	for _, s := range selections {
		if s.MarketID == "" || s.RaceStarted(now) || seen[s.MarketID] {
			continue
		}
		seen[s.MarketID] = true
		markets = append(markets, s.MarketID)
	}

	books, err := b.fetchBooks(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("trading.Build: %w", err)
	}
	resting, err := b.restingEarlyBird(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("trading.Build: %w", err)
	}

	out := make([]domain.SelectionState, 0, len(selections))
	for _, s := range selections {
		s = b.enrich(s, books, now)
		s.RestingEarlyBird = resting[domain.NewStrategyRef(domain.KindEarlyBird, s.UniqueID)]
		out = append(out, s)
	}
	return out, nil
}

// restingEarlyBird sums the unmatched exposure of executable early-bird
// orders per strategy reference.
func (b *SnapshotBuilder) restingEarlyBird(ctx context.Context, markets []string) (map[domain.StrategyRef]float64, error) {
	out := make(map[domain.StrategyRef]float64)
	if len(markets) == 0 {
		return out, nil
	}
	orders, err := b.exchange.CurrentOrders(ctx, markets)
	if err != nil {
		return nil, fmt.Errorf("current orders: %w", err)
	}
	for _, o := range orders {
		if !o.Executable() || o.StrategyRef.Kind() != domain.KindEarlyBird || o.SizeRemaining <= 0 {
			continue
		}
		exposure := o.SizeRemaining
		if o.Side == domain.SideLay {
			exposure *= o.Price - 1
		}
		out[o.StrategyRef] += exposure
	}
	return out, nil
}

// fetchBooks requests prices in parallel chunks.
func (b *SnapshotBuilder) fetchBooks(ctx context.Context, markets []string) (map[string]domain.MarketBook, error) {
	books := make(map[string]domain.MarketBook, len(markets))
	if len(markets) == 0 {
		return books, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.PriceConcurrency)
	for start := 0; start < len(markets); start += b.cfg.PriceChunk {
		chunk := markets[start:min(start+b.cfg.PriceChunk, len(markets))]
		g.Go(func() error {
			res, err := b.exchange.MarketPrices(gctx, chunk)
			if err != nil {
				return fmt.Errorf("market prices: %w", err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, mb := range res {
				books[mb.MarketID] = mb
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return books, nil
}

func (b *SnapshotBuilder) enrich(s domain.SelectionState, books map[string]domain.MarketBook, now time.Time) domain.SelectionState {
	if !s.RaceTime.IsZero() {
		s.MinutesToRace = s.RaceTime.Sub(now).Minutes()
		if s.ExpiresAt.IsZero() && b.cfg.EarlyBirdCutoff > 0 {
			s.ExpiresAt = s.RaceTime.Add(-b.cfg.EarlyBirdCutoff)
		}
	}

	points := s.StakePoints
	if points <= 0 {
		points = 1
	}
	s.CalculatedStake = b.cfg.Staking.TargetStake(points, s.MinutesToRace)

	if mb, ok := books[s.MarketID]; ok {
		s.CurrentRunners = mb.ActiveRunners()
		// a non-runner already out when the selection was recorded is priced in
		s.ShortPriceRemoved = mb.ShortPriceRemoved(b.cfg.ShortPriceThreshold) &&
			(s.OriginalRunners == 0 || s.CurrentRunners < s.OriginalRunners)
		if r, ok := mb.Runner(s.SelectionID); ok {
			s.RunnerStatus = r.Status
			s.CurrentBackPrice = r.BestBack()
			s.CurrentLayPrice = r.BestLay()
			s.BackDepth = r.BackDepth()
			s.LayDepth = r.LayDepth()
		} else {
			slog.Debug("snapshot: runner not in book", "unique_id", s.UniqueID, "market", s.MarketID)
		}
	}

	s.FullyMatched = b.cfg.Sizer.IsFullyMatched(domain.SizingFromState(s))
	s.WithinStakeLimit = true
	return s
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
