package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// SelectionStore reads the selection portfolio and records what happens to it.
type SelectionStore interface {
	// FetchSelections returns selections with their stored matching progress.
	// Live market fields are left zero; the snapshot builder fills them.
	FetchSelections(ctx context.Context, filter domain.SelectionFilter) ([]domain.SelectionState, error)

	// InvalidateSelection marks a selection invalid. Invalidating twice is a no-op.
	InvalidateSelection(ctx context.Context, inv domain.Invalidation) error

	// UpdateSelectionProgress stores the exchange-reported matching progress.
	UpdateSelectionProgress(ctx context.Context, p domain.SelectionProgress) error

	// RaceTimes maps market id to race start.
	RaceTimes(ctx context.Context, marketIDs []string) (map[string]time.Time, error)

	// LatestRaceTime returns the last race start of the day, or ErrNotFound.
	LatestRaceTime(ctx context.Context, day time.Time) (time.Time, error)
}

// SelectionWriter records selections produced upstream of the engine.
type SelectionWriter interface {
	// SaveSelection inserts or redefines a selection, keeping its stored
	// matching progress and validity.
	SaveSelection(ctx context.Context, sel domain.SelectionState) error
}

// Ledger is the local record of bets, written only by reconciliation.
type Ledger interface {
	UpsertBetLog(ctx context.Context, rows []domain.BetLogRow) error
	UpsertPendingOrders(ctx context.Context, rows []domain.PendingOrderRow) error
	DeletePendingOrders(ctx context.Context, uniqueIDs []string) error
	PendingOrders(ctx context.Context) ([]domain.PendingOrderRow, error)
	// BetLog returns the rows of races on day. A zero day returns every row.
	BetLog(ctx context.Context, day time.Time) ([]domain.BetLogRow, error)
}

// Storage is a backend that serves both the selection store and the ledger.
type Storage interface {
	SelectionStore
	SelectionWriter
	Ledger
	Close() error
}
