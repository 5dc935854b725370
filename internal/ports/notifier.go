package ports

import (
	"context"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// Notifier presents loop progress and the ledger to the operator.
type Notifier interface {
	// CycleSummary reports one loop tick.
	CycleSummary(ctx context.Context, r domain.CycleReport) error

	// Report renders the bet log and pending orders.
	Report(ctx context.Context, betLog []domain.BetLogRow, pending []domain.PendingOrderRow) error
}
