package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/olekukonko/tablewriter"
)

var _ ports.Notifier = (*Console)(nil)

// Console implements ports.Notifier on a terminal.
type Console struct {
	out   io.Writer
	quiet bool
}

// NewConsole writes to stdout. With quiet set, cycles that did nothing are not printed.
func NewConsole(quiet bool) *Console {
	return &Console{out: os.Stdout, quiet: quiet}
}

// NewConsoleWriter writes to w, for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// CycleSummary prints one compact line per loop tick.
func (c *Console) CycleSummary(_ context.Context, r domain.CycleReport) error {
	idle := r.Placed+r.Cancelled+r.Invalidated+r.CashOuts+r.Failed == 0
	if c.quiet && idle {
		return nil
	}

	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %d sel → active:%d placed:%d matched:%d",
		at.Format("15:04:05"), r.Selections, r.Active, r.Placed, r.Matched)
	if r.Failed > 0 {
		fmt.Fprintf(&sb, " failed:%d", r.Failed)
	}
	if r.Suppressed > 0 {
		fmt.Fprintf(&sb, " dup:%d", r.Suppressed)
	}
	if r.Invalidated > 0 {
		fmt.Fprintf(&sb, " invalid:%d", r.Invalidated)
	}
	if r.CashOuts > 0 {
		fmt.Fprintf(&sb, " cashout:%d", r.CashOuts)
	}
	if r.Cancelled > 0 {
		fmt.Fprintf(&sb, " cancelled:%d", r.Cancelled)
	}
	fmt.Fprintf(&sb, " | log:%d pending:%d | next %s", r.BetLogRows, r.PendingOrders, r.NextSleep)
	if r.CycleID != "" {
		fmt.Fprintf(&sb, " (%s)", shortID(r.CycleID))
	}

	fmt.Fprintln(c.out, sb.String())
	return nil
}

// Report renders the bet log, the pending orders and the ledger totals.
func (c *Console) Report(_ context.Context, betLog []domain.BetLogRow, pending []domain.PendingOrderRow) error {
	fmt.Fprintf(c.out, "\n== BET LOG (%d) ==\n", len(betLog))
	if len(betLog) > 0 {
		c.printBetLog(betLog)
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	fmt.Fprintf(c.out, "\n== PENDING ORDERS (%d) ==\n", len(pending))
	if len(pending) > 0 {
		c.printPending(pending)
	} else {
		fmt.Fprintln(c.out, "  (none)")
	}

	s := domain.Summarize(betLog, len(pending))
	fmt.Fprintf(c.out, "\n== SUMMARY ==\n")
	fmt.Fprintf(c.out, "  Bets:       %d (%d settled, %d won, %d lost)\n", s.Bets, s.Settled, s.Won, s.Lost)
	fmt.Fprintf(c.out, "  Matched:    £%.2f\n", s.MatchedStake)
	fmt.Fprintf(c.out, "  Profit:     £%.2f\n", s.Profit)
	fmt.Fprintf(c.out, "  Commission: £%.2f\n", s.Commission)
	fmt.Fprintf(c.out, "  Net:        £%.2f\n", s.Profit-s.Commission)
	fmt.Fprintf(c.out, "  Pending:    %d\n\n", s.PendingOrders)
	return nil
}

func (c *Console) printBetLog(rows []domain.BetLogRow) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Race", "Horse", "Side", "Mkt", "Odds", "Matched", "Avg", "Bets", "Outcome", "P&L")
	for _, r := range rows {
		table.Append(
			r.RaceTime.Format("01-02 15:04"),
			truncate(horseLabel(r.HorseName, r.SelectionID), 22),
			string(r.Side),
			string(r.MarketType),
			fmt.Sprintf("%.2f", r.RequestedOdds),
			fmt.Sprintf("£%.2f", r.MatchedSize),
			fmt.Sprintf("%.2f", r.AveragePriceMatched),
			fmt.Sprintf("%d", r.BetCount),
			r.Outcome,
			fmt.Sprintf("£%.2f", r.Profit),
		)
	}
	table.Render()
}

func (c *Console) printPending(rows []domain.PendingOrderRow) {
	table := tablewriter.NewWriter(c.out)
	table.Header("Race", "Horse", "Side", "Mkt", "Price", "Size", "Matched", "Remaining", "Age")
	for _, r := range rows {
		age := "-"
		if !r.PlacedDate.IsZero() {
			age = time.Since(r.PlacedDate).Truncate(time.Minute).String()
		}
		table.Append(
			r.RaceTime.Format("01-02 15:04"),
			truncate(horseLabel(r.HorseName, r.SelectionID), 22),
			string(r.Side),
			string(r.MarketType),
			fmt.Sprintf("%.2f", r.Price),
			fmt.Sprintf("£%.2f", r.Size),
			fmt.Sprintf("£%.2f", r.SizeMatched),
			fmt.Sprintf("£%.2f", r.SizeRemaining),
			age,
		)
	}
	table.Render()
}

func horseLabel(name, selectionID string) string {
	if name != "" {
		return name
	}
	return "#" + selectionID
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
