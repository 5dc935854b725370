package domain

import (
	"strings"
	"time"
)

// Bet log outcomes.
const (
	OutcomeWon     = "WON"
	OutcomeLost    = "LOST"
	OutcomePlaced  = "PLACED"
	OutcomeVoid    = "VOID"
	OutcomeMatched = "MATCHED" // fully executed, not yet settled
)

// NormalizeOutcome maps the exchange's settlement wording onto the bet log
// outcomes. Unknown values are returned upper-cased.
func NormalizeOutcome(raw string) string {
	switch v := strings.ToUpper(strings.TrimSpace(raw)); v {
	case "WIN", "WON":
		return OutcomeWon
	case "LOSE", "LOST":
		return OutcomeLost
	case "PLACE", "PLACED":
		return OutcomePlaced
	case "VOID", "VOIDED", "LAPSED", "CANCELLED":
		return OutcomeVoid
	default:
		return v
	}
}

// BetLogRow is the durable record of a selection whose orders are complete.
// One row per selection, keyed by UniqueID.
type BetLogRow struct {
	UniqueID            string
	RaceID              string
	RaceTime            time.Time
	HorseID             string
	HorseName           string
	Side                Side
	MarketType          MarketType
	MarketID            string
	SelectionID         string
	RequestedOdds       float64
	MatchedSize         float64
	AveragePriceMatched float64
	Profit              float64
	Commission          float64
	Outcome             string
	BetCount            int
	SettledDate         *time.Time
	UpdatedAt           time.Time
}

// PendingOrderRow is a selection that still has executable orders on the exchange.
type PendingOrderRow struct {
	UniqueID            string
	RaceID              string
	RaceTime            time.Time
	HorseID             string
	HorseName           string
	Side                Side
	MarketType          MarketType
	MarketID            string
	SelectionID         string
	Price               float64
	Size                float64
	SizeMatched         float64
	SizeRemaining       float64
	AveragePriceMatched float64
	BetIDs              string // comma separated
	StrategyRef         StrategyRef
	PlacedDate          time.Time
	UpdatedAt           time.Time
}

// LedgerSummary aggregates the bet log for reports.
type LedgerSummary struct {
	Bets          int
	Settled       int
	Won           int
	Lost          int
	MatchedStake  float64
	Profit        float64
	Commission    float64
	PendingOrders int
}

// Summarize aggregates bet log rows and the pending order count.
func Summarize(rows []BetLogRow, pending int) LedgerSummary {
	s := LedgerSummary{Bets: len(rows), PendingOrders: pending}
	for _, r := range rows {
		s.MatchedStake += r.MatchedSize
		s.Profit += r.Profit
		s.Commission += r.Commission
		switch r.Outcome {
		case OutcomeWon, OutcomePlaced:
			s.Won++
			s.Settled++
		case OutcomeLost:
			s.Lost++
			s.Settled++
		case OutcomeVoid:
			s.Settled++
		}
	}
	return s
}

// CycleReport is the one-line summary of a loop tick.
type CycleReport struct {
	CycleID       string
	At            time.Time
	Selections    int
	Active        int
	Placed        int
	Matched       int
	Failed        int
	Skipped       int
	Suppressed    int
	Invalidated   int
	CashOuts      int
	Cancelled     int
	BetLogRows    int
	PendingOrders int
	NextSleep     time.Duration
}
