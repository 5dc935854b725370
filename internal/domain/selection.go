package domain

import (
	"fmt"
	"time"
)

// Side is the side of a bet on the exchange.
type Side string

const (
	SideBack Side = "BACK"
	SideLay  Side = "LAY"
)

// ParseSide converts a raw string into a Side. Anything other than BACK/LAY is rejected.
func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case SideBack, SideLay:
		return Side(s), nil
	}
	return "", fmt.Errorf("domain.ParseSide: unknown side %q", s)
}

// Valid reports whether s is one of the known sides.
func (s Side) Valid() bool {
	return s == SideBack || s == SideLay
}

// Opposite returns the hedging side.
func (s Side) Opposite() Side {
	if s == SideBack {
		return SideLay
	}
	return SideBack
}

// MarketType distinguishes win markets from place markets.
type MarketType string

const (
	MarketWin   MarketType = "WIN"
	MarketPlace MarketType = "PLACE"
)

// ParseMarketType converts a raw string into a MarketType.
func ParseMarketType(s string) (MarketType, error) {
	switch MarketType(s) {
	case MarketWin, MarketPlace:
		return MarketType(s), nil
	}
	return "", fmt.Errorf("domain.ParseMarketType: unknown market type %q", s)
}

// Valid reports whether m is one of the known market types.
func (m MarketType) Valid() bool {
	return m == MarketWin || m == MarketPlace
}

// SelectionState is one back/lay intent on one horse in one market, as seen on a
// single loop tick. It is rebuilt every tick from the selections table plus the
// live market book.
type SelectionState struct {
	// identity
	UniqueID  string
	RaceID    string
	RaceTime  time.Time
	HorseID   string
	HorseName string

	// bet definition
	Side          Side
	MarketType    MarketType
	RequestedOdds float64
	StakePoints   float64

	// exchange identifiers
	MarketID    string
	SelectionID string

	// validity
	Valid             bool
	InvalidatedReason string

	// market snapshot when the selection was recorded
	OriginalRunners int
	OriginalPrice   float64

	// live market snapshot
	CurrentBackPrice float64 // 0 = no price available
	CurrentLayPrice  float64 // 0 = no price available
	BackDepth        float64 // total size offered to back
	LayDepth         float64 // total size offered to lay
	RunnerStatus     RunnerStatus
	CurrentRunners   int

	// matching progress, as last reconciled with the exchange
	TotalMatched        float64
	AveragePriceMatched float64
	TotalLiability      float64
	BetCount            int
	HasBet              bool
	FullyMatched        bool

	// unmatched exposure of resting early-bird orders: stake for BACK, liability for LAY
	RestingEarlyBird float64

	// target stake from the time-based staking schedule
	CalculatedStake float64

	// timing
	MinutesToRace float64
	ExpiresAt     time.Time // early-bird cutoff

	// flags
	ShortPriceRemoved bool
	PlaceTermsChanged bool
	CashOutRequested  bool
	WithinStakeLimit  bool
}

// MatchedLiability returns the liability already taken on by matched LAY bets.
// It prefers the average matched price and falls back to the stored liability.
func (s SelectionState) MatchedLiability() float64 {
	if s.AveragePriceMatched > 1 {
		return s.TotalMatched * (s.AveragePriceMatched - 1)
	}
	return s.TotalLiability
}

// RaceStarted reports whether the race time has passed at now.
func (s SelectionState) RaceStarted(now time.Time) bool {
	return !s.RaceTime.IsZero() && !now.Before(s.RaceTime)
}

// Closed reports whether nothing can be done for the selection any more,
// not even a cash-out.
func (s SelectionState) Closed(now time.Time) bool {
	return !s.Valid || s.RaceStarted(now)
}

// Terminal reports whether the selection no longer takes new stake.
func (s SelectionState) Terminal(now time.Time) bool {
	return s.Closed(now) || s.FullyMatched
}

// Key returns the runner key of the selection.
func (s SelectionState) Key() RunnerKey {
	return RunnerKey{MarketID: s.MarketID, SelectionID: s.SelectionID}
}

// SelectionFilter narrows the selections fetched from the store.
type SelectionFilter struct {
	Day       time.Time // race day (UTC date); zero = any day
	OnlyValid bool
	MarketIDs []string
}

// SelectionProgress is the exchange-reported matching progress for one selection.
type SelectionProgress struct {
	UniqueID            string
	TotalMatched        float64
	AveragePriceMatched float64
	TotalLiability      float64
	BetCount            int
	HasBet              bool
}

// Invalidation records why a selection stops accepting new stake.
type Invalidation struct {
	UniqueID string
	MarketID string
	Reason   string
}
