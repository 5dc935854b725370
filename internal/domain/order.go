package domain

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// StrategyKind says which logic placed an automated order.
type StrategyKind byte

const (
	KindEntry     StrategyKind = 'E'
	KindEarlyBird StrategyKind = 'B'
	KindCashOut   StrategyKind = 'C'
)

func (k StrategyKind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindEarlyBird:
		return "early_bird"
	case KindCashOut:
		return "cash_out"
	}
	return "unknown"
}

const (
	strategyRefPrefix  = "rb"
	strategyRefHashLen = 11

	// StrategyRefLen is the exchange's limit for customer strategy references.
	StrategyRefLen = len(strategyRefPrefix) + 2 + strategyRefHashLen
)

// StrategyRef is the idempotency key attached to every automated order:
// "rb" + kind + "-" + 11 hex chars of xxhash64(key). Orders whose reference
// does not parse were placed by hand.
type StrategyRef string

// NewStrategyRef derives the reference for a key (a selection unique id, or
// "market|selection" for cash-outs).
func NewStrategyRef(kind StrategyKind, key string) StrategyRef {
	h := fmt.Sprintf("%016x", xxhash.Sum64String(key))
	return StrategyRef(fmt.Sprintf("%s%c-%s", strategyRefPrefix, byte(kind), h[:strategyRefHashLen]))
}

// CashOutRef is the reference of hedges placed on a runner.
func CashOutRef(k RunnerKey) StrategyRef {
	return NewStrategyRef(KindCashOut, k.MarketID+"|"+k.SelectionID)
}

// Kind returns the strategy kind, or 0 when the reference is not automated.
func (r StrategyRef) Kind() StrategyKind {
	if !r.IsAutomated() {
		return 0
	}
	return StrategyKind(r[2])
}

// IsAutomated reports whether the reference was produced by NewStrategyRef.
func (r StrategyRef) IsAutomated() bool {
	if len(r) != StrategyRefLen || r[:2] != strategyRefPrefix || r[3] != '-' {
		return false
	}
	switch StrategyKind(r[2]) {
	case KindEntry, KindEarlyBird, KindCashOut:
	default:
		return false
	}
	for i := 4; i < len(r); i++ {
		c := r[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// Order is an immutable order to be sent to the exchange.
type Order struct {
	MarketID    string
	SelectionID string
	Side        Side
	Size        float64
	Price       float64
	StrategyRef StrategyRef
}

// Liability returns what the order risks if it is fully matched.
func (o Order) Liability() float64 {
	if o.Side == SideLay {
		return o.Size * (o.Price - 1)
	}
	return o.Size
}

// Key returns the runner key of the order.
func (o Order) Key() RunnerKey {
	return RunnerKey{MarketID: o.MarketID, SelectionID: o.SelectionID}
}

// OrderWithState pairs an order with the failsafe inputs of its selection.
type OrderWithState struct {
	Order            Order
	UniqueID         string
	WithinStakeLimit bool
	TargetStake      float64
}

// ExecutionStatus is the exchange-side lifecycle of an order.
type ExecutionStatus string

const (
	StatusExecutable        ExecutionStatus = "EXECUTABLE"
	StatusExecutionComplete ExecutionStatus = "EXECUTION_COMPLETE"
)

// ExchangeOrder is a live or recently completed order as reported by the exchange.
type ExchangeOrder struct {
	BetID               string
	EventID             string
	MarketID            string
	SelectionID         string
	Side                Side
	Price               float64
	Size                float64
	SizeMatched         float64
	SizeRemaining       float64
	AveragePriceMatched float64
	Status              ExecutionStatus
	PlacedDate          time.Time
	StrategyRef         StrategyRef
}

// Key returns the runner key of the order.
func (o ExchangeOrder) Key() RunnerKey {
	return RunnerKey{MarketID: o.MarketID, SelectionID: o.SelectionID}
}

// Executable reports whether the order can still be matched.
func (o ExchangeOrder) Executable() bool {
	return o.Status == StatusExecutable
}

// ClearedOrder is a settled bet from the exchange history. One bet may be
// reported as several rows when it was matched in parts.
type ClearedOrder struct {
	BetID        string
	EventID      string
	MarketID     string
	SelectionID  string
	Side         Side
	PriceMatched float64
	SizeSettled  float64
	Profit       float64
	Commission   float64
	Outcome      string
	PlacedDate   time.Time
	SettledDate  time.Time
	StrategyRef  StrategyRef
}

// Key returns the runner key of the cleared order.
func (o ClearedOrder) Key() RunnerKey {
	return RunnerKey{MarketID: o.MarketID, SelectionID: o.SelectionID}
}

// PlaceResult is the exchange answer to a placement.
type PlaceResult struct {
	Success             bool
	BetID               string
	SizeMatched         float64
	AveragePriceMatched float64
	ErrorCode           string
}

// MatchedBet is a matched portion of a position, input to the cash-out calculator.
type MatchedBet struct {
	MarketID    string
	SelectionID string
	Side        Side
	Size        float64
	Price       float64
}

// Key returns the runner key of the bet.
func (b MatchedBet) Key() RunnerKey {
	return RunnerKey{MarketID: b.MarketID, SelectionID: b.SelectionID}
}
