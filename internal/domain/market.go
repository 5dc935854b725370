package domain

// RunnerStatus is the exchange status of a runner in a market.
type RunnerStatus string

const (
	RunnerActive  RunnerStatus = "ACTIVE"
	RunnerRemoved RunnerStatus = "REMOVED"
	RunnerWinner  RunnerStatus = "WINNER"
	RunnerLoser   RunnerStatus = "LOSER"
	RunnerPlaced  RunnerStatus = "PLACED"
	RunnerHidden  RunnerStatus = "HIDDEN"
)

// RunnerKey identifies a runner inside a market.
type RunnerKey struct {
	MarketID    string
	SelectionID string
}

// PriceSize is one level of the runner's book.
type PriceSize struct {
	Price float64
	Size  float64
}

// RunnerPrice is the live book of one runner.
type RunnerPrice struct {
	MarketID        string
	SelectionID     string
	Status          RunnerStatus
	LastPriceTraded float64
	Backs           []PriceSize // best (highest) first
	Lays            []PriceSize // best (lowest) first
}

// Key returns the runner key.
func (r RunnerPrice) Key() RunnerKey {
	return RunnerKey{MarketID: r.MarketID, SelectionID: r.SelectionID}
}

// BestBack returns the best available price to back at. 0 when the side is empty.
func (r RunnerPrice) BestBack() float64 {
	if len(r.Backs) == 0 {
		return 0
	}
	return r.Backs[0].Price
}

// BestLay returns the best available price to lay at. 0 when the side is empty.
func (r RunnerPrice) BestLay() float64 {
	if len(r.Lays) == 0 {
		return 0
	}
	return r.Lays[0].Price
}

// BackDepth returns the total size available on the back side.
func (r RunnerPrice) BackDepth() float64 {
	var total float64
	for _, l := range r.Backs {
		total += l.Size
	}
	return total
}

// LayDepth returns the total size available on the lay side.
func (r RunnerPrice) LayDepth() float64 {
	var total float64
	for _, l := range r.Lays {
		total += l.Size
	}
	return total
}

// MarketBook groups runner prices of one market.
type MarketBook struct {
	MarketID string
	Status   string // OPEN | SUSPENDED | CLOSED
	InPlay   bool
	Runners  []RunnerPrice
}

// ActiveRunners counts runners that have not been removed.
func (m MarketBook) ActiveRunners() int {
	n := 0
	for _, r := range m.Runners {
		if r.Status != RunnerRemoved {
			n++
		}
	}
	return n
}

// ShortPriceRemoved reports whether a removed runner was priced below threshold.
func (m MarketBook) ShortPriceRemoved(threshold float64) bool {
	for _, r := range m.Runners {
		if r.Status == RunnerRemoved && r.LastPriceTraded > 0 && r.LastPriceTraded < threshold {
			return true
		}
	}
	return false
}

// Runner looks up a runner by selection id.
func (m MarketBook) Runner(selectionID string) (RunnerPrice, bool) {
	for _, r := range m.Runners {
		if r.SelectionID == selectionID {
			return r, true
		}
	}
	return RunnerPrice{}, false
}
