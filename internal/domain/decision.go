package domain

// DecisionResult is the output of one decision pass. It is never persisted.
type DecisionResult struct {
	Orders           []OrderWithState // ordinary path, at most one per selection
	EarlyBird        []OrderWithState
	Suppressed       []OrderWithState // failed the failsafe
	CashOutMarketIDs []string         // deduplicated, input order
	CashOuts         []CashOut        // one per invalidated selection with matched stake
	Invalidations    []Invalidation
}

// CashOut names the selection whose automated position is to be closed.
type CashOut struct {
	UniqueID string
	Key      RunnerKey
}

// Refs returns every strategy reference the selection's automated orders carry.
func (c CashOut) Refs() []StrategyRef {
	return []StrategyRef{
		NewStrategyRef(KindEntry, c.UniqueID),
		NewStrategyRef(KindEarlyBird, c.UniqueID),
		CashOutRef(c.Key),
	}
}

// Empty reports whether the pass produced nothing to act on.
func (r DecisionResult) Empty() bool {
	return len(r.Orders) == 0 && len(r.EarlyBird) == 0 &&
		len(r.CashOutMarketIDs) == 0 && len(r.CashOuts) == 0 && len(r.Invalidations) == 0
}

// AllOrders returns ordinary orders followed by early-bird orders.
func (r DecisionResult) AllOrders() []OrderWithState {
	out := make([]OrderWithState, 0, len(r.Orders)+len(r.EarlyBird))
	out = append(out, r.Orders...)
	return append(out, r.EarlyBird...)
}

// MarketIDs returns the distinct markets touched by the result, in order.
func (r DecisionResult) MarketIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, o := range r.AllOrders() {
		add(o.Order.MarketID)
	}
	for _, id := range r.CashOutMarketIDs {
		add(id)
	}
	for _, c := range r.CashOuts {
		add(c.Key.MarketID)
	}
	return ids
}
