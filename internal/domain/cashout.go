package domain

import "math"

// CashOutCalculator computes the hedge that locks in profit or loss on a matched position.
type CashOutCalculator struct {
	MinStake float64
	Ladder   *Ladder
}

// position is the matched volume of one runner, split by side.
type position struct {
	key                  RunnerKey
	backSize, backVolume float64 // volume = Σ size×price
	laySize, layVolume   float64
}

func (p position) backPrice() float64 {
	if p.backSize == 0 {
		return 0
	}
	return p.backVolume / p.backSize
}

func (p position) layPrice() float64 {
	if p.laySize == 0 {
		return 0
	}
	return p.layVolume / p.laySize
}

// Calculate returns the hedge orders for the given matched bets. Runners are
// processed in the order they first appear. Runners without an opposing price
// or whose hedge is below MinStake produce no order.
func (c CashOutCalculator) Calculate(bets []MatchedBet, prices map[RunnerKey]RunnerPrice) []Order {
	var order []RunnerKey
	positions := make(map[RunnerKey]*position)
	for _, b := range bets {
		if b.Size <= 0 || b.Price <= 1 {
			continue
		}
		p, ok := positions[b.Key()]
		if !ok {
			p = &position{key: b.Key()}
			positions[b.Key()] = p
			order = append(order, b.Key())
		}
		switch b.Side {
		case SideBack:
			p.backSize += b.Size
			p.backVolume += b.Size * b.Price
		case SideLay:
			p.laySize += b.Size
			p.layVolume += b.Size * b.Price
		}
	}

	var out []Order
	for _, key := range order {
		o, ok := c.hedge(*positions[key], prices[key])
		if !ok {
			continue
		}
		out = append(out, o)
	}
	return out
}

func (c CashOutCalculator) hedge(p position, price RunnerPrice) (Order, bool) {
	var (
		side  Side
		stake float64
		hedge float64
	)

	switch {
	case p.backSize > 0 && p.laySize == 0:
		side, hedge = SideLay, price.BestLay()
		if hedge <= 1 {
			return Order{}, false
		}
		stake = p.backSize * p.backPrice() / hedge

	case p.laySize > 0 && p.backSize == 0:
		side, hedge = SideBack, price.BestBack()
		if hedge <= 1 {
			return Order{}, false
		}
		stake = p.laySize * p.layPrice() / hedge

	case p.backSize > 0 && p.laySize > 0:
		pb, pl := p.backPrice(), p.layPrice()
		ifWins := p.backSize*(pb-1) - p.laySize*(pl-1)
		ifLoses := p.laySize - p.backSize
		if ifWins > ifLoses {
			side, hedge = SideLay, price.BestLay()
		} else {
			side, hedge = SideBack, price.BestBack()
		}
		if hedge <= 1 {
			return Order{}, false
		}
		stake = math.Abs((p.backSize*(pb-1)-p.laySize*(pl-1))+(p.backSize-p.laySize)) / hedge

	default:
		return Order{}, false
	}

	if c.Ladder != nil && !c.Ladder.IsValid(hedge) {
		return Order{}, false
	}
	stake = RoundMoney(stake)
	if stake < c.MinStake {
		return Order{}, false
	}

	return Order{
		MarketID:    p.key.MarketID,
		SelectionID: p.key.SelectionID,
		Side:        side,
		Size:        stake,
		Price:       hedge,
		StrategyRef: CashOutRef(p.key),
	}, true
}
