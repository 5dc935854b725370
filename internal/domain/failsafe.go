package domain

// Failsafe holds the hard per-selection exposure ceilings. A zero ceiling
// disables that check.
type Failsafe struct {
	MaxStakePerSelection     float64
	MaxLiabilityPerSelection float64
	Epsilon                  float64
}

// Allows reports whether o keeps the selection inside its ceilings given what
// is already matched on it.
func (f Failsafe) Allows(o Order, matchedStake, matchedLiability, targetStake float64) bool {
	switch o.Side {
	case SideBack:
		if targetStake > 0 && o.Size > targetStake+f.Epsilon {
			return false
		}
		if f.MaxStakePerSelection > 0 && matchedStake+o.Size > f.MaxStakePerSelection+f.Epsilon {
			return false
		}
	case SideLay:
		if f.MaxLiabilityPerSelection > 0 && matchedLiability+o.Liability() > f.MaxLiabilityPerSelection+f.Epsilon {
			return false
		}
	default:
		return false
	}
	return true
}

// Recheck is the executor's last look at an order before it goes out. It only
// sees the order itself, so it checks the flag set by the engine and the
// ceilings against the order alone.
func (f Failsafe) Recheck(o OrderWithState) bool {
	if !o.WithinStakeLimit {
		return false
	}
	if o.Order.Size <= 0 || o.Order.Price <= 1 {
		return false
	}
	return f.Allows(o.Order, 0, 0, o.TargetStake)
}
