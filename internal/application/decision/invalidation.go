package decision

import (
	"fmt"

	"github.com/alejandrodnm/racebot/internal/domain"
)

const defaultPlaceRunnerThreshold = 8

// InvalidationConfig holds the market-change rules that stop a selection.
type InvalidationConfig struct {
	// PlaceRunnerThreshold is the field size at which place terms pay an extra
	// place. A PLACE selection recorded at or above it is invalid once the field
	// drops below it.
	PlaceRunnerThreshold int
}

// invalidation returns why s must stop taking stake, if it must.
func (e *Engine) invalidation(s domain.SelectionState) (string, bool) {
	if s.CashOutRequested {
		return "cash out requested", true
	}
	if s.ShortPriceRemoved {
		return "short-priced runner removed", true
	}
	if s.MarketType == domain.MarketPlace {
		limit := e.cfg.Invalidation.PlaceRunnerThreshold
		if s.PlaceTermsChanged {
			return "place terms changed", true
		}
		if s.OriginalRunners >= limit && s.CurrentRunners > 0 && s.CurrentRunners < limit {
			return fmt.Sprintf("field dropped from %d to %d runners", s.OriginalRunners, s.CurrentRunners), true
		}
	}
	return "", false
}
