package ports

import (
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
)

// Metrics records trading counters. Implementations must be safe for concurrent use.
type Metrics interface {
	OrderPlaced(kind domain.StrategyKind)
	OrderMatched()
	OrderFailed()
	OrderCancelled(reason string)
	LoopError(class string)
	Sleep(d time.Duration)
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) OrderPlaced(domain.StrategyKind) {}
func (NopMetrics) OrderMatched()                   {}
func (NopMetrics) OrderFailed()                    {}
func (NopMetrics) OrderCancelled(string)           {}
func (NopMetrics) LoopError(string)                {}
func (NopMetrics) Sleep(time.Duration)             {}
