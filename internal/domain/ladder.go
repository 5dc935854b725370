package domain

import (
	"math"
	"sort"
)

// ladderSegment is a run of prices with a constant step, in hundredths.
type ladderSegment struct {
	upTo int64
	step int64
}

// Exchange price increments. Prices below 1.01 or above 1000 do not exist.
var ladderSegments = []ladderSegment{
	{upTo: 200, step: 1},
	{upTo: 300, step: 2},
	{upTo: 400, step: 5},
	{upTo: 600, step: 10},
	{upTo: 1000, step: 20},
	{upTo: 2000, step: 50},
	{upTo: 3000, step: 100},
	{upTo: 5000, step: 200},
	{upTo: 10000, step: 500},
	{upTo: 100000, step: 1000},
}

const (
	ladderMin = 101
	// prices are compared in units of 0.0001 to keep float noise out of tie-breaks
	unitsPerTick = 100
)

// Ladder is the discrete set of valid exchange prices. It is immutable once built.
type Ladder struct {
	ticks []int64 // hundredths, ascending
}

// StandardLadder is the exchange ladder shared by every component.
var StandardLadder = NewLadder()

// NewLadder precomputes the sorted price table.
func NewLadder() *Ladder {
	ticks := []int64{ladderMin}
	p := int64(ladderMin)
	for _, seg := range ladderSegments {
		for p+seg.step <= seg.upTo {
			p += seg.step
			ticks = append(ticks, p)
		}
	}
	return &Ladder{ticks: ticks}
}

// Min returns the lowest valid price.
func (l *Ladder) Min() float64 { return toPrice(l.ticks[0]) }

// Max returns the highest valid price.
func (l *Ladder) Max() float64 { return toPrice(l.ticks[len(l.ticks)-1]) }

// Len returns the number of prices on the ladder.
func (l *Ladder) Len() int { return len(l.ticks) }

// IsValid reports whether price is exactly a ladder price.
func (l *Ladder) IsValid(price float64) bool {
	u := toUnits(price)
	if u%unitsPerTick != 0 {
		return false
	}
	_, ok := l.find(u / unitsPerTick)
	return ok
}

// Snap returns the nearest ladder price. An exact tie goes to the lower price.
func (l *Ladder) Snap(price float64) float64 {
	return toPrice(l.ticks[l.snapIndex(price)])
}

// SnapDown returns the highest ladder price not above price (clamped at Min).
func (l *Ladder) SnapDown(price float64) float64 {
	u := toUnits(price)
	i := sort.Search(len(l.ticks), func(i int) bool { return l.ticks[i]*unitsPerTick > u })
	if i == 0 {
		return l.Min()
	}
	return toPrice(l.ticks[i-1])
}

// SnapUp returns the lowest ladder price not below price (clamped at Max).
func (l *Ladder) SnapUp(price float64) float64 {
	u := toUnits(price)
	i := sort.Search(len(l.ticks), func(i int) bool { return l.ticks[i]*unitsPerTick >= u })
	if i == len(l.ticks) {
		return l.Max()
	}
	return toPrice(l.ticks[i])
}

// TicksAway moves n ticks from the snapped price, clamping at the ladder ends.
func (l *Ladder) TicksAway(price float64, n int) float64 {
	i := l.snapIndex(price) + n
	if i < 0 {
		i = 0
	}
	if i >= len(l.ticks) {
		i = len(l.ticks) - 1
	}
	return toPrice(l.ticks[i])
}

// TicksBetween returns the signed number of ticks from a to b.
func (l *Ladder) TicksBetween(a, b float64) int {
	return l.snapIndex(b) - l.snapIndex(a)
}

func (l *Ladder) snapIndex(price float64) int {
	u := toUnits(price)
	i := sort.Search(len(l.ticks), func(i int) bool { return l.ticks[i]*unitsPerTick >= u })
	if i == 0 {
		return 0
	}
	if i == len(l.ticks) {
		return len(l.ticks) - 1
	}
	lo, hi := l.ticks[i-1]*unitsPerTick, l.ticks[i]*unitsPerTick
	if hi-u < u-lo {
		return i
	}
	return i - 1
}

func (l *Ladder) find(hundredths int64) (int, bool) {
	i := sort.Search(len(l.ticks), func(i int) bool { return l.ticks[i] >= hundredths })
	return i, i < len(l.ticks) && l.ticks[i] == hundredths
}

func toUnits(price float64) int64 {
	return int64(math.Round(price * 10000))
}

func toPrice(hundredths int64) float64 {
	return float64(hundredths) / 100
}
