package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var cleanupNow = time.Date(2026, 5, 2, 13, 0, 0, 0, time.UTC)

func testCleanupConfig() CleanupConfig {
	return CleanupConfig{
		StaleAfter:       5 * time.Minute,
		Imminent:         5 * time.Minute,
		EarlyBirdHorizon: 2 * time.Hour,
	}
}

func resting(betID, marketID string, kind domain.StrategyKind, placedAgo time.Duration) domain.ExchangeOrder {
	return domain.ExchangeOrder{
		BetID:         betID,
		MarketID:      marketID,
		SelectionID:   "7",
		Side:          domain.SideBack,
		Price:         3.5,
		Size:          10,
		SizeRemaining: 10,
		Status:        domain.StatusExecutable,
		PlacedDate:    cleanupNow.Add(-placedAgo),
		StrategyRef:   domain.NewStrategyRef(kind, betID),
	}
}

func TestCleanup_CancelsStaleEntry(t *testing.T) {
	ex := &fakeExchange{current: []domain.ExchangeOrder{resting("b1", "1.100", domain.KindEntry, 10*time.Minute)}}
	store := &fakeStore{raceTimes: map[string]time.Time{"1.100": cleanupNow.Add(2 * time.Hour)}}
	m := newCountingMetrics()

	st, err := NewCleanup(ex, store, m, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, []string{"b1"}, ex.cancelled)
	assert.Equal(t, 1, m.cancelled[ReasonStale])
}

func TestCleanup_KeepsFreshEntry(t *testing.T) {
	ex := &fakeExchange{current: []domain.ExchangeOrder{resting("b1", "1.100", domain.KindEntry, 2*time.Minute)}}
	store := &fakeStore{raceTimes: map[string]time.Time{"1.100": cleanupNow.Add(2 * time.Hour)}}

	st, err := NewCleanup(ex, store, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Scanned)
	assert.Empty(t, ex.cancelled)
}

func TestCleanup_CancelsEverythingAutomatedWhenImminent(t *testing.T) {
	ex := &fakeExchange{current: []domain.ExchangeOrder{
		resting("b1", "1.100", domain.KindEntry, time.Minute),
		resting("b2", "1.100", domain.KindEarlyBird, time.Minute),
		resting("b3", "1.100", domain.KindCashOut, time.Minute),
	}}
	store := &fakeStore{raceTimes: map[string]time.Time{"1.100": cleanupNow.Add(3 * time.Minute)}}
	m := newCountingMetrics()

	st, err := NewCleanup(ex, store, m, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Cancelled)
	assert.Equal(t, 3, m.cancelled[ReasonImminent])
}

func TestCleanup_NeverTouchesManualOrders(t *testing.T) {
	manual := resting("b1", "1.100", domain.KindEntry, time.Hour)
	manual.StrategyRef = "my-own-bet"
	ex := &fakeExchange{current: []domain.ExchangeOrder{manual}}
	store := &fakeStore{raceTimes: map[string]time.Time{"1.100": cleanupNow.Add(time.Minute)}}

	st, err := NewCleanup(ex, store, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Scanned)
	assert.Empty(t, ex.cancelled)
}

func TestCleanup_EarlyBirdUntilHorizon(t *testing.T) {
	far := resting("b1", "1.100", domain.KindEarlyBird, 3*time.Hour)
	near := resting("b2", "1.200", domain.KindEarlyBird, 3*time.Hour)
	ex := &fakeExchange{current: []domain.ExchangeOrder{far, near}}
	store := &fakeStore{raceTimes: map[string]time.Time{
		"1.100": cleanupNow.Add(6 * time.Hour),
		"1.200": cleanupNow.Add(90 * time.Minute),
	}}

	st, err := NewCleanup(ex, store, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Cancelled)
	assert.Equal(t, []string{"b2"}, ex.cancelled)
}

func TestCleanup_UnknownRaceTimeOnlyStale(t *testing.T) {
	ex := &fakeExchange{current: []domain.ExchangeOrder{
		resting("b1", "1.999", domain.KindEntry, 10*time.Minute),
		resting("b2", "1.999", domain.KindEarlyBird, 10*time.Minute),
	}}

	st, err := NewCleanup(ex, &fakeStore{}, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, ex.cancelled)
	assert.Equal(t, 2, st.Scanned)
}

func TestCleanup_IgnoresCompletedOrders(t *testing.T) {
	done := resting("b1", "1.100", domain.KindEntry, time.Hour)
	done.Status = domain.StatusExecutionComplete
	ex := &fakeExchange{current: []domain.ExchangeOrder{done}}

	st, err := NewCleanup(ex, &fakeStore{}, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Zero(t, st.Scanned)
}

func TestCleanup_CancelFailureContinues(t *testing.T) {
	ex := &fakeExchange{
		current:   []domain.ExchangeOrder{resting("b1", "1.100", domain.KindEntry, time.Hour), resting("b2", "1.100", domain.KindEntry, time.Hour)},
		cancelErr: errors.New("BET_TAKEN_OR_LAPSED"),
	}
	st, err := NewCleanup(ex, &fakeStore{}, nil, testCleanupConfig()).Run(context.Background(), cleanupNow)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Failed)
	assert.Zero(t, st.Cancelled)
}
