package storage_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/alejandrodnm/racebot/internal/adapters/storage"
	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Runs against a real database only when RACEBOT_TEST_POSTGRES_DSN is set.
func newPostgres(t *testing.T) *storage.PostgresStorage {
	t.Helper()
	dsn := os.Getenv("RACEBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("RACEBOT_TEST_POSTGRES_DSN not set")
	}
	db, err := storage.NewPostgresStorage(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPostgresStorage_SelectionsRoundTrip(t *testing.T) {
	db := newPostgres(t)
	ctx := context.Background()

	// unique ids and a far-off day keep reruns independent
	pgDay := time.Date(2091, 1, 1+time.Now().Nanosecond()%27, 0, 0, 0, 0, time.UTC)
	market := "9." + uuid.NewString()[:8]
	a := makeSelection(uuid.NewString(), market, pgDay.Add(14*time.Hour))
	b := makeSelection(uuid.NewString(), market, pgDay.Add(15*time.Hour))
	b.ExpiresAt = pgDay.Add(13 * time.Hour)
	require.NoError(t, db.SaveSelection(ctx, a))
	require.NoError(t, db.SaveSelection(ctx, b))

	got, err := db.FetchSelections(ctx, domain.SelectionFilter{MarketIDs: []string{market}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.UniqueID, got[0].UniqueID)
	assert.Equal(t, b.ExpiresAt, got[1].ExpiresAt)

	require.NoError(t, db.InvalidateSelection(ctx, domain.Invalidation{UniqueID: a.UniqueID, Reason: "price drift"}))
	valid, err := db.FetchSelections(ctx, domain.SelectionFilter{MarketIDs: []string{market}, OnlyValid: true})
	require.NoError(t, err)
	require.Len(t, valid, 1)

	require.NoError(t, db.UpdateSelectionProgress(ctx, domain.SelectionProgress{UniqueID: b.UniqueID, TotalMatched: 2, HasBet: true}))
	err = db.UpdateSelectionProgress(ctx, domain.SelectionProgress{UniqueID: uuid.NewString()})
	assert.ErrorIs(t, err, ports.ErrNotFound)

	times, err := db.RaceTimes(ctx, []string{market})
	require.NoError(t, err)
	assert.Equal(t, pgDay.Add(14*time.Hour), times[market])

	latest, err := db.LatestRaceTime(ctx, pgDay)
	require.NoError(t, err)
	assert.False(t, latest.Before(pgDay.Add(15*time.Hour)))
}

func TestPostgresStorage_LedgerUpserts(t *testing.T) {
	db := newPostgres(t)
	ctx := context.Background()
	id := uuid.NewString()

	pending := domain.PendingOrderRow{
		UniqueID: id, RaceID: "r", RaceTime: time.Date(2091, 2, 1, 14, 0, 0, 0, time.UTC),
		Side: domain.SideBack, MarketType: domain.MarketWin, MarketID: "9.1", SelectionID: "1",
		Price: 4, Size: 10, SizeRemaining: 10,
	}
	require.NoError(t, db.UpsertPendingOrders(ctx, []domain.PendingOrderRow{pending, pending}))
	rows, err := db.PendingOrders(ctx)
	require.NoError(t, err)
	assert.Contains(t, pendingIDs(rows), id)

	require.NoError(t, db.DeletePendingOrders(ctx, []string{id}))
	rows, err = db.PendingOrders(ctx)
	require.NoError(t, err)
	assert.NotContains(t, pendingIDs(rows), id)

	logRow := domain.BetLogRow{
		UniqueID: id, RaceID: "r", RaceTime: pending.RaceTime, Side: domain.SideBack,
		MarketType: domain.MarketWin, MarketID: "9.1", SelectionID: "1", MatchedSize: 10,
		Outcome: domain.OutcomeMatched,
	}
	require.NoError(t, db.UpsertBetLog(ctx, []domain.BetLogRow{logRow}))
	logRow.Outcome = domain.OutcomeLost
	require.NoError(t, db.UpsertBetLog(ctx, []domain.BetLogRow{logRow}))

	log, err := db.BetLog(ctx, pending.RaceTime)
	require.NoError(t, err)
	for _, r := range log {
		if r.UniqueID == id {
			assert.Equal(t, domain.OutcomeLost, r.Outcome)
		}
	}
}

func pendingIDs(rows []domain.PendingOrderRow) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UniqueID)
	}
	return ids
}
