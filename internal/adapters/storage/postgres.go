package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS selections (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TIMESTAMPTZ NOT NULL,
    race_day              DATE NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    requested_odds        DOUBLE PRECISION NOT NULL,
    stake_points          DOUBLE PRECISION NOT NULL DEFAULT 1,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    valid                 BOOLEAN NOT NULL DEFAULT TRUE,
    invalidated_reason    TEXT NOT NULL DEFAULT '',
    original_runners      INTEGER NOT NULL DEFAULT 0,
    original_price        DOUBLE PRECISION NOT NULL DEFAULT 0,
    place_terms_changed   BOOLEAN NOT NULL DEFAULT FALSE,
    cash_out_requested    BOOLEAN NOT NULL DEFAULT FALSE,
    expires_at            TIMESTAMPTZ,
    total_matched         DOUBLE PRECISION NOT NULL DEFAULT 0,
    average_price_matched DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_liability       DOUBLE PRECISION NOT NULL DEFAULT 0,
    bet_count             INTEGER NOT NULL DEFAULT 0,
    has_bet               BOOLEAN NOT NULL DEFAULT FALSE,
    updated_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_selections_day    ON selections(race_day);
CREATE INDEX IF NOT EXISTS idx_selections_market ON selections(market_id);

CREATE TABLE IF NOT EXISTS bet_log (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TIMESTAMPTZ NOT NULL,
    race_day              DATE NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    requested_odds        DOUBLE PRECISION NOT NULL DEFAULT 0,
    matched_size          DOUBLE PRECISION NOT NULL DEFAULT 0,
    average_price_matched DOUBLE PRECISION NOT NULL DEFAULT 0,
    profit                DOUBLE PRECISION NOT NULL DEFAULT 0,
    commission            DOUBLE PRECISION NOT NULL DEFAULT 0,
    outcome               TEXT NOT NULL,
    bet_count             INTEGER NOT NULL DEFAULT 0,
    settled_date          TIMESTAMPTZ,
    updated_at            TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bet_log_day ON bet_log(race_day);

CREATE TABLE IF NOT EXISTS pending_orders (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TIMESTAMPTZ NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    price                 DOUBLE PRECISION NOT NULL DEFAULT 0,
    size                  DOUBLE PRECISION NOT NULL DEFAULT 0,
    size_matched          DOUBLE PRECISION NOT NULL DEFAULT 0,
    size_remaining        DOUBLE PRECISION NOT NULL DEFAULT 0,
    average_price_matched DOUBLE PRECISION NOT NULL DEFAULT 0,
    bet_ids               TEXT NOT NULL DEFAULT '',
    strategy_ref          TEXT NOT NULL DEFAULT '',
    placed_date           TIMESTAMPTZ,
    updated_at            TIMESTAMPTZ NOT NULL
);
`

var _ ports.Storage = (*PostgresStorage)(nil)

// PostgresStorage implements ports.Storage on PostgreSQL through a pgx pool.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

// NewPostgresStorage connects to dsn and applies the schema.
func NewPostgresStorage(ctx context.Context, dsn string) (*PostgresStorage, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresStorage: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresStorage: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storage.NewPostgresStorage: apply schema: %w", err)
	}
	return &PostgresStorage{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

// SaveSelection inserts or replaces the definition of a selection. Stored
// matching progress and invalidation are kept on conflict.
func (s *PostgresStorage) SaveSelection(ctx context.Context, sel domain.SelectionState) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO selections
			(unique_id, race_id, race_time, race_day, horse_id, horse_name, side, market_type,
			 requested_odds, stake_points, market_id, selection_id, valid, invalidated_reason,
			 original_runners, original_price, place_terms_changed, cash_out_requested,
			 expires_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (unique_id) DO UPDATE SET
			race_id             = EXCLUDED.race_id,
			race_time           = EXCLUDED.race_time,
			race_day            = EXCLUDED.race_day,
			horse_id            = EXCLUDED.horse_id,
			horse_name          = EXCLUDED.horse_name,
			side                = EXCLUDED.side,
			market_type         = EXCLUDED.market_type,
			requested_odds      = EXCLUDED.requested_odds,
			stake_points        = EXCLUDED.stake_points,
			market_id           = EXCLUDED.market_id,
			selection_id        = EXCLUDED.selection_id,
			original_runners    = EXCLUDED.original_runners,
			original_price      = EXCLUDED.original_price,
			place_terms_changed = EXCLUDED.place_terms_changed,
			cash_out_requested  = EXCLUDED.cash_out_requested,
			expires_at          = EXCLUDED.expires_at,
			updated_at          = EXCLUDED.updated_at`,
		sel.UniqueID, sel.RaceID, sel.RaceTime.UTC(), dayOf(sel.RaceTime),
		sel.HorseID, sel.HorseName, string(sel.Side), string(sel.MarketType),
		sel.RequestedOdds, sel.StakePoints, sel.MarketID, sel.SelectionID,
		sel.Valid, sel.InvalidatedReason,
		sel.OriginalRunners, sel.OriginalPrice, sel.PlaceTermsChanged, sel.CashOutRequested,
		timePtr(sel.ExpiresAt), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSelection: %s: %w", sel.UniqueID, err)
	}
	return nil
}

// FetchSelections returns the selections matching filter, ordered by race time.
func (s *PostgresStorage) FetchSelections(ctx context.Context, f domain.SelectionFilter) ([]domain.SelectionState, error) {
	var day *time.Time
	if !f.Day.IsZero() {
		d := dayOf(f.Day)
		day = &d
	}
	var markets []string
	if len(f.MarketIDs) > 0 {
		markets = f.MarketIDs
	}

	rows, err := s.pool.Query(ctx, `
		SELECT unique_id, race_id, race_time, horse_id, horse_name, side, market_type,
		       requested_odds, stake_points, market_id, selection_id, valid, invalidated_reason,
		       original_runners, original_price, place_terms_changed, cash_out_requested,
		       expires_at, total_matched, average_price_matched, total_liability, bet_count, has_bet
		FROM selections
		WHERE ($1::date IS NULL OR race_day = $1)
		  AND (NOT $2 OR valid)
		  AND ($3::text[] IS NULL OR market_id = ANY($3))
		ORDER BY race_time, unique_id`,
		day, f.OnlyValid, markets,
	)
	if err != nil {
		return nil, fmt.Errorf("storage.FetchSelections: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SelectionState
	for rows.Next() {
		var (
			sel              domain.SelectionState
			side, marketType string
			expiresAt        *time.Time
		)
		if err := rows.Scan(
			&sel.UniqueID, &sel.RaceID, &sel.RaceTime, &sel.HorseID, &sel.HorseName, &side, &marketType,
			&sel.RequestedOdds, &sel.StakePoints, &sel.MarketID, &sel.SelectionID, &sel.Valid, &sel.InvalidatedReason,
			&sel.OriginalRunners, &sel.OriginalPrice, &sel.PlaceTermsChanged, &sel.CashOutRequested,
			&expiresAt, &sel.TotalMatched, &sel.AveragePriceMatched, &sel.TotalLiability, &sel.BetCount, &sel.HasBet,
		); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: scan row: %w", err)
		}
		if sel.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: %s: %w", sel.UniqueID, err)
		}
		if sel.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: %s: %w", sel.UniqueID, err)
		}
		sel.RaceTime = sel.RaceTime.UTC()
		if expiresAt != nil {
			sel.ExpiresAt = expiresAt.UTC()
		}
		out = append(out, sel)
	}
	return out, rows.Err()
}

// InvalidateSelection marks a selection invalid. The first reason wins.
func (s *PostgresStorage) InvalidateSelection(ctx context.Context, inv domain.Invalidation) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE selections SET valid = FALSE, invalidated_reason = $1, updated_at = $2
		WHERE unique_id = $3 AND valid`,
		inv.Reason, time.Now().UTC(), inv.UniqueID,
	)
	if err != nil {
		return fmt.Errorf("storage.InvalidateSelection: %s: %w", inv.UniqueID, err)
	}
	return nil
}

// UpdateSelectionProgress stores the matching progress of one selection.
func (s *PostgresStorage) UpdateSelectionProgress(ctx context.Context, p domain.SelectionProgress) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE selections SET
			total_matched = $1, average_price_matched = $2, total_liability = $3,
			bet_count = $4, has_bet = $5, updated_at = $6
		WHERE unique_id = $7`,
		p.TotalMatched, p.AveragePriceMatched, p.TotalLiability,
		p.BetCount, p.HasBet, time.Now().UTC(), p.UniqueID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateSelectionProgress: %s: %w", p.UniqueID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage.UpdateSelectionProgress: %s: %w", p.UniqueID, ports.ErrNotFound)
	}
	return nil
}

// RaceTimes maps each known market id to its race start.
func (s *PostgresStorage) RaceTimes(ctx context.Context, marketIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT market_id, MIN(race_time) FROM selections
		WHERE market_id = ANY($1)
		GROUP BY market_id`, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("storage.RaceTimes: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id string
			t  time.Time
		)
		if err := rows.Scan(&id, &t); err != nil {
			return nil, fmt.Errorf("storage.RaceTimes: scan row: %w", err)
		}
		out[id] = t.UTC()
	}
	return out, rows.Err()
}

// LatestRaceTime returns the last race start on day.
func (s *PostgresStorage) LatestRaceTime(ctx context.Context, day time.Time) (time.Time, error) {
	var latest *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(race_time) FROM selections WHERE race_day = $1`, dayOf(day),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage.LatestRaceTime: %w", err)
	}
	if latest == nil {
		return time.Time{}, fmt.Errorf("storage.LatestRaceTime: %s: %w", fmtDay(day), ports.ErrNotFound)
	}
	return latest.UTC(), nil
}

// UpsertBetLog writes bet log rows in one batch inside a transaction.
func (s *PostgresStorage) UpsertBetLog(ctx context.Context, rows []domain.BetLogRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO bet_log
				(unique_id, race_id, race_time, race_day, horse_id, horse_name, side, market_type,
				 market_id, selection_id, requested_odds, matched_size, average_price_matched,
				 profit, commission, outcome, bet_count, settled_date, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			ON CONFLICT (unique_id) DO UPDATE SET
				matched_size          = EXCLUDED.matched_size,
				average_price_matched = EXCLUDED.average_price_matched,
				profit                = EXCLUDED.profit,
				commission            = EXCLUDED.commission,
				outcome               = EXCLUDED.outcome,
				bet_count             = EXCLUDED.bet_count,
				settled_date          = EXCLUDED.settled_date,
				updated_at            = EXCLUDED.updated_at`,
			r.UniqueID, r.RaceID, r.RaceTime.UTC(), dayOf(r.RaceTime), r.HorseID, r.HorseName,
			string(r.Side), string(r.MarketType), r.MarketID, r.SelectionID, r.RequestedOdds,
			r.MatchedSize, r.AveragePriceMatched, r.Profit, r.Commission, r.Outcome, r.BetCount,
			r.SettledDate, updatedAt(r.UpdatedAt).UTC(),
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("storage.UpsertBetLog: %w", err)
	}
	return nil
}

// UpsertPendingOrders writes pending rows in one batch inside a transaction.
func (s *PostgresStorage) UpsertPendingOrders(ctx context.Context, rows []domain.PendingOrderRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO pending_orders
				(unique_id, race_id, race_time, horse_id, horse_name, side, market_type, market_id,
				 selection_id, price, size, size_matched, size_remaining, average_price_matched,
				 bet_ids, strategy_ref, placed_date, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			ON CONFLICT (unique_id) DO UPDATE SET
				price                 = EXCLUDED.price,
				size                  = EXCLUDED.size,
				size_matched          = EXCLUDED.size_matched,
				size_remaining        = EXCLUDED.size_remaining,
				average_price_matched = EXCLUDED.average_price_matched,
				bet_ids               = EXCLUDED.bet_ids,
				strategy_ref          = EXCLUDED.strategy_ref,
				placed_date           = EXCLUDED.placed_date,
				updated_at            = EXCLUDED.updated_at`,
			r.UniqueID, r.RaceID, r.RaceTime.UTC(), r.HorseID, r.HorseName,
			string(r.Side), string(r.MarketType), r.MarketID, r.SelectionID,
			r.Price, r.Size, r.SizeMatched, r.SizeRemaining, r.AveragePriceMatched,
			r.BetIDs, string(r.StrategyRef), timePtr(r.PlacedDate), updatedAt(r.UpdatedAt).UTC(),
		)
	}
	if err := s.sendBatch(ctx, batch); err != nil {
		return fmt.Errorf("storage.UpsertPendingOrders: %w", err)
	}
	return nil
}

func (s *PostgresStorage) sendBatch(ctx context.Context, batch *pgx.Batch) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	br := tx.SendBatch(ctx, batch)
	for range batch.Len() {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("exec: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// DeletePendingOrders removes pending rows by unique id.
func (s *PostgresStorage) DeletePendingOrders(ctx context.Context, uniqueIDs []string) error {
	if len(uniqueIDs) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_orders WHERE unique_id = ANY($1)`, uniqueIDs); err != nil {
		return fmt.Errorf("storage.DeletePendingOrders: %w", err)
	}
	return nil
}

// PendingOrders returns every pending row ordered by race time.
func (s *PostgresStorage) PendingOrders(ctx context.Context) ([]domain.PendingOrderRow, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT unique_id, race_id, race_time, horse_id, horse_name, side, market_type, market_id,
		       selection_id, price, size, size_matched, size_remaining, average_price_matched,
		       bet_ids, strategy_ref, placed_date, updated_at
		FROM pending_orders
		ORDER BY race_time, unique_id`)
	if err != nil {
		return nil, fmt.Errorf("storage.PendingOrders: query: %w", err)
	}
	defer rows.Close()

	var out []domain.PendingOrderRow
	for rows.Next() {
		var (
			r                     domain.PendingOrderRow
			side, marketType, ref string
			placed                *time.Time
		)
		if err := rows.Scan(
			&r.UniqueID, &r.RaceID, &r.RaceTime, &r.HorseID, &r.HorseName, &side, &marketType, &r.MarketID,
			&r.SelectionID, &r.Price, &r.Size, &r.SizeMatched, &r.SizeRemaining, &r.AveragePriceMatched,
			&r.BetIDs, &ref, &placed, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: scan row: %w", err)
		}
		if r.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: %s: %w", r.UniqueID, err)
		}
		if r.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: %s: %w", r.UniqueID, err)
		}
		r.RaceTime = r.RaceTime.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		if placed != nil {
			r.PlacedDate = placed.UTC()
		}
		r.StrategyRef = domain.StrategyRef(ref)
		out = append(out, r)
	}
	return out, rows.Err()
}

// BetLog returns the bet log rows of day, or every row when day is zero.
func (s *PostgresStorage) BetLog(ctx context.Context, day time.Time) ([]domain.BetLogRow, error) {
	var d *time.Time
	if !day.IsZero() {
		v := dayOf(day)
		d = &v
	}
	rows, err := s.pool.Query(ctx, `
		SELECT unique_id, race_id, race_time, horse_id, horse_name, side, market_type,
		       market_id, selection_id, requested_odds, matched_size, average_price_matched,
		       profit, commission, outcome, bet_count, settled_date, updated_at
		FROM bet_log
		WHERE ($1::date IS NULL OR race_day = $1)
		ORDER BY race_time, unique_id`, d)
	if err != nil {
		return nil, fmt.Errorf("storage.BetLog: query: %w", err)
	}
	defer rows.Close()

	var out []domain.BetLogRow
	for rows.Next() {
		var (
			r                domain.BetLogRow
			side, marketType string
			settled          *time.Time
		)
		if err := rows.Scan(
			&r.UniqueID, &r.RaceID, &r.RaceTime, &r.HorseID, &r.HorseName, &side, &marketType,
			&r.MarketID, &r.SelectionID, &r.RequestedOdds, &r.MatchedSize, &r.AveragePriceMatched,
			&r.Profit, &r.Commission, &r.Outcome, &r.BetCount, &settled, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("storage.BetLog: scan row: %w", err)
		}
		if r.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.BetLog: %s: %w", r.UniqueID, err)
		}
		if r.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.BetLog: %s: %w", r.UniqueID, err)
		}
		r.RaceTime = r.RaceTime.UTC()
		r.UpdatedAt = r.UpdatedAt.UTC()
		if settled != nil {
			t := settled.UTC()
			r.SettledDate = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// dayOf returns midnight UTC of t's date.
func dayOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
