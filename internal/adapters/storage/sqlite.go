package storage

// sqlite.go: default backend.
//
// Tables:
//   selections      one row per back/lay intent, plus the matching
//                   progress last reported by the exchange
//   bet_log         one row per selection whose orders are complete
//   pending_orders  one row per selection with executable orders
//
// Times are stored as fixed-width UTC text so they sort lexicographically.

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/alejandrodnm/racebot/internal/domain"
	"github.com/alejandrodnm/racebot/internal/ports"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS selections (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TEXT NOT NULL,
    race_day              TEXT NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    requested_odds        REAL NOT NULL,
    stake_points          REAL NOT NULL DEFAULT 1,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    valid                 INTEGER NOT NULL DEFAULT 1,
    invalidated_reason    TEXT NOT NULL DEFAULT '',
    original_runners      INTEGER NOT NULL DEFAULT 0,
    original_price        REAL NOT NULL DEFAULT 0,
    place_terms_changed   INTEGER NOT NULL DEFAULT 0,
    cash_out_requested    INTEGER NOT NULL DEFAULT 0,
    expires_at            TEXT,
    total_matched         REAL NOT NULL DEFAULT 0,
    average_price_matched REAL NOT NULL DEFAULT 0,
    total_liability       REAL NOT NULL DEFAULT 0,
    bet_count             INTEGER NOT NULL DEFAULT 0,
    has_bet               INTEGER NOT NULL DEFAULT 0,
    updated_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_selections_day    ON selections(race_day);
CREATE INDEX IF NOT EXISTS idx_selections_market ON selections(market_id);

CREATE TABLE IF NOT EXISTS bet_log (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TEXT NOT NULL,
    race_day              TEXT NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    requested_odds        REAL NOT NULL DEFAULT 0,
    matched_size          REAL NOT NULL DEFAULT 0,
    average_price_matched REAL NOT NULL DEFAULT 0,
    profit                REAL NOT NULL DEFAULT 0,
    commission            REAL NOT NULL DEFAULT 0,
    outcome               TEXT NOT NULL,
    bet_count             INTEGER NOT NULL DEFAULT 0,
    settled_date          TEXT,
    updated_at            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bet_log_day ON bet_log(race_day);

CREATE TABLE IF NOT EXISTS pending_orders (
    unique_id             TEXT PRIMARY KEY,
    race_id               TEXT NOT NULL,
    race_time             TEXT NOT NULL,
    horse_id              TEXT NOT NULL DEFAULT '',
    horse_name            TEXT NOT NULL DEFAULT '',
    side                  TEXT NOT NULL,
    market_type           TEXT NOT NULL,
    market_id             TEXT NOT NULL,
    selection_id          TEXT NOT NULL,
    price                 REAL NOT NULL DEFAULT 0,
    size                  REAL NOT NULL DEFAULT 0,
    size_matched          REAL NOT NULL DEFAULT 0,
    size_remaining        REAL NOT NULL DEFAULT 0,
    average_price_matched REAL NOT NULL DEFAULT 0,
    bet_ids               TEXT NOT NULL DEFAULT '',
    strategy_ref          TEXT NOT NULL DEFAULT '',
    placed_date           TEXT,
    updated_at            TEXT NOT NULL
);
`

// timeLayout is fixed width so stored times compare as strings.
const timeLayout = "2006-01-02T15:04:05.000Z"

var _ ports.Storage = (*SQLiteStorage)(nil)

// SQLiteStorage implements ports.Storage on SQLite (pure Go, no CGo).
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the database at path and applies the schema.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStorage: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStorage: apply schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- selections ---

// SaveSelection inserts or replaces the definition of a selection. Stored
// matching progress and invalidation are kept on conflict.
func (s *SQLiteStorage) SaveSelection(ctx context.Context, sel domain.SelectionState) error {
	now := fmtTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selections
			(unique_id, race_id, race_time, race_day, horse_id, horse_name, side, market_type,
			 requested_odds, stake_points, market_id, selection_id, valid, invalidated_reason,
			 original_runners, original_price, place_terms_changed, cash_out_requested,
			 expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			race_id             = excluded.race_id,
			race_time           = excluded.race_time,
			race_day            = excluded.race_day,
			horse_id            = excluded.horse_id,
			horse_name          = excluded.horse_name,
			side                = excluded.side,
			market_type         = excluded.market_type,
			requested_odds      = excluded.requested_odds,
			stake_points        = excluded.stake_points,
			market_id           = excluded.market_id,
			selection_id        = excluded.selection_id,
			original_runners    = excluded.original_runners,
			original_price      = excluded.original_price,
			place_terms_changed = excluded.place_terms_changed,
			cash_out_requested  = excluded.cash_out_requested,
			expires_at          = excluded.expires_at,
			updated_at          = excluded.updated_at
	`,
		sel.UniqueID, sel.RaceID, fmtTime(sel.RaceTime), fmtDay(sel.RaceTime),
		sel.HorseID, sel.HorseName, string(sel.Side), string(sel.MarketType),
		sel.RequestedOdds, sel.StakePoints, sel.MarketID, sel.SelectionID,
		boolInt(sel.Valid), sel.InvalidatedReason,
		sel.OriginalRunners, sel.OriginalPrice, boolInt(sel.PlaceTermsChanged), boolInt(sel.CashOutRequested),
		nullTime(sel.ExpiresAt), now,
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSelection: %s: %w", sel.UniqueID, err)
	}
	return nil
}

// FetchSelections returns the selections matching filter, ordered by race time.
func (s *SQLiteStorage) FetchSelections(ctx context.Context, f domain.SelectionFilter) ([]domain.SelectionState, error) {
	var (
		where []string
		args  []any
	)
	if !f.Day.IsZero() {
		where = append(where, "race_day = ?")
		args = append(args, fmtDay(f.Day))
	}
	if f.OnlyValid {
		where = append(where, "valid = 1")
	}
	if len(f.MarketIDs) > 0 {
		where = append(where, "market_id IN ("+placeholders(len(f.MarketIDs))+")")
		for _, id := range f.MarketIDs {
			args = append(args, id)
		}
	}
	query := `
		SELECT unique_id, race_id, race_time, horse_id, horse_name, side, market_type,
		       requested_odds, stake_points, market_id, selection_id, valid, invalidated_reason,
		       original_runners, original_price, place_terms_changed, cash_out_requested,
		       expires_at, total_matched, average_price_matched, total_liability, bet_count, has_bet
		FROM selections`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY race_time, unique_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.FetchSelections: query: %w", err)
	}
	defer rows.Close()

	var out []domain.SelectionState
	for rows.Next() {
		var (
			sel                                domain.SelectionState
			raceTime, side, marketType         string
			expiresAt                          sql.NullString
			valid, placeTerms, cashOut, hasBet int
		)
		if err := rows.Scan(
			&sel.UniqueID, &sel.RaceID, &raceTime, &sel.HorseID, &sel.HorseName, &side, &marketType,
			&sel.RequestedOdds, &sel.StakePoints, &sel.MarketID, &sel.SelectionID, &valid, &sel.InvalidatedReason,
			&sel.OriginalRunners, &sel.OriginalPrice, &placeTerms, &cashOut,
			&expiresAt, &sel.TotalMatched, &sel.AveragePriceMatched, &sel.TotalLiability, &sel.BetCount, &hasBet,
		); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: scan row: %w", err)
		}
		if sel.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: %s: %w", sel.UniqueID, err)
		}
		if sel.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.FetchSelections: %s: %w", sel.UniqueID, err)
		}
		sel.RaceTime = parseTime(raceTime)
		sel.ExpiresAt = parseNullTime(expiresAt)
		sel.Valid = valid == 1
		sel.PlaceTermsChanged = placeTerms == 1
		sel.CashOutRequested = cashOut == 1
		sel.HasBet = hasBet == 1
		out = append(out, sel)
	}
	return out, rows.Err()
}

// InvalidateSelection marks a selection invalid. The first reason wins.
func (s *SQLiteStorage) InvalidateSelection(ctx context.Context, inv domain.Invalidation) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE selections SET valid = 0, invalidated_reason = ?, updated_at = ?
		WHERE unique_id = ? AND valid = 1`,
		inv.Reason, fmtTime(time.Now()), inv.UniqueID,
	)
	if err != nil {
		return fmt.Errorf("storage.InvalidateSelection: %s: %w", inv.UniqueID, err)
	}
	return nil
}

// UpdateSelectionProgress stores the matching progress of one selection.
func (s *SQLiteStorage) UpdateSelectionProgress(ctx context.Context, p domain.SelectionProgress) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE selections SET
			total_matched = ?, average_price_matched = ?, total_liability = ?,
			bet_count = ?, has_bet = ?, updated_at = ?
		WHERE unique_id = ?`,
		p.TotalMatched, p.AveragePriceMatched, p.TotalLiability,
		p.BetCount, boolInt(p.HasBet), fmtTime(time.Now()), p.UniqueID,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateSelectionProgress: %s: %w", p.UniqueID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateSelectionProgress: %s: %w", p.UniqueID, ports.ErrNotFound)
	}
	return nil
}

// RaceTimes maps each known market id to its race start.
func (s *SQLiteStorage) RaceTimes(ctx context.Context, marketIDs []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(marketIDs))
	for i, id := range marketIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT market_id, MIN(race_time) FROM selections
		 WHERE market_id IN (`+placeholders(len(marketIDs))+`)
		 GROUP BY market_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.RaceTimes: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, raceTime string
		if err := rows.Scan(&id, &raceTime); err != nil {
			return nil, fmt.Errorf("storage.RaceTimes: scan row: %w", err)
		}
		out[id] = parseTime(raceTime)
	}
	return out, rows.Err()
}

// LatestRaceTime returns the last race start on day.
func (s *SQLiteStorage) LatestRaceTime(ctx context.Context, day time.Time) (time.Time, error) {
	var latest sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(race_time) FROM selections WHERE race_day = ?`, fmtDay(day),
	).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage.LatestRaceTime: %w", err)
	}
	if !latest.Valid {
		return time.Time{}, fmt.Errorf("storage.LatestRaceTime: %s: %w", fmtDay(day), ports.ErrNotFound)
	}
	return parseTime(latest.String), nil
}

// --- ledger ---

// UpsertBetLog writes bet log rows, replacing existing rows with the same unique id.
func (s *SQLiteStorage) UpsertBetLog(ctx context.Context, rows []domain.BetLogRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpsertBetLog: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO bet_log
			(unique_id, race_id, race_time, race_day, horse_id, horse_name, side, market_type,
			 market_id, selection_id, requested_odds, matched_size, average_price_matched,
			 profit, commission, outcome, bet_count, settled_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			matched_size          = excluded.matched_size,
			average_price_matched = excluded.average_price_matched,
			profit                = excluded.profit,
			commission            = excluded.commission,
			outcome               = excluded.outcome,
			bet_count             = excluded.bet_count,
			settled_date          = excluded.settled_date,
			updated_at            = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("storage.UpsertBetLog: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		var settled any
		if r.SettledDate != nil {
			settled = fmtTime(*r.SettledDate)
		}
		if _, err := stmt.ExecContext(ctx,
			r.UniqueID, r.RaceID, fmtTime(r.RaceTime), fmtDay(r.RaceTime), r.HorseID, r.HorseName,
			string(r.Side), string(r.MarketType), r.MarketID, r.SelectionID, r.RequestedOdds,
			r.MatchedSize, r.AveragePriceMatched, r.Profit, r.Commission, r.Outcome, r.BetCount,
			settled, fmtTime(updatedAt(r.UpdatedAt)),
		); err != nil {
			return fmt.Errorf("storage.UpsertBetLog: upsert %s: %w", r.UniqueID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpsertBetLog: commit: %w", err)
	}
	return nil
}

// UpsertPendingOrders writes pending order rows, replacing rows with the same unique id.
func (s *SQLiteStorage) UpsertPendingOrders(ctx context.Context, rows []domain.PendingOrderRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpsertPendingOrders: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pending_orders
			(unique_id, race_id, race_time, horse_id, horse_name, side, market_type, market_id,
			 selection_id, price, size, size_matched, size_remaining, average_price_matched,
			 bet_ids, strategy_ref, placed_date, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(unique_id) DO UPDATE SET
			price                 = excluded.price,
			size                  = excluded.size,
			size_matched          = excluded.size_matched,
			size_remaining        = excluded.size_remaining,
			average_price_matched = excluded.average_price_matched,
			bet_ids               = excluded.bet_ids,
			strategy_ref          = excluded.strategy_ref,
			placed_date           = excluded.placed_date,
			updated_at            = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("storage.UpsertPendingOrders: prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx,
			r.UniqueID, r.RaceID, fmtTime(r.RaceTime), r.HorseID, r.HorseName,
			string(r.Side), string(r.MarketType), r.MarketID, r.SelectionID,
			r.Price, r.Size, r.SizeMatched, r.SizeRemaining, r.AveragePriceMatched,
			r.BetIDs, string(r.StrategyRef), nullTime(r.PlacedDate), fmtTime(updatedAt(r.UpdatedAt)),
		); err != nil {
			return fmt.Errorf("storage.UpsertPendingOrders: upsert %s: %w", r.UniqueID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpsertPendingOrders: commit: %w", err)
	}
	return nil
}

// DeletePendingOrders removes pending rows by unique id.
func (s *SQLiteStorage) DeletePendingOrders(ctx context.Context, uniqueIDs []string) error {
	if len(uniqueIDs) == 0 {
		return nil
	}
	args := make([]any, len(uniqueIDs))
	for i, id := range uniqueIDs {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM pending_orders WHERE unique_id IN (`+placeholders(len(uniqueIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("storage.DeletePendingOrders: %w", err)
	}
	return nil
}

// PendingOrders returns every pending row ordered by race time.
func (s *SQLiteStorage) PendingOrders(ctx context.Context) ([]domain.PendingOrderRow, error) {
	rows, err := s.db.QueryContext(ctx, `
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
			r                                       domain.PendingOrderRow
			raceTime, side, marketType, ref, update string
			placed                                  sql.NullString
		)
		if err := rows.Scan(
			&r.UniqueID, &r.RaceID, &raceTime, &r.HorseID, &r.HorseName, &side, &marketType, &r.MarketID,
			&r.SelectionID, &r.Price, &r.Size, &r.SizeMatched, &r.SizeRemaining, &r.AveragePriceMatched,
			&r.BetIDs, &ref, &placed, &update,
		); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: scan row: %w", err)
		}
		if r.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: %s: %w", r.UniqueID, err)
		}
		if r.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.PendingOrders: %s: %w", r.UniqueID, err)
		}
		r.RaceTime = parseTime(raceTime)
		r.PlacedDate = parseNullTime(placed)
		r.UpdatedAt = parseTime(update)
		r.StrategyRef = domain.StrategyRef(ref)
		out = append(out, r)
	}
	return out, rows.Err()
}

// BetLog returns the bet log rows of day, or every row when day is zero.
func (s *SQLiteStorage) BetLog(ctx context.Context, day time.Time) ([]domain.BetLogRow, error) {
	query := `
		SELECT unique_id, race_id, race_time, horse_id, horse_name, side, market_type,
		       market_id, selection_id, requested_odds, matched_size, average_price_matched,
		       profit, commission, outcome, bet_count, settled_date, updated_at
		FROM bet_log`
	var args []any
	if !day.IsZero() {
		query += " WHERE race_day = ?"
		args = append(args, fmtDay(day))
	}
	query += " ORDER BY race_time, unique_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage.BetLog: query: %w", err)
	}
	defer rows.Close()

	var out []domain.BetLogRow
	for rows.Next() {
		var (
			r                                  domain.BetLogRow
			raceTime, side, marketType, update string
			settled                            sql.NullString
		)
		if err := rows.Scan(
			&r.UniqueID, &r.RaceID, &raceTime, &r.HorseID, &r.HorseName, &side, &marketType,
			&r.MarketID, &r.SelectionID, &r.RequestedOdds, &r.MatchedSize, &r.AveragePriceMatched,
			&r.Profit, &r.Commission, &r.Outcome, &r.BetCount, &settled, &update,
		); err != nil {
			return nil, fmt.Errorf("storage.BetLog: scan row: %w", err)
		}
		if r.Side, err = domain.ParseSide(side); err != nil {
			return nil, fmt.Errorf("storage.BetLog: %s: %w", r.UniqueID, err)
		}
		if r.MarketType, err = domain.ParseMarketType(marketType); err != nil {
			return nil, fmt.Errorf("storage.BetLog: %s: %w", r.UniqueID, err)
		}
		r.RaceTime = parseTime(raceTime)
		r.UpdatedAt = parseTime(update)
		if t := parseNullTime(settled); !t.IsZero() {
			r.SettledDate = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- helpers ---

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func fmtDay(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return fmtTime(t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return parseTime(s.String)
}

func updatedAt(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}
