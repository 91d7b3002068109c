package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/arena-engine/internal/model"
)

// Books and sequence counters start over on every boot while competition
// ids such as default_competition repeat, so every journal row is keyed by
// the run that wrote it.
const schema = `
CREATE TABLE IF NOT EXISTS competitions (
	run_id           TEXT NOT NULL,
	id               TEXT NOT NULL,
	name             TEXT NOT NULL,
	start_time       TIMESTAMPTZ NOT NULL,
	end_time         TIMESTAMPTZ NOT NULL,
	symbols          TEXT[] NOT NULL,
	max_participants INTEGER NOT NULL,
	PRIMARY KEY (run_id, id)
);

CREATE TABLE IF NOT EXISTS trades (
	id                 TEXT PRIMARY KEY,
	run_id             TEXT NOT NULL,
	competition_id     TEXT NOT NULL,
	symbol             TEXT NOT NULL,
	price              NUMERIC NOT NULL,
	quantity           BIGINT NOT NULL,
	aggressor_order_id TEXT NOT NULL,
	resting_order_id   TEXT NOT NULL,
	aggressor_user_id  TEXT NOT NULL,
	resting_user_id    TEXT NOT NULL,
	aggressor_side     TEXT NOT NULL,
	sequence           BIGINT NOT NULL,
	timestamp          TIMESTAMPTZ NOT NULL,
	UNIQUE (run_id, competition_id, sequence),
	FOREIGN KEY (run_id, competition_id) REFERENCES competitions (run_id, id)
);

CREATE INDEX IF NOT EXISTS trades_aggressor_user ON trades (run_id, competition_id, aggressor_user_id);
CREATE INDEX IF NOT EXISTS trades_resting_user ON trades (run_id, competition_id, resting_user_id);
`

// PostgresStore implements Store on PostgreSQL. Prices are stored as
// NUMERIC for exact decimal precision. Writes and trade reads are scoped to
// runID; ListCompetitions spans every run.
type PostgresStore struct {
	pool  *pgxpool.Pool
	runID string
}

// NewPostgresStore creates a PostgreSQL-backed store for one process run.
func NewPostgresStore(pool *pgxpool.Pool, runID string) *PostgresStore {
	return &PostgresStore{pool: pool, runID: runID}
}

// EnsureSchema creates the journal tables if they are missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const insertCompetitionSQL = `INSERT INTO competitions (run_id, id, name, start_time, end_time, symbols, max_participants)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (run_id, id) DO NOTHING`

func (s *PostgresStore) CreateCompetition(ctx context.Context, c model.CompetitionInfo) error {
	_, err := s.pool.Exec(ctx, insertCompetitionSQL, s.competitionArgs(c)...)
	return err
}

func (s *PostgresStore) competitionArgs(c model.CompetitionInfo) []any {
	return []any{s.runID, c.ID, c.Name, c.StartTime, c.EndTime, c.Symbols, c.MaxParticipants}
}

func (s *PostgresStore) ListCompetitions(ctx context.Context) ([]model.CompetitionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, id, name, start_time, end_time, symbols, max_participants
		 FROM competitions ORDER BY start_time DESC, id, run_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	comps := []model.CompetitionInfo{}
	for rows.Next() {
		var c model.CompetitionInfo
		if err := rows.Scan(&c.RunID, &c.ID, &c.Name, &c.StartTime, &c.EndTime, &c.Symbols, &c.MaxParticipants); err != nil {
			return nil, err
		}
		comps = append(comps, c)
	}
	return comps, rows.Err()
}

const insertTradeSQL = `INSERT INTO trades (id, run_id, competition_id, symbol, price, quantity,
	                    aggressor_order_id, resting_order_id,
	                    aggressor_user_id, resting_user_id,
	                    aggressor_side, sequence, timestamp)
	VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (id) DO NOTHING`

// InsertTrades writes the batch in one round trip. Replays of the same
// trade id are ignored.
func (s *PostgresStore) InsertTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, t := range trades {
		batch.Queue(insertTradeSQL, s.tradeArgs(t)...)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert %d trades: %w", len(trades), err)
	}
	return nil
}

func (s *PostgresStore) tradeArgs(t model.Trade) []any {
	return []any{
		t.ID, s.runID, t.CompetitionID, t.Symbol, t.Price.String(), t.Quantity,
		t.AggressorOrderID, t.RestingOrderID,
		t.AggressorUserID, t.RestingUserID,
		string(t.AggressorSide), int64(t.Sequence), t.Timestamp,
	}
}

func (s *PostgresStore) GetTradesByCompetition(ctx context.Context, competitionID string, limit int) ([]model.Trade, error) {
	query, args := s.tradesByCompetitionQuery(competitionID, limit)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) tradesByCompetitionQuery(competitionID string, limit int) (string, []any) {
	if limit > 0 {
		return `SELECT * FROM (SELECT ` + tradeColumns + ` FROM trades
		        WHERE run_id = $1 AND competition_id = $2
		        ORDER BY sequence DESC LIMIT $3) t ORDER BY sequence`,
			[]any{s.runID, competitionID, limit}
	}
	return `SELECT ` + tradeColumns + ` FROM trades
	        WHERE run_id = $1 AND competition_id = $2 ORDER BY sequence`,
		[]any{s.runID, competitionID}
}

func (s *PostgresStore) GetTradesByUser(ctx context.Context, competitionID, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+tradeColumns+` FROM trades
		 WHERE run_id = $1 AND competition_id = $2 AND (aggressor_user_id = $3 OR resting_user_id = $3)
		 ORDER BY sequence`, s.runID, competitionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

const tradeColumns = `id, competition_id, symbol, price::TEXT, quantity,
	aggressor_order_id, resting_order_id, aggressor_user_id, resting_user_id,
	aggressor_side, sequence, timestamp`

// pgxRows is the subset of pgx.Rows used by scanTrades.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	trades := []model.Trade{}
	for rows.Next() {
		var t model.Trade
		var priceS, side string
		var seq int64

		if err := rows.Scan(&t.ID, &t.CompetitionID, &t.Symbol, &priceS, &t.Quantity,
			&t.AggressorOrderID, &t.RestingOrderID, &t.AggressorUserID, &t.RestingUserID,
			&side, &seq, &t.Timestamp); err != nil {
			return nil, err
		}

		price, err := decimal.NewFromString(priceS)
		if err != nil {
			return nil, fmt.Errorf("trade %s price %q: %w", t.ID, priceS, err)
		}
		t.Price = price
		t.AggressorSide = model.Side(side)
		t.Sequence = uint64(seq)

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
