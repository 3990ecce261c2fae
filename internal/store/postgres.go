package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
)

// PostgresStore implements Store on PostgreSQL. Monetary values are stored
// as NUMERIC and passed as decimal strings.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS portfolios (
		agent_id TEXT PRIMARY KEY,
		cash NUMERIC NOT NULL,
		position JSONB,
		total_value NUMERIC NOT NULL,
		initial_value NUMERIC NOT NULL,
		day_start_value NUMERIC NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS trades (
		seq BIGSERIAL,
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		side TEXT NOT NULL,
		asset TEXT NOT NULL,
		price NUMERIC NOT NULL,
		quantity NUMERIC NOT NULL,
		value NUMERIC NOT NULL,
		fee NUMERIC NOT NULL,
		pnl NUMERIC NOT NULL,
		strategy TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_agent_ts ON trades(agent_id, ts)`,
	`CREATE TABLE IF NOT EXISTS activity (
		id BIGSERIAL PRIMARY KEY,
		ts TIMESTAMPTZ NOT NULL,
		level TEXT NOT NULL,
		agent_id TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL
	)`,
}

// NewPostgresStore wraps an existing pool. The schema must already exist;
// see OpenPostgres.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("init postgres schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) initSchema(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) Name() string { return "postgres" }

func (s *PostgresStore) IsAvailable(ctx context.Context) bool {
	return s.pool.Ping(ctx) == nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func num(v float64) string { return decimal.NewFromFloat(v).String() }

func fromNum(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func notFound(err error) bool { return errors.Is(err, pgx.ErrNoRows) }

func (s *PostgresStore) SaveConfiguration(ctx context.Context, cfg models.AgentConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO agents (id, name, config, created_at, updated_at)
		 VALUES ($1, $2, $3::JSONB, $4, now())
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, config = EXCLUDED.config, updated_at = now()`,
		cfg.ID, cfg.Name, string(data), createdAt)
	if err != nil {
		return fmt.Errorf("save config %s: %w", cfg.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT config::TEXT FROM agents WHERE id = $1`, agentID).Scan(&data)
	if notFound(err) {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get config %s: %w", agentID, err)
	}

	var cfg models.AgentConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", agentID, err)
	}
	return &cfg, nil
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]models.AgentConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT config::TEXT FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []models.AgentConfig
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var cfg models.AgentConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, agentID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, q := range []string{
		`DELETE FROM trades WHERE agent_id = $1`,
		`DELETE FROM portfolios WHERE agent_id = $1`,
		`DELETE FROM agents WHERE id = $1`,
	} {
		if _, err := tx.Exec(ctx, q, agentID); err != nil {
			return fmt.Errorf("delete agent %s: %w", agentID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) SavePortfolioState(ctx context.Context, agentID string, p models.Portfolio) error {
	var position *string
	if p.Position != nil {
		data, err := json.Marshal(p.Position)
		if err != nil {
			return err
		}
		str := string(data)
		position = &str
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO portfolios (agent_id, cash, position, total_value, initial_value, day_start_value, updated_at)
		 VALUES ($1, $2::NUMERIC, $3::JSONB, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, now())
		 ON CONFLICT (agent_id) DO UPDATE SET
		     cash = EXCLUDED.cash, position = EXCLUDED.position,
		     total_value = EXCLUDED.total_value, initial_value = EXCLUDED.initial_value,
		     day_start_value = EXCLUDED.day_start_value, updated_at = now()`,
		agentID, num(p.Cash), position, num(p.TotalValue), num(p.InitialValue), num(p.DayStartValue))
	if err != nil {
		return fmt.Errorf("save portfolio %s: %w", agentID, err)
	}
	return nil
}

func (s *PostgresStore) GetCurrentPortfolio(ctx context.Context, agentID string) (*models.Portfolio, error) {
	var cash, total, initial, dayStart string
	var position *string

	err := s.pool.QueryRow(ctx,
		`SELECT cash::TEXT, position::TEXT, total_value::TEXT, initial_value::TEXT, day_start_value::TEXT
		 FROM portfolios WHERE agent_id = $1`, agentID).
		Scan(&cash, &position, &total, &initial, &dayStart)
	if notFound(err) {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get portfolio %s: %w", agentID, err)
	}

	p := &models.Portfolio{
		Cash:          fromNum(cash),
		TotalValue:    fromNum(total),
		InitialValue:  fromNum(initial),
		DayStartValue: fromNum(dayStart),
	}
	if position != nil {
		var pos models.Position
		if err := json.Unmarshal([]byte(*position), &pos); err != nil {
			return nil, fmt.Errorf("decode position %s: %w", agentID, err)
		}
		p.Position = &pos
	}
	return p, nil
}

func (s *PostgresStore) SaveTrade(ctx context.Context, agentID string, t models.Trade) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, agent_id, ts, side, asset, price, quantity, value, fee, pnl, strategy, reason)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		t.ID, agentID, t.Timestamp, string(t.Side), t.Asset,
		num(t.Price), num(t.Quantity), num(t.Value), num(t.Fee), num(t.PnL),
		t.Strategy, t.Reason)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM trades WHERE agent_id = $1 AND id NOT IN (
		     SELECT id FROM trades WHERE agent_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2)`,
		agentID, MaxTrades)
	if err != nil {
		return fmt.Errorf("trim trades %s: %w", agentID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetTrades(ctx context.Context, agentID string, limit int) ([]models.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, side, asset, price::TEXT, quantity::TEXT, value::TEXT, fee::TEXT, pnl::TEXT, strategy, reason
		 FROM trades WHERE agent_id = $1 ORDER BY ts DESC, seq DESC LIMIT $2`,
		agentID, clampLimit(limit, MaxTrades))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side, price, qty, value, fee, pnl string
		if err := rows.Scan(&t.ID, &t.Timestamp, &side, &t.Asset, &price, &qty, &value, &fee, &pnl, &t.Strategy, &t.Reason); err != nil {
			return nil, err
		}
		t.Side = models.Side(side)
		t.Price = fromNum(price)
		t.Quantity = fromNum(qty)
		t.Value = fromNum(value)
		t.Fee = fromNum(fee)
		t.PnL = fromNum(pnl)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(trades)
	return trades, nil
}

func (s *PostgresStore) SaveActivity(ctx context.Context, entry models.ActivityEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO activity (ts, level, agent_id, message) VALUES ($1, $2, $3, $4)`,
		entry.Timestamp, string(entry.Level), entry.AgentID, entry.Message)
	if err != nil {
		return fmt.Errorf("save activity: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`DELETE FROM activity WHERE id NOT IN (SELECT id FROM activity ORDER BY id DESC LIMIT $1)`,
		MaxActivity)
	return err
}

func (s *PostgresStore) GetActivity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT ts, level, agent_id, message FROM activity ORDER BY id DESC LIMIT $1`,
		clampLimit(limit, MaxActivity))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		var level string
		if err := rows.Scan(&e.Timestamp, &level, &e.AgentID, &e.Message); err != nil {
			return nil, err
		}
		e.Level = models.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(entries)
	return entries, nil
}
