package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	apperrors "papertrader/internal/errors"
	"papertrader/internal/models"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per agent; config is the JSON encoded AgentConfig
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		config TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Latest portfolio snapshot per agent
	CREATE TABLE IF NOT EXISTS portfolios (
		agent_id TEXT PRIMARY KEY,
		cash REAL NOT NULL,
		position TEXT,
		total_value REAL NOT NULL,
		initial_value REAL NOT NULL,
		day_start_value REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Simulated fills, trimmed to the most recent rows per agent
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		side TEXT NOT NULL,
		asset TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		value REAL NOT NULL,
		fee REAL NOT NULL,
		pnl REAL NOT NULL,
		strategy TEXT,
		reason TEXT
	);

	-- Orchestrator activity log
	CREATE TABLE IF NOT EXISTS activity (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		agent_id TEXT,
		message TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_agent_timestamp ON trades(agent_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_activity_timestamp ON activity(timestamp);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// IsAvailable implements Store.
func (s *SQLiteStore) IsAvailable(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Configuration
// ============================================================================

// SaveConfiguration upserts an agent's configuration.
func (s *SQLiteStore) SaveConfiguration(ctx context.Context, cfg models.AgentConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	createdAt := cfg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, config, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			config = excluded.config,
			updated_at = CURRENT_TIMESTAMP
	`, cfg.ID, cfg.Name, string(data), createdAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// GetConfiguration returns the stored configuration for agentID.
func (s *SQLiteStore) GetConfiguration(ctx context.Context, agentID string) (*models.AgentConfig, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM agents WHERE id = ?`, agentID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config: %w", err)
	}

	var cfg models.AgentConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// ListAgents returns every stored configuration, oldest first.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]models.AgentConfig, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT config FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query agents: %w", err)
	}
	defer rows.Close()

	var configs []models.AgentConfig
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		var cfg models.AgentConfig
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config: %w", err)
		}
		configs = append(configs, cfg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agents: %w", err)
	}
	return configs, nil
}

// DeleteAgent removes the agent and all its records.
func (s *SQLiteStore) DeleteAgent(ctx context.Context, agentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM trades WHERE agent_id = ?`,
		`DELETE FROM portfolios WHERE agent_id = ?`,
		`DELETE FROM agents WHERE id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, agentID); err != nil {
			return fmt.Errorf("failed to delete agent: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ============================================================================
// Portfolio
// ============================================================================

// SavePortfolioState replaces the agent's portfolio snapshot.
func (s *SQLiteStore) SavePortfolioState(ctx context.Context, agentID string, p models.Portfolio) error {
	var position sql.NullString
	if p.Position != nil {
		data, err := json.Marshal(p.Position)
		if err != nil {
			return fmt.Errorf("failed to encode position: %w", err)
		}
		position = sql.NullString{String: string(data), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO portfolios (agent_id, cash, position, total_value, initial_value, day_start_value, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, agentID, p.Cash, position, p.TotalValue, p.InitialValue, p.DayStartValue)
	if err != nil {
		return fmt.Errorf("failed to save portfolio: %w", err)
	}
	return nil
}

// GetCurrentPortfolio returns the agent's latest portfolio snapshot.
func (s *SQLiteStore) GetCurrentPortfolio(ctx context.Context, agentID string) (*models.Portfolio, error) {
	var p models.Portfolio
	var position sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT cash, position, total_value, initial_value, day_start_value
		FROM portfolios WHERE agent_id = ?
	`, agentID).Scan(&p.Cash, &position, &p.TotalValue, &p.InitialValue, &p.DayStartValue)
	if err == sql.ErrNoRows {
		return nil, apperrors.ErrDataNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get portfolio: %w", err)
	}

	if position.Valid && position.String != "" {
		var pos models.Position
		if err := json.Unmarshal([]byte(position.String), &pos); err != nil {
			return nil, fmt.Errorf("failed to decode position: %w", err)
		}
		p.Position = &pos
	}
	return &p, nil
}

// ============================================================================
// Trades
// ============================================================================

// SaveTrade records a trade and trims the agent's history to MaxTrades.
func (s *SQLiteStore) SaveTrade(ctx context.Context, agentID string, t models.Trade) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (id, agent_id, timestamp, side, asset, price, quantity, value, fee, pnl, strategy, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, agentID, t.Timestamp.UTC(), string(t.Side), t.Asset, t.Price, t.Quantity, t.Value, t.Fee, t.PnL, t.Strategy, t.Reason)
	if err != nil {
		return fmt.Errorf("failed to log trade: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM trades WHERE agent_id = ? AND id NOT IN (
			SELECT id FROM trades WHERE agent_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ?
		)
	`, agentID, agentID, MaxTrades)
	if err != nil {
		return fmt.Errorf("failed to trim trades: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTrades implements Store.
func (s *SQLiteStore) GetTrades(ctx context.Context, agentID string, limit int) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, side, asset, price, quantity, value, fee, pnl, strategy, reason
		FROM trades WHERE agent_id = ?
		ORDER BY timestamp DESC, rowid DESC LIMIT ?
	`, agentID, clampLimit(limit, MaxTrades))
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side string
		var strategy, reason sql.NullString
		if err := rows.Scan(&t.ID, &t.Timestamp, &side, &t.Asset, &t.Price, &t.Quantity, &t.Value, &t.Fee, &t.PnL, &strategy, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = models.Side(side)
		t.Strategy = strategy.String
		t.Reason = reason.String
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	reverse(trades)
	return trades, nil
}

// ============================================================================
// Activity
// ============================================================================

// SaveActivity appends an activity entry and trims the log to MaxActivity.
func (s *SQLiteStore) SaveActivity(ctx context.Context, entry models.ActivityEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activity (timestamp, level, agent_id, message) VALUES (?, ?, ?, ?)
	`, entry.Timestamp.UTC(), string(entry.Level), entry.AgentID, entry.Message)
	if err != nil {
		return fmt.Errorf("failed to save activity: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM activity WHERE id NOT IN (SELECT id FROM activity ORDER BY id DESC LIMIT ?)
	`, MaxActivity)
	if err != nil {
		return fmt.Errorf("failed to trim activity: %w", err)
	}
	return nil
}

// GetActivity implements Store.
func (s *SQLiteStore) GetActivity(ctx context.Context, limit int) ([]models.ActivityEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, level, agent_id, message FROM activity ORDER BY id DESC LIMIT ?
	`, clampLimit(limit, MaxActivity))
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityEntry
	for rows.Next() {
		var e models.ActivityEntry
		var level string
		var agentID sql.NullString
		if err := rows.Scan(&e.Timestamp, &level, &agentID, &e.Message); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		e.Level = models.LogLevel(level)
		e.AgentID = agentID.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity: %w", err)
	}
	reverse(entries)
	return entries, nil
}
