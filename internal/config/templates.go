package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Paper Trader Configuration
# Every key can be overridden from the environment, e.g.
# PAPERTRADER_STORE_DRIVER=postgres or PAPERTRADER_SERVER_ADDR=:9090

[engine]
# Market data points kept per agent
window_size = 100
# Points required before a strategy is consulted
min_points = 5
# Decisions at or below this confidence are not executed
confidence_threshold = 50.0
# Trades kept in memory per agent
trade_history = 100

[orchestrator]
# Agents allowed to run at the same time
max_running_agents = 10
# How often drawdown and profit targets are checked
monitor_interval = "5s"
# Activity entries kept for the dashboard
activity_log_size = 50

[fees]
# Fractional rates used when no schedule can be resolved
default_maker = 0.001
default_taker = 0.001
# Optional fee service queried as GET <base_url>/fees?exchange=&asset=
base_url = ""
timeout = "5s"

# Static schedules, consulted before the fee service
[fees.schedule.binance]
maker_rate = "0.1%"
taker_rate = "0.1%"
note = "Binance spot VIP 0"

[fees.schedule.kraken]
maker_rate = "0.16%"
taker_rate = "0.26%"

[store]
# sqlite, postgres or memory
driver = "sqlite"
# Relative paths are resolved against this directory
sqlite_path = "papertrader.db"
postgres_dsn = ""
# Optional read cache in front of the durable store
redis_url = ""
redis_ttl = "1m"
# Used when the durable store is unreachable at startup
fallback_path = "fallback.json"
# Pending writes before callers block
queue_size = 1024

[feed]
# simulated or replay
source = "simulated"
interval = "1s"
# Largest fractional move per step
volatility = 0.002
# Zero seeds from the clock
seed = 0
# CSV with asset,timestamp,price,volume,bid,ask,spread columns for the replay source
replay_path = ""
pace = "100ms"

[feed.base_prices]
BTCUSDT = 45000.0
ETHUSDT = 2500.0

[server]
enabled = true
addr = ":8080"
# Requests per second per process
rate_limit = 20.0
rate_burst = 40

[logging]
# debug, info, warn, error
level = "info"
console = true
file = false
file_path = "logs/papertrader.log"
max_size = 50
max_backups = 5
max_age = 14

[notifications]
# POSTed a JSON activity entry for warnings and errors
webhook_url = ""
timeout = "5s"
# Print colored alerts to the terminal
terminal = false
# warning or error
min_level = "warning"

# Extra agent templates
# [[templates]]
# name = "Night Owl"
# description = "Slow mean reversion"
# strategy = "meanReversion"
# risk_level = "low"
# position_size = 8.0
# trading_speed = "conservative"
# max_drawdown = 5.0
# profit_target = 10.0
`

func createTemplateConfig(configDir, name string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name+".toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}
	return nil
}
