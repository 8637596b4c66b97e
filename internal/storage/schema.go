package storage

// schema is applied on every open, same idempotent CREATE-IF-NOT-EXISTS
// shape as polybot's storage schema. Foreign keys are enforced via a
// PRAGMA set on every connection (SQLite defaults them off).
const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    wallet_address          TEXT NOT NULL UNIQUE,
    sentinel_wallet_address TEXT,
    auth_nonce              TEXT,
    auth_nonce_expires_at   DATETIME,
    refresh_token_hash      TEXT,
    created_at              DATETIME NOT NULL,
    updated_at              DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bots (
    id                     INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id                 TEXT NOT NULL UNIQUE,
    user_id                TEXT NOT NULL,
    name                   TEXT NOT NULL,
    mode                   TEXT NOT NULL,
    status                 TEXT NOT NULL DEFAULT 'stopped',
    strategy_mode          TEXT NOT NULL DEFAULT 'rule_based',

    entry_score_threshold  REAL NOT NULL DEFAULT 150,
    min_liquidity          REAL NOT NULL DEFAULT 0,
    max_liquidity          REAL NOT NULL DEFAULT 0,
    min_volume_24h         REAL NOT NULL DEFAULT 0,
    position_size_sol      REAL NOT NULL DEFAULT 0,
    position_size_percent  REAL NOT NULL DEFAULT 0,
    min_position_sol       REAL NOT NULL DEFAULT 0,
    max_position_sol       REAL NOT NULL DEFAULT 0,
    rent_reserve_sol       REAL NOT NULL DEFAULT 0.03,
    default_bin_range      INTEGER NOT NULL DEFAULT 10,
    profit_target_pct      REAL NOT NULL DEFAULT 5,
    stop_loss_pct          REAL NOT NULL DEFAULT 10,
    trailing_stop_enabled  INTEGER NOT NULL DEFAULT 0,
    trailing_stop_pct      REAL NOT NULL DEFAULT 3,
    max_hold_minutes       INTEGER NOT NULL DEFAULT 60,
    max_daily_loss_sol     REAL NOT NULL DEFAULT 1,
    cooldown_minutes       INTEGER NOT NULL DEFAULT 15,
    scan_interval_seconds  INTEGER NOT NULL DEFAULT 60,
    position_check_interval_seconds INTEGER NOT NULL DEFAULT 10,
    sol_pairs_only         INTEGER NOT NULL DEFAULT 1,
    mint_blacklist         TEXT NOT NULL DEFAULT '[]',
    simulation_initial_balance_lamports INTEGER NOT NULL DEFAULT 10000000000,

    total_trades           INTEGER NOT NULL DEFAULT 0,
    winning_trades         INTEGER NOT NULL DEFAULT 0,
    total_pnl_lamports     INTEGER NOT NULL DEFAULT 0,

    last_error             TEXT,
    last_activity_at       DATETIME,
    emergency_stop_state   TEXT,

    created_at             DATETIME NOT NULL,
    updated_at             DATETIME NOT NULL,

    FOREIGN KEY (user_id) REFERENCES users(wallet_address)
);

CREATE TABLE IF NOT EXISTS positions (
    id                      INTEGER PRIMARY KEY AUTOINCREMENT,
    position_id             TEXT NOT NULL UNIQUE,
    bot_id                  TEXT NOT NULL,
    user_id                 TEXT NOT NULL,
    status                  TEXT NOT NULL,

    pool_address            TEXT NOT NULL,
    pool_name               TEXT,
    mint_x                  TEXT,
    mint_y                  TEXT,
    bin_step                INTEGER,

    entry_active_bin        INTEGER,
    entry_price_per_token   REAL,
    entry_timestamp         DATETIME,
    entry_amount_x          INTEGER,
    entry_amount_y          INTEGER,
    entry_tx_signature      TEXT,
    entry_tx_cost_lamports  INTEGER,
    entry_score             REAL,
    entry_ml_probability    REAL,
    entry_features          TEXT,

    profit_target_pct       REAL,
    stop_loss_pct           REAL,
    trailing_stop_enabled   INTEGER,
    trailing_stop_pct       REAL,
    max_hold_minutes        INTEGER,
    high_water_mark_pct     REAL NOT NULL DEFAULT 0,

    current_price_per_token REAL,
    unrealized_pnl_lamports INTEGER NOT NULL DEFAULT 0,
    current_fees_x          INTEGER NOT NULL DEFAULT 0,
    current_fees_y          INTEGER NOT NULL DEFAULT 0,

    exit_price_per_token    REAL,
    exit_timestamp          DATETIME,
    exit_tx_signature       TEXT,
    exit_reason             TEXT,
    realized_pnl_lamports   INTEGER,
    exit_tx_cost_lamports   INTEGER,

    created_at              DATETIME NOT NULL,
    updated_at              DATETIME NOT NULL,

    FOREIGN KEY (bot_id) REFERENCES bots(bot_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS trade_log (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id       TEXT NOT NULL,
    user_id      TEXT NOT NULL,
    position_id  TEXT,
    event        TEXT NOT NULL,
    details      TEXT NOT NULL DEFAULT '{}',
    timestamp    DATETIME NOT NULL,

    FOREIGN KEY (bot_id) REFERENCES bots(bot_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS strategy_presets (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT,
    name        TEXT NOT NULL,
    description TEXT,
    is_system   INTEGER NOT NULL DEFAULT 0,
    config      TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS daily_summaries (
    id                 INTEGER PRIMARY KEY AUTOINCREMENT,
    bot_id             TEXT NOT NULL,
    summary_date       TEXT NOT NULL,
    trades             INTEGER NOT NULL DEFAULT 0,
    wins               INTEGER NOT NULL DEFAULT 0,
    losses             INTEGER NOT NULL DEFAULT 0,
    pnl_lamports       INTEGER NOT NULL DEFAULT 0,
    UNIQUE(bot_id, summary_date),
    FOREIGN KEY (bot_id) REFERENCES bots(bot_id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_bots_user        ON bots(user_id);
CREATE INDEX IF NOT EXISTS idx_bots_status       ON bots(status);
CREATE INDEX IF NOT EXISTS idx_positions_bot     ON positions(bot_id);
CREATE INDEX IF NOT EXISTS idx_positions_user    ON positions(user_id);
CREATE INDEX IF NOT EXISTS idx_positions_status  ON positions(status);
CREATE INDEX IF NOT EXISTS idx_trade_log_bot     ON trade_log(bot_id, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_presets_user      ON strategy_presets(user_id);
`
