package database

// SQL migrations for the gateway database.
// All migrations use IF NOT EXISTS to be idempotent.

const migrationBrokerCredentials = `
CREATE TABLE IF NOT EXISTS broker_credentials (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    environment TEXT NOT NULL DEFAULT 'demo',
    ctid_account_id INTEGER NOT NULL,
    token_ciphertext BLOB NOT NULL,
    token_nonce BLOB NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(account_id, environment)
);
`

// executed_at and taken_at hold unix milliseconds so range filters compare numerically.
const migrationTrades = `
CREATE TABLE IF NOT EXISTS trades (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    environment TEXT NOT NULL DEFAULT 'demo',
    kind TEXT NOT NULL CHECK (kind IN ('open', 'close')),
    symbol TEXT NOT NULL DEFAULT '',
    side TEXT NOT NULL DEFAULT '',
    volume REAL NOT NULL DEFAULT 0,
    price REAL NOT NULL DEFAULT 0,
    order_id TEXT NOT NULL DEFAULT '',
    position_id TEXT NOT NULL DEFAULT '',
    profit REAL NOT NULL DEFAULT 0,
    executed_at INTEGER NOT NULL
);
`

const migrationAccountSnapshots = `
CREATE TABLE IF NOT EXISTS account_snapshots (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    account_id TEXT NOT NULL,
    environment TEXT NOT NULL DEFAULT 'demo',
    balance REAL NOT NULL,
    equity REAL NOT NULL,
    margin_level REAL NOT NULL DEFAULT 0,
    taken_at INTEGER NOT NULL
);
`

const migrationIndexes = `
CREATE INDEX IF NOT EXISTS idx_trades_account ON trades(account_id, environment);
CREATE INDEX IF NOT EXISTS idx_trades_executed ON trades(executed_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_account ON account_snapshots(account_id, environment);
CREATE INDEX IF NOT EXISTS idx_snapshots_taken ON account_snapshots(taken_at);
`
