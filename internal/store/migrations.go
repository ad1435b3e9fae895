package store

const schema = `
-- Configured hub connections
CREATE TABLE IF NOT EXISTS instances (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    url         TEXT NOT NULL,
    email       TEXT NOT NULL DEFAULT '',
    insecure    INTEGER NOT NULL DEFAULT 0,
    created_at  INTEGER NOT NULL
);

-- Sealed per-instance secrets (password or long-lived token)
CREATE TABLE IF NOT EXISTS credentials (
    instance_id TEXT PRIMARY KEY,
    nonce       BLOB NOT NULL,
    ciphertext  BLOB NOT NULL,
    updated_at  INTEGER NOT NULL
);

-- Short-lived bearer tokens (expired rows removed by the pruner)
CREATE TABLE IF NOT EXISTS token_cache (
    instance_id TEXT PRIMARY KEY,
    token       TEXT NOT NULL,
    saved_at    INTEGER NOT NULL
);

-- Pinned dashboard items per (instance, system)
CREATE TABLE IF NOT EXISTS pinned_items (
    instance_id TEXT NOT NULL,
    system_id   TEXT NOT NULL,
    items_json  TEXT NOT NULL,
    updated_at  INTEGER NOT NULL,
    PRIMARY KEY (instance_id, system_id)
) WITHOUT ROWID;

-- Alert tracker state: seen history ids and last check time
CREATE TABLE IF NOT EXISTS alert_state (
    instance_id TEXT PRIMARY KEY,
    seen_json   TEXT NOT NULL,
    since       REAL NOT NULL
);

-- Free-form client settings (active time range, active system, ...)
CREATE TABLE IF NOT EXISTS settings (
    key         TEXT PRIMARY KEY,
    value       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_token_saved ON token_cache(saved_at);
`
