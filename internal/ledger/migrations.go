package ledger

type migration struct {
	name string
	up   string
}

var postgresMigrations = []migration{
	{
		name: "create_wallets",
		up: `
CREATE TABLE IF NOT EXISTS wallets (
    user_id    TEXT PRIMARY KEY,
    balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
    reserved   BIGINT NOT NULL DEFAULT 0 CHECK (reserved >= 0),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`,
	},
	{
		name: "create_transactions",
		up: `
CREATE TABLE IF NOT EXISTS transactions (
    id              TEXT PRIMARY KEY,
    user_id         TEXT NOT NULL REFERENCES wallets (user_id),
    kind            TEXT NOT NULL,
    amount          BIGINT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'PENDING',
    counterparty_id TEXT NOT NULL DEFAULT '',
    correlation_id  TEXT NOT NULL DEFAULT '',
    intent_ref      TEXT,
    method          TEXT NOT NULL DEFAULT '',
    description     TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_transactions_intent_ref ON transactions (intent_ref) WHERE intent_ref IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions (user_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_transactions_pending ON transactions (created_at) WHERE status = 'PENDING';`,
	},
}
