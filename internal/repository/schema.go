package repository

// Schema for the deposit order store. Terminal orders are retained
// indefinitely as the audit trail, so there is no delete path anywhere.
//
// The two partial unique indexes carry the core invariants:
//   - uq_deposit_orders_open_amount: requested amounts are unique among OPEN
//     orders per (receive_address, chain), which is what makes amount-based
//     matching sound.
//   - uq_deposit_orders_tx_hash: at most one order is ever settled per
//     on-chain transaction hash.
const Schema = `
CREATE TABLE IF NOT EXISTS deposit_orders (
	id UUID PRIMARY KEY,
	user_id UUID NOT NULL,
	chain TEXT NOT NULL,
	receive_address TEXT NOT NULL,
	requested_amount NUMERIC(20,6) NOT NULL,
	rate NUMERIC(20,6) NOT NULL,
	settlement_value NUMERIC(20,2) NOT NULL,
	status TEXT NOT NULL DEFAULT 'OPEN',
	credit_status TEXT NOT NULL DEFAULT 'NONE',
	credit_attempts INT NOT NULL DEFAULT 0,
	tx_hash TEXT,
	from_address TEXT,
	confirmed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	expires_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_deposit_orders_open_amount
	ON deposit_orders (receive_address, chain, requested_amount)
	WHERE status = 'OPEN';

CREATE UNIQUE INDEX IF NOT EXISTS uq_deposit_orders_tx_hash
	ON deposit_orders (tx_hash)
	WHERE tx_hash IS NOT NULL;

CREATE INDEX IF NOT EXISTS idx_deposit_orders_status_expires
	ON deposit_orders (status, expires_at);

CREATE INDEX IF NOT EXISTS idx_deposit_orders_credit
	ON deposit_orders (credit_status)
	WHERE status = 'SETTLED';

CREATE TABLE IF NOT EXISTS idempotency_keys (
	idempotency_key TEXT PRIMARY KEY,
	request_hash TEXT NOT NULL,
	method TEXT NOT NULL,
	path TEXT NOT NULL,
	response_status INT NOT NULL DEFAULT 0,
	response_body BYTEA,
	content_type TEXT NOT NULL DEFAULT '',
	in_progress BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
