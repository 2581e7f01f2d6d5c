package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

type migration struct {
	version int
	name    string
	sql     string
}

// migrations are applied in order; applied versions are recorded in schema_migrations.
var migrations = []migration{
	{1, "ledger", `
CREATE TABLE IF NOT EXISTS ledger_accounts (
    user_id           TEXT PRIMARY KEY,
    available_balance NUMERIC(24,6) NOT NULL DEFAULT 0 CHECK (available_balance >= 0),
    locked_balance    NUMERIC(24,6) NOT NULL DEFAULT 0 CHECK (locked_balance >= 0),
    settled_balance   NUMERIC(24,6) NOT NULL DEFAULT 0 CHECK (settled_balance >= 0),
    version           INTEGER NOT NULL DEFAULT 0,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id           UUID PRIMARY KEY,
    user_id      TEXT NOT NULL REFERENCES ledger_accounts(user_id),
    kind         TEXT NOT NULL CHECK (kind IN ('deposit','manual_credit','lock','finalize','refund')),
    amount       NUMERIC(24,6) NOT NULL CHECK (amount > 0),
    reference_id TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (kind, reference_id)
);

CREATE UNIQUE INDEX IF NOT EXISTS ledger_entries_terminal_ref
    ON ledger_entries (reference_id) WHERE kind IN ('finalize','refund');
CREATE INDEX IF NOT EXISTS ledger_entries_user_created
    ON ledger_entries (user_id, created_at DESC);
`},
	{2, "deposits", `
CREATE TABLE IF NOT EXISTS deposit_addresses (
    id                    UUID PRIMARY KEY,
    user_id               TEXT NOT NULL,
    address               TEXT NOT NULL UNIQUE,
    private_key_encrypted TEXT NOT NULL,
    expires_at            TIMESTAMPTZ NOT NULL,
    is_used               BOOLEAN NOT NULL DEFAULT FALSE,
    last_observed_balance NUMERIC(24,6) NOT NULL DEFAULT 0,
    sweep_tx_hash         TEXT,
    swept_at              TIMESTAMPTZ,
    created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS deposit_addresses_unused ON deposit_addresses (is_used) WHERE is_used = FALSE;
`},
	{3, "orders", `
CREATE TABLE IF NOT EXISTS bank_accounts (
    id                  UUID PRIMARY KEY,
    user_id             TEXT NOT NULL,
    account_holder_name TEXT NOT NULL,
    account_number      TEXT NOT NULL,
    ifsc_code           TEXT NOT NULL,
    bank_name           TEXT NOT NULL DEFAULT '',
    gateway_contact_id  TEXT NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (user_id, account_number, ifsc_code)
);

CREATE TABLE IF NOT EXISTS exchange_orders (
    id              UUID PRIMARY KEY,
    user_id         TEXT NOT NULL,
    usdt_amount     NUMERIC(24,6) NOT NULL,
    inr_amount      NUMERIC(24,2) NOT NULL,
    rate            NUMERIC(24,2) NOT NULL,
    bank_account_id UUID NOT NULL REFERENCES bank_accounts(id),
    status          TEXT NOT NULL,
    idempotency_key TEXT NOT NULL UNIQUE,
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS payout_orders (
    id              UUID PRIMARY KEY REFERENCES exchange_orders(id),
    user_id         TEXT NOT NULL,
    usdt_amount     NUMERIC(24,6) NOT NULL,
    inr_amount      NUMERIC(24,2) NOT NULL,
    bank_account_id UUID NOT NULL REFERENCES bank_accounts(id),
    status          TEXT NOT NULL,
    gateway_ref_id  TEXT NOT NULL DEFAULT '',
    failure_reason  TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS usdt_withdrawals (
    id                  UUID PRIMARY KEY,
    user_id             TEXT NOT NULL,
    destination_address TEXT NOT NULL,
    usdt_amount         NUMERIC(24,6) NOT NULL,
    fee                 NUMERIC(24,6) NOT NULL DEFAULT 0,
    status              TEXT NOT NULL,
    tx_hash             TEXT,
    failure_reason      TEXT NOT NULL DEFAULT '',
    idempotency_key     TEXT NOT NULL UNIQUE,
    created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS exchange_orders_user_created ON exchange_orders (user_id, created_at);
CREATE INDEX IF NOT EXISTS usdt_withdrawals_status ON usdt_withdrawals (status, created_at);
CREATE INDEX IF NOT EXISTS payout_orders_status ON payout_orders (status, created_at);
`},
	{4, "settings_audit", `
CREATE TABLE IF NOT EXISTS system_settings (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS audit_logs (
    id           BIGSERIAL PRIMARY KEY,
    actor_type   TEXT NOT NULL,
    actor_id     TEXT NOT NULL,
    action       TEXT NOT NULL,
    reference_id TEXT NOT NULL DEFAULT '',
    metadata     JSONB NOT NULL DEFAULT '{}',
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`},
}

// Migrate applies all pending migrations, each in its own transaction.
func Migrate(ctx context.Context, db *sql.DB, logger zerolog.Logger) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	applied := make(map[int]bool)
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
			m.version, m.name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
		logger.Info().Int("version", m.version).Str("name", m.name).Msg("applied migration")
	}
	return nil
}
