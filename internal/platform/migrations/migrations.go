// Package migrations holds the PostgreSQL schema of the coin ledger.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// statements are applied in order; each is idempotent.
var statements = []string{
	`CREATE TABLE IF NOT EXISTS coin_accounts (
		id TEXT PRIMARY KEY,
		amount NUMERIC NOT NULL DEFAULT 0,
		full_name TEXT NOT NULL DEFAULT '',
		image TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS coin_chain_accounts (
		address TEXT PRIMARY KEY,
		public_key TEXT NOT NULL,
		private_key TEXT NOT NULL,
		type TEXT NOT NULL,
		account_id TEXT UNIQUE REFERENCES coin_accounts(id),
		position INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS coin_chain_accounts_free_idx
		ON coin_chain_accounts (position, address) WHERE account_id IS NULL`,
	`CREATE TABLE IF NOT EXISTS coin_transactions (
		id TEXT PRIMARY KEY,
		account_id TEXT REFERENCES coin_accounts(id),
		destination_id TEXT REFERENCES coin_accounts(id),
		amount NUMERIC,
		remain NUMERIC,
		comment TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		chain_tx_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS coin_transactions_account_idx
		ON coin_transactions (account_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS coin_transactions_destination_idx
		ON coin_transactions (destination_id, created_at DESC)`,
}

// Apply creates the schema if it does not exist yet.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
