package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Schema is embedded rather than read from a migrations directory: the
// table set is small and every binary that touches Postgres runs it on
// startup, idempotently.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS deals (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		deal_id TEXT NOT NULL UNIQUE,
		buyer_id TEXT NOT NULL,
		seller_id TEXT NOT NULL,
		coin TEXT NOT NULL,
		deal_amount_usd NUMERIC NOT NULL,
		service_fee_usd NUMERIC NOT NULL,
		buyer_paid_usd NUMERIC NOT NULL,
		seller_received_usd NUMERIC NOT NULL,
		buyer_paid_crypto NUMERIC NOT NULL,
		seller_received_crypto NUMERIC NOT NULL,
		payout_tx_ref TEXT NOT NULL,
		buyer_public BOOLEAN NOT NULL DEFAULT false,
		seller_public BOOLEAN NOT NULL DEFAULT false,
		completed_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_buyer ON deals(buyer_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_seller ON deals(seller_id)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_coin ON deals(coin)`,
	`CREATE INDEX IF NOT EXISTS idx_deals_completed_at ON deals(completed_at)`,

	`CREATE TABLE IF NOT EXISTS user_stats (
		actor_id TEXT PRIMARY KEY,
		total_deals BIGINT NOT NULL DEFAULT 0,
		deals_as_buyer BIGINT NOT NULL DEFAULT 0,
		deals_as_seller BIGINT NOT NULL DEFAULT 0,
		total_spent_usd NUMERIC NOT NULL DEFAULT 0,
		total_earned_usd NUMERIC NOT NULL DEFAULT 0,
		total_fees_paid_usd NUMERIC NOT NULL DEFAULT 0,
		last_deal_at TIMESTAMPTZ,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS commissions (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		deal_id TEXT NOT NULL,
		coin TEXT NOT NULL,
		amount_crypto NUMERIC NOT NULL,
		amount_usd NUMERIC NOT NULL,
		earned_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_commissions_coin ON commissions(coin)`,

	`CREATE TABLE IF NOT EXISTS audit_log (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		type TEXT NOT NULL,
		deal_id TEXT NOT NULL,
		coin TEXT,
		amount_usd NUMERIC,
		amount_crypto NUMERIC,
		tx_ref TEXT,
		buyer_id TEXT,
		seller_id TEXT,
		error TEXT,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_deal ON audit_log(deal_id)`,
}

// CreateSchema applies the schema idempotently.
func CreateSchema(ctx context.Context, pool *pgxpool.Pool, log *zap.Logger) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	log.Info("database schema ensured")
	return nil
}
