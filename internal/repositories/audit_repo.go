package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/audit"
)

// AuditRepo persists audit entries to Postgres. It implements
// audit.Recorder, so write failures are logged and swallowed.
type AuditRepo struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewAuditRepo(pool *pgxpool.Pool, log *zap.Logger) *AuditRepo {
	return &AuditRepo{pool: pool, log: log}
}

func (r *AuditRepo) Record(ctx context.Context, e audit.Entry) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (type, deal_id, coin, amount_usd, amount_crypto, tx_ref, buyer_id, seller_id, error, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, e.Type, e.DealID, nullStr(e.Coin), nullDec(e.AmountUSD), nullDec(e.AmountCrypto),
		nullStr(e.TxRef), nullStr(e.Buyer), nullStr(e.Seller), nullStr(e.Error), e.Timestamp)
	if err != nil {
		r.log.Warn("audit write failed",
			zap.String("type", e.Type),
			zap.String("deal_id", e.DealID),
			zap.Error(err))
	}
}

// ListByDeal returns the recorded trail for one deal, oldest first.
func (r *AuditRepo) ListByDeal(ctx context.Context, dealID string) ([]audit.Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT type, deal_id, COALESCE(coin, ''), COALESCE(amount_usd, 0), COALESCE(amount_crypto, 0),
		       COALESCE(tx_ref, ''), COALESCE(buyer_id, ''), COALESCE(seller_id, ''), COALESCE(error, ''), recorded_at
		FROM audit_log
		WHERE deal_id = $1
		ORDER BY recorded_at ASC
	`, dealID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var at time.Time
		if err := rows.Scan(&e.Type, &e.DealID, &e.Coin, &e.AmountUSD, &e.AmountCrypto,
			&e.TxRef, &e.Buyer, &e.Seller, &e.Error, &at); err != nil {
			return nil, err
		}
		e.Timestamp = at
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullDec(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d
}
