package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CommissionTotals aggregates earned fees per coin.
type CommissionTotals struct {
	Coin           string          `json:"coin"`
	Count          int64           `json:"count"`
	TotalCrypto    decimal.Decimal `json:"total_crypto"`
	TotalUSD       decimal.Decimal `json:"total_usd"`
	LastEarnedAt   *time.Time      `json:"last_earned_at,omitempty"`
}

type CommissionRepo struct {
	pool *pgxpool.Pool
}

func NewCommissionRepo(pool *pgxpool.Pool) *CommissionRepo {
	return &CommissionRepo{pool: pool}
}

// Insert records the fee retained on one completed deal, inside the
// caller's transaction. Zero-fee deals are not recorded.
func (r *CommissionRepo) Insert(ctx context.Context, tx pgx.Tx, dealID, coin string, amountCrypto, amountUSD decimal.Decimal, earnedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO commissions (deal_id, coin, amount_crypto, amount_usd, earned_at)
		VALUES ($1, $2, $3, $4, $5)
	`, dealID, coin, amountCrypto, amountUSD, earnedAt)
	return err
}

func (r *CommissionRepo) Totals(ctx context.Context) ([]CommissionTotals, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT coin, COUNT(*), COALESCE(SUM(amount_crypto), 0),
		       COALESCE(SUM(amount_usd), 0), MAX(earned_at)
		FROM commissions
		GROUP BY coin
		ORDER BY coin
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CommissionTotals
	for rows.Next() {
		var t CommissionTotals
		if err := rows.Scan(&t.Coin, &t.Count, &t.TotalCrypto, &t.TotalUSD, &t.LastEarnedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
