package repositories

import (
	"context"
	"time"

	"github.com/escrow-desk/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// CompletedDeal is the persisted form of a finished escrow deal.
type CompletedDeal struct {
	DealID               string          `json:"deal_id"`
	BuyerID              string          `json:"buyer_id"`
	SellerID             string          `json:"seller_id"`
	Coin                 string          `json:"coin"`
	DealAmountUSD        decimal.Decimal `json:"deal_amount_usd"`
	ServiceFeeUSD        decimal.Decimal `json:"service_fee_usd"`
	BuyerPaidUSD         decimal.Decimal `json:"buyer_paid_usd"`
	SellerReceivedUSD    decimal.Decimal `json:"seller_received_usd"`
	BuyerPaidCrypto      decimal.Decimal `json:"buyer_paid_crypto"`
	SellerReceivedCrypto decimal.Decimal `json:"seller_received_crypto"`
	PayoutTxRef          string          `json:"payout_tx_ref"`
	BuyerPublic          bool            `json:"buyer_public"`
	SellerPublic         bool            `json:"seller_public"`
	CompletedAt          time.Time       `json:"completed_at"`
}

// CoinStats is a per-coin aggregate over completed deals.
type CoinStats struct {
	Coin        string          `json:"coin"`
	TotalDeals  int64           `json:"total_deals"`
	TotalVolume decimal.Decimal `json:"total_volume_usd"`
	TotalFees   decimal.Decimal `json:"total_fees_usd"`
	AvgDealSize decimal.Decimal `json:"avg_deal_size_usd"`
}

type DealRepo struct {
	pool *pgxpool.Pool
}

func NewDealRepo(pool *pgxpool.Pool) *DealRepo {
	return &DealRepo{pool: pool}
}

// Insert writes a completed deal inside the caller's transaction.
func (r *DealRepo) Insert(ctx context.Context, tx pgx.Tx, s models.Summary) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO deals (
			deal_id, buyer_id, seller_id, coin,
			deal_amount_usd, service_fee_usd, buyer_paid_usd, seller_received_usd,
			buyer_paid_crypto, seller_received_crypto,
			payout_tx_ref, buyer_public, seller_public, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, s.DealID, s.Buyer, s.Seller, s.Coin,
		s.AmountUSD, s.FeeUSD, s.BuyerPaysUSD, s.SellerReceivesUSD,
		s.BuyerPaysCrypto, s.SellerReceivesCrypto,
		s.PayoutTxRef, s.BuyerPublic, s.SellerPublic, s.CompletedAt)
	return err
}

func (r *DealRepo) GetByDealID(ctx context.Context, dealID string) (*CompletedDeal, error) {
	row := r.pool.QueryRow(ctx, selectDeal+` WHERE deal_id = $1`, dealID)
	return scanDeal(row)
}

func (r *DealRepo) ListRecent(ctx context.Context, limit int) ([]CompletedDeal, error) {
	return r.list(ctx, selectDeal+` ORDER BY completed_at DESC LIMIT $1`, clampLimit(limit))
}

func (r *DealRepo) ListByActor(ctx context.Context, actorID string, limit int) ([]CompletedDeal, error) {
	return r.list(ctx, selectDeal+`
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY completed_at DESC LIMIT $2`, actorID, clampLimit(limit))
}

func (r *DealRepo) ListByCoin(ctx context.Context, coin string, limit int) ([]CompletedDeal, error) {
	return r.list(ctx, selectDeal+`
		WHERE coin = $1
		ORDER BY completed_at DESC LIMIT $2`, coin, clampLimit(limit))
}

func (r *DealRepo) StatsByCoin(ctx context.Context) ([]CoinStats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT coin, COUNT(*), COALESCE(SUM(deal_amount_usd), 0),
		       COALESCE(SUM(service_fee_usd), 0), COALESCE(AVG(deal_amount_usd), 0)
		FROM deals
		GROUP BY coin
		ORDER BY coin
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CoinStats
	for rows.Next() {
		var s CoinStats
		if err := rows.Scan(&s.Coin, &s.TotalDeals, &s.TotalVolume, &s.TotalFees, &s.AvgDealSize); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const selectDeal = `
	SELECT deal_id, buyer_id, seller_id, coin,
	       deal_amount_usd, service_fee_usd, buyer_paid_usd, seller_received_usd,
	       buyer_paid_crypto, seller_received_crypto,
	       payout_tx_ref, buyer_public, seller_public, completed_at
	FROM deals`

func scanDeal(row pgx.Row) (*CompletedDeal, error) {
	var d CompletedDeal
	err := row.Scan(&d.DealID, &d.BuyerID, &d.SellerID, &d.Coin,
		&d.DealAmountUSD, &d.ServiceFeeUSD, &d.BuyerPaidUSD, &d.SellerReceivedUSD,
		&d.BuyerPaidCrypto, &d.SellerReceivedCrypto,
		&d.PayoutTxRef, &d.BuyerPublic, &d.SellerPublic, &d.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DealRepo) list(ctx context.Context, query string, args ...any) ([]CompletedDeal, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CompletedDeal
	for rows.Next() {
		var d CompletedDeal
		if err := rows.Scan(&d.DealID, &d.BuyerID, &d.SellerID, &d.Coin,
			&d.DealAmountUSD, &d.ServiceFeeUSD, &d.BuyerPaidUSD, &d.SellerReceivedUSD,
			&d.BuyerPaidCrypto, &d.SellerReceivedCrypto,
			&d.PayoutTxRef, &d.BuyerPublic, &d.SellerPublic, &d.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
