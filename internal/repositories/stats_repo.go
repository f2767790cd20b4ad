package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type UserStats struct {
	ActorID          string          `json:"actor_id"`
	TotalDeals       int64           `json:"total_deals"`
	DealsAsBuyer     int64           `json:"deals_as_buyer"`
	DealsAsSeller    int64           `json:"deals_as_seller"`
	TotalSpentUSD    decimal.Decimal `json:"total_spent_usd"`
	TotalEarnedUSD   decimal.Decimal `json:"total_earned_usd"`
	TotalFeesPaidUSD decimal.Decimal `json:"total_fees_paid_usd"`
	LastDealAt       *time.Time      `json:"last_deal_at,omitempty"`
}

type TraderEntry struct {
	ActorID       string          `json:"actor_id"`
	TotalDeals    int64           `json:"total_deals"`
	DealsAsBuyer  int64           `json:"deals_as_buyer"`
	DealsAsSeller int64           `json:"deals_as_seller"`
	TotalSpent    decimal.Decimal `json:"total_spent_usd"`
	TotalEarned   decimal.Decimal `json:"total_earned_usd"`
	NetPosition   decimal.Decimal `json:"net_position_usd"`
}

type StatsRepo struct {
	pool *pgxpool.Pool
}

func NewStatsRepo(pool *pgxpool.Pool) *StatsRepo {
	return &StatsRepo{pool: pool}
}

// UpsertBuyer folds one completed deal into the buyer's aggregates,
// inside the caller's transaction.
func (r *StatsRepo) UpsertBuyer(ctx context.Context, tx pgx.Tx, actorID string, spentUSD, feeUSD decimal.Decimal, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_stats (actor_id, total_deals, deals_as_buyer, total_spent_usd, total_fees_paid_usd, last_deal_at)
		VALUES ($1, 1, 1, $2, $3, $4)
		ON CONFLICT (actor_id) DO UPDATE SET
			total_deals = user_stats.total_deals + 1,
			deals_as_buyer = user_stats.deals_as_buyer + 1,
			total_spent_usd = user_stats.total_spent_usd + EXCLUDED.total_spent_usd,
			total_fees_paid_usd = user_stats.total_fees_paid_usd + EXCLUDED.total_fees_paid_usd,
			last_deal_at = EXCLUDED.last_deal_at,
			updated_at = now()
	`, actorID, spentUSD, feeUSD, at)
	return err
}

// UpsertSeller folds one completed deal into the seller's aggregates.
func (r *StatsRepo) UpsertSeller(ctx context.Context, tx pgx.Tx, actorID string, earnedUSD decimal.Decimal, at time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO user_stats (actor_id, total_deals, deals_as_seller, total_earned_usd, last_deal_at)
		VALUES ($1, 1, 1, $2, $3)
		ON CONFLICT (actor_id) DO UPDATE SET
			total_deals = user_stats.total_deals + 1,
			deals_as_seller = user_stats.deals_as_seller + 1,
			total_earned_usd = user_stats.total_earned_usd + EXCLUDED.total_earned_usd,
			last_deal_at = EXCLUDED.last_deal_at,
			updated_at = now()
	`, actorID, earnedUSD, at)
	return err
}

func (r *StatsRepo) GetUserStats(ctx context.Context, actorID string) (*UserStats, error) {
	var s UserStats
	err := r.pool.QueryRow(ctx, `
		SELECT actor_id, total_deals, deals_as_buyer, deals_as_seller,
		       total_spent_usd, total_earned_usd, total_fees_paid_usd, last_deal_at
		FROM user_stats WHERE actor_id = $1
	`, actorID).Scan(&s.ActorID, &s.TotalDeals, &s.DealsAsBuyer, &s.DealsAsSeller,
		&s.TotalSpentUSD, &s.TotalEarnedUSD, &s.TotalFeesPaidUSD, &s.LastDealAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *StatsRepo) TopTraders(ctx context.Context, limit int) ([]TraderEntry, error) {
	return r.leaderboard(ctx, `
		SELECT actor_id, total_deals, deals_as_buyer, deals_as_seller,
		       total_spent_usd, total_earned_usd,
		       total_earned_usd - total_spent_usd AS net_position
		FROM user_stats
		ORDER BY total_deals DESC
		LIMIT $1`, clampLimit(limit))
}

func (r *StatsRepo) TopBuyers(ctx context.Context, limit int) ([]TraderEntry, error) {
	return r.leaderboard(ctx, `
		SELECT actor_id, total_deals, deals_as_buyer, deals_as_seller,
		       total_spent_usd, total_earned_usd,
		       total_earned_usd - total_spent_usd AS net_position
		FROM user_stats
		WHERE deals_as_buyer > 0
		ORDER BY total_spent_usd DESC
		LIMIT $1`, clampLimit(limit))
}

func (r *StatsRepo) TopSellers(ctx context.Context, limit int) ([]TraderEntry, error) {
	return r.leaderboard(ctx, `
		SELECT actor_id, total_deals, deals_as_buyer, deals_as_seller,
		       total_spent_usd, total_earned_usd,
		       total_earned_usd - total_spent_usd AS net_position
		FROM user_stats
		WHERE deals_as_seller > 0
		ORDER BY total_earned_usd DESC
		LIMIT $1`, clampLimit(limit))
}

func (r *StatsRepo) leaderboard(ctx context.Context, query string, limit int) ([]TraderEntry, error) {
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TraderEntry
	for rows.Next() {
		var e TraderEntry
		if err := rows.Scan(&e.ActorID, &e.TotalDeals, &e.DealsAsBuyer, &e.DealsAsSeller,
			&e.TotalSpent, &e.TotalEarned, &e.NetPosition); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
