package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/repositories"
)

// StatsService owns the persistent record of finished deals: the deal
// row, both parties' aggregates and the retained commission are written
// in a single transaction so the tables never disagree.
type StatsService struct {
	pool        *pgxpool.Pool
	deals       *repositories.DealRepo
	stats       *repositories.StatsRepo
	commissions *repositories.CommissionRepo
	auditTrail  *repositories.AuditRepo
	log         *zap.Logger
}

func NewStatsService(pool *pgxpool.Pool, deals *repositories.DealRepo, stats *repositories.StatsRepo, commissions *repositories.CommissionRepo, auditTrail *repositories.AuditRepo, log *zap.Logger) *StatsService {
	return &StatsService{
		pool:        pool,
		deals:       deals,
		stats:       stats,
		commissions: commissions,
		auditTrail:  auditTrail,
		log:         log,
	}
}

// RecordCompletedDeal persists one finished deal atomically.
func (s *StatsService) RecordCompletedDeal(ctx context.Context, sum models.Summary) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.deals.Insert(ctx, tx, sum); err != nil {
		return err
	}
	if err := s.stats.UpsertBuyer(ctx, tx, sum.Buyer, sum.BuyerPaysUSD, sum.FeeUSD, sum.CompletedAt); err != nil {
		return err
	}
	if err := s.stats.UpsertSeller(ctx, tx, sum.Seller, sum.SellerReceivesUSD, sum.CompletedAt); err != nil {
		return err
	}
	if !sum.FeeUSD.IsZero() {
		feeCrypto := sum.BuyerPaysCrypto.Sub(sum.SellerReceivesCrypto)
		if err := s.commissions.Insert(ctx, tx, sum.DealID, sum.Coin, feeCrypto, sum.FeeUSD, sum.CompletedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.log.Info("completed deal recorded",
		zap.String("deal_id", sum.DealID),
		zap.String("coin", sum.Coin),
		zap.String("amount_usd", sum.AmountUSD.String()))
	return nil
}

func (s *StatsService) UserStats(ctx context.Context, actorID string) (*repositories.UserStats, error) {
	return s.stats.GetUserStats(ctx, actorID)
}

func (s *StatsService) TopTraders(ctx context.Context, limit int) ([]repositories.TraderEntry, error) {
	return s.stats.TopTraders(ctx, limit)
}

func (s *StatsService) TopBuyers(ctx context.Context, limit int) ([]repositories.TraderEntry, error) {
	return s.stats.TopBuyers(ctx, limit)
}

func (s *StatsService) TopSellers(ctx context.Context, limit int) ([]repositories.TraderEntry, error) {
	return s.stats.TopSellers(ctx, limit)
}

func (s *StatsService) RecentDeals(ctx context.Context, limit int) ([]repositories.CompletedDeal, error) {
	return s.deals.ListRecent(ctx, limit)
}

func (s *StatsService) DealsByActor(ctx context.Context, actorID string, limit int) ([]repositories.CompletedDeal, error) {
	return s.deals.ListByActor(ctx, actorID, limit)
}

func (s *StatsService) DealsByCoin(ctx context.Context, coin string, limit int) ([]repositories.CompletedDeal, error) {
	return s.deals.ListByCoin(ctx, coin, limit)
}

func (s *StatsService) CoinStats(ctx context.Context) ([]repositories.CoinStats, error) {
	return s.deals.StatsByCoin(ctx)
}

func (s *StatsService) CommissionTotals(ctx context.Context) ([]repositories.CommissionTotals, error) {
	return s.commissions.Totals(ctx)
}

// AuditTrail returns the persisted audit entries for one deal, oldest
// first.
func (s *StatsService) AuditTrail(ctx context.Context, dealID string) ([]audit.Entry, error) {
	return s.auditTrail.ListByDeal(ctx, dealID)
}
