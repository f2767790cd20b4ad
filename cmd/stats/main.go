package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/services"
)

// stats is the operator CLI over the persisted deal record: quick
// leaderboards and commission totals without going through the API.

func main() {
	report := flag.String("report", "traders", "traders | buyers | sellers | coins | commissions | recent | user | audit")
	actor := flag.String("actor", "", "actor id for -report user")
	deal := flag.String("deal", "", "deal id for -report audit")
	limit := flag.Int("limit", 20, "row limit for list reports")
	flag.Parse()

	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx := context.Background()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, 0, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	stats := services.NewStatsService(pool,
		repositories.NewDealRepo(pool),
		repositories.NewStatsRepo(pool),
		repositories.NewCommissionRepo(pool),
		repositories.NewAuditRepo(pool, log),
		log)

	var (
		out any
	)
	switch *report {
	case "traders":
		out, err = stats.TopTraders(ctx, *limit)
	case "buyers":
		out, err = stats.TopBuyers(ctx, *limit)
	case "sellers":
		out, err = stats.TopSellers(ctx, *limit)
	case "coins":
		out, err = stats.CoinStats(ctx)
	case "commissions":
		out, err = stats.CommissionTotals(ctx)
	case "recent":
		out, err = stats.RecentDeals(ctx, *limit)
	case "user":
		if *actor == "" {
			fmt.Fprintln(os.Stderr, "-report user needs -actor")
			os.Exit(2)
		}
		out, err = stats.UserStats(ctx, *actor)
	case "audit":
		if *deal == "" {
			fmt.Fprintln(os.Stderr, "-report audit needs -deal")
			os.Exit(2)
		}
		out, err = stats.AuditTrail(ctx, *deal)
	default:
		fmt.Fprintf(os.Stderr, "unknown report: %s\n", *report)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal("report failed", zap.String("report", *report), zap.Error(err))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		log.Fatal("encode failed", zap.Error(err))
	}
}
