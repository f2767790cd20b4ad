package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/db"
	"github.com/escrow-desk/backend/internal/engine"
	"github.com/escrow-desk/backend/internal/events"
	apphttp "github.com/escrow-desk/backend/internal/http"
	"github.com/escrow-desk/backend/internal/http/handlers"
	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/rail"
	"github.com/escrow-desk/backend/internal/repositories"
	"github.com/escrow-desk/backend/internal/services"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.CreateSchema(ctx, pool, log); err != nil {
		log.Fatal("failed to ensure schema", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	dealRepo := repositories.NewDealRepo(pool)
	statsRepo := repositories.NewStatsRepo(pool)
	commissionRepo := repositories.NewCommissionRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool, log)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// The audit trail goes to the append-only file and to Postgres.
	recorder := audit.Multi{
		audit.NewFileRecorder(cfg.AuditLogPath, log),
		auditRepo,
	}

	// Services
	statsService := services.NewStatsService(pool, dealRepo, statsRepo, commissionRepo, auditRepo, log)
	surface := messaging.NewBotClient(cfg.BotInternalURL, log)
	exchange := rail.NewExchangeClient(cfg.ExchangeBaseURL, cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.FallbackDepositAddresses, log)

	eng := engine.NewEngine(ctx, engine.NewTable(), exchange, surface, recorder, publisher, statsService, cfg, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, log)
	dealHandler := handlers.NewDealHandler(eng, log)
	statsHandler := handlers.NewStatsHandler(statsService, log)
	metaHandler := handlers.NewMetaHandler(exchange, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)
	wsHub.Start(ctx)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, dealHandler, statsHandler, metaHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
