package http

import (
	"time"

	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/http/handlers"
	"github.com/escrow-desk/backend/internal/middleware"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	dealHandler *handlers.DealHandler,
	statsHandler *handlers.StatsHandler,
	metaHandler *handlers.MetaHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Auth (public, secret-gated)
	api.Post("/auth/gateway", authHandler.GatewayAuth)

	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	// Meta (public)
	api.Get("/meta/coins", metaHandler.GetCoins)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// Deal lifecycle: gateway only
	gw := protected.Group("", middleware.GatewayMiddleware())
	gw.Post("/deals", dealHandler.CreateDeal)
	gw.Get("/deals/:id", dealHandler.GetDeal)
	gw.Post("/deals/:id/actions/:action", dealHandler.Action)
	gw.Post("/deals/:id/input/:field", dealHandler.SubmitText)

	// Stats and leaderboards
	protected.Get("/stats/users/:actorId", statsHandler.GetUserStats)
	protected.Get("/stats/leaderboard/traders", statsHandler.TopTraders)
	protected.Get("/stats/leaderboard/buyers", statsHandler.TopBuyers)
	protected.Get("/stats/leaderboard/sellers", statsHandler.TopSellers)
	protected.Get("/stats/deals", statsHandler.RecentDeals)
	protected.Get("/stats/deals/by-actor/:actorId", statsHandler.DealsByActor)
	protected.Get("/stats/deals/by-coin/:coin", statsHandler.DealsByCoin)
	protected.Get("/stats/coins", statsHandler.CoinStats)

	// Operator-only analytics
	operator := protected.Group("", middleware.OperatorMiddleware(cfg))
	operator.Get("/stats/commissions", statsHandler.CommissionTotals)
	operator.Get("/stats/deals/:dealId/audit", statsHandler.DealAudit)
	operator.Get("/stats/balances", metaHandler.GetBalances)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
