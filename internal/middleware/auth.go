package middleware

import (
	"strings"

	"github.com/escrow-desk/backend/internal/auth"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const (
	CtxActorID = "actor_id"
	CtxRole    = "role"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxActorID, claims.ActorID)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

func GetActorID(c *fiber.Ctx) string {
	id, _ := c.Locals(CtxActorID).(string)
	return id
}

func GetRole(c *fiber.Ctx) string {
	role, _ := c.Locals(CtxRole).(string)
	return role
}

// GatewayMiddleware lets only the bot gateway through. Deal actions
// arrive exclusively from it; the actor performing the action rides in
// the request body.
func GatewayMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetRole(c) != auth.RoleGateway {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "gateway access required"})
		}
		return c.Next()
	}
}

// OperatorMiddleware requires an operator token, or a gateway token
// acting for a configured admin or support actor.
func OperatorMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if GetRole(c) == auth.RoleOperator {
			return c.Next()
		}
		actorID := GetActorID(c)
		if cfg.IsAdmin(actorID) || cfg.IsSupport(actorID) {
			return c.Next()
		}
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "operator access required"})
	}
}
