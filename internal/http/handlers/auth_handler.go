package handlers

import (
	"crypto/subtle"

	"github.com/escrow-desk/backend/internal/auth"
	"github.com/escrow-desk/backend/internal/config"
	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg *config.Config
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, log: log}
}

// GatewayAuth exchanges the shared gateway secret for a service JWT.
// The bot process calls it at startup and on token expiry.
func (h *AuthHandler) GatewayAuth(c *fiber.Ctx) error {
	var req dto.AuthGatewayRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request body"})
	}

	if h.cfg.GatewaySecret == "" ||
		subtle.ConstantTimeCompare([]byte(req.Secret), []byte(h.cfg.GatewaySecret)) != 1 {
		h.log.Debug("gateway auth rejected")
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid gateway secret"})
	}

	role := auth.RoleGateway
	if req.ActorID != "" && (h.cfg.IsAdmin(req.ActorID) || h.cfg.IsSupport(req.ActorID)) {
		role = auth.RoleOperator
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, req.ActorID, role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("failed to generate jwt", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(dto.AuthResponse{Token: token})
}
