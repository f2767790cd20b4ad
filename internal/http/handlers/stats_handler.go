package handlers

import (
	"strconv"

	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type StatsHandler struct {
	stats *services.StatsService
	log   *zap.Logger
}

func NewStatsHandler(stats *services.StatsService, log *zap.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, log: log}
}

func (h *StatsHandler) GetUserStats(c *fiber.Ctx) error {
	s, err := h.stats.UserStats(c.Context(), c.Params("actorId"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "no stats for this actor"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: s})
}

func (h *StatsHandler) TopTraders(c *fiber.Ctx) error {
	entries, err := h.stats.TopTraders(c.Context(), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *StatsHandler) TopBuyers(c *fiber.Ctx) error {
	entries, err := h.stats.TopBuyers(c.Context(), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *StatsHandler) TopSellers(c *fiber.Ctx) error {
	entries, err := h.stats.TopSellers(c.Context(), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *StatsHandler) RecentDeals(c *fiber.Ctx) error {
	deals, err := h.stats.RecentDeals(c.Context(), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *StatsHandler) DealsByActor(c *fiber.Ctx) error {
	deals, err := h.stats.DealsByActor(c.Context(), c.Params("actorId"), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *StatsHandler) DealsByCoin(c *fiber.Ctx) error {
	deals, err := h.stats.DealsByCoin(c.Context(), c.Params("coin"), limitQuery(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: deals})
}

func (h *StatsHandler) CoinStats(c *fiber.Ctx) error {
	stats, err := h.stats.CoinStats(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: stats})
}

func (h *StatsHandler) DealAudit(c *fiber.Ctx) error {
	entries, err := h.stats.AuditTrail(c.Context(), c.Params("dealId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entries})
}

func (h *StatsHandler) CommissionTotals(c *fiber.Ctx) error {
	totals, err := h.stats.CommissionTotals(c.Context())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: totals})
}

func (h *StatsHandler) fail(c *fiber.Ctx, err error) error {
	h.log.Error("stats query failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal server error"})
}

func limitQuery(c *fiber.Ctx) int {
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 20
}
