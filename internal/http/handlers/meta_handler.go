package handlers

import (
	"github.com/escrow-desk/backend/internal/coins"
	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/rail"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type MetaHandler struct {
	rail rail.Rail
	log  *zap.Logger
}

func NewMetaHandler(r rail.Rail, log *zap.Logger) *MetaHandler {
	return &MetaHandler{rail: r, log: log}
}

func (h *MetaHandler) GetCoins(c *fiber.Ctx) error {
	out := make([]dto.CoinInfo, 0, len(coins.Symbols()))
	for _, sym := range coins.Symbols() {
		coin, err := coins.Lookup(sym)
		if err != nil {
			continue
		}
		out = append(out, dto.CoinInfo{
			Symbol:                coin.Symbol,
			DisplaySymbol:         coin.DisplaySymbol,
			Network:               coin.Network,
			MinDealUSD:            coin.MinDealUSD.String(),
			RequiredConfirmations: coin.RequiredConfirmations,
			Stable:                coin.Stable,
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}

// GetBalances reports the custodial account balance per supported coin.
// Operator-only; a coin whose balance call fails is reported with an
// error string instead of failing the whole response.
func (h *MetaHandler) GetBalances(c *fiber.Ctx) error {
	out := make([]dto.BalanceInfo, 0, len(coins.Symbols()))
	for _, sym := range coins.Symbols() {
		coin, err := coins.Lookup(sym)
		if err != nil {
			continue
		}
		bal, err := h.rail.Balance(c.Context(), coin)
		if err != nil {
			h.log.Warn("balance lookup failed", zap.String("coin", sym), zap.Error(err))
			out = append(out, dto.BalanceInfo{Symbol: sym, Error: "unavailable"})
			continue
		}
		out = append(out, dto.BalanceInfo{
			Symbol: sym,
			Free:   bal.Free.String(),
			Locked: bal.Locked.String(),
		})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: out})
}
