package handlers

import (
	"errors"

	"github.com/escrow-desk/backend/internal/engine"
	"github.com/escrow-desk/backend/internal/http/dto"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DealHandler struct {
	eng *engine.Engine
	log *zap.Logger
}

func NewDealHandler(eng *engine.Engine, log *zap.Logger) *DealHandler {
	return &DealHandler{eng: eng, log: log}
}

func (h *DealHandler) CreateDeal(c *fiber.Ctx) error {
	var req dto.CreateDealRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	dealID, err := h.eng.CreateDeal(c.Context(), req.Initiator, req.Counterparty, req.Coin)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{"deal_id": dealID}})
}

func (h *DealHandler) GetDeal(c *fiber.Ctx) error {
	view, err := h.eng.Deal(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "deal not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: view})
}

// Action dispatches a button-press action onto the state machine. The
// route parameter names the action; the body carries the actor and, for
// votes and role picks, the chosen value.
func (h *DealHandler) Action(c *fiber.Ctx) error {
	var req dto.ActionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	dealID := c.Params("id")
	ctx := c.Context()

	var err error
	switch action := c.Params("action"); action {
	case "claim-role":
		err = h.eng.ClaimRole(ctx, dealID, req.Actor, req.Value)
	case "reset-roles":
		err = h.eng.ResetRoles(ctx, dealID, req.Actor)
	case "approve-amount":
		err = h.eng.ApproveAmount(ctx, dealID, req.Actor)
	case "reject-amount":
		err = h.eng.RejectAmount(ctx, dealID, req.Actor)
	case "fee-vote":
		err = h.eng.CastFeeVote(ctx, dealID, req.Actor, req.Value)
	case "retry-deposit":
		err = h.eng.RetryDeposit(ctx, dealID, req.Actor)
	case "confirm-delivery":
		err = h.eng.ConfirmDelivery(ctx, dealID, req.Actor)
	case "confirm-receipt":
		err = h.eng.ConfirmReceipt(ctx, dealID, req.Actor)
	case "report-not-received":
		err = h.eng.ReportNotReceived(ctx, dealID, req.Actor)
	case "approve-refund":
		err = h.eng.ApproveRefund(ctx, dealID, req.Actor)
	case "escalate":
		err = h.eng.EscalateDispute(ctx, dealID, req.Actor)
	case "confirm-payout":
		err = h.eng.ConfirmPayout(ctx, dealID, req.Actor)
	case "cancel-payout":
		err = h.eng.CancelPayout(ctx, dealID, req.Actor)
	case "privacy-vote":
		err = h.eng.CastPrivacyVote(ctx, dealID, req.Actor, req.Value)
	case "close-vote":
		err = h.eng.CastCloseVote(ctx, dealID, req.Actor, req.Value)
	default:
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "unknown action: " + action})
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// SubmitText handles the free-text inputs when they arrive over HTTP
// instead of as channel messages.
func (h *DealHandler) SubmitText(c *fiber.Ctx) error {
	var req dto.TextRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	dealID := c.Params("id")
	ctx := c.Context()

	var err error
	switch field := c.Params("field"); field {
	case "amount":
		err = h.eng.SubmitAmount(ctx, dealID, req.Actor, req.Text)
	case "payout-address":
		err = h.eng.SubmitPayoutAddress(ctx, dealID, req.Actor, req.Text)
	case "refund-address":
		err = h.eng.SubmitRefundAddress(ctx, dealID, req.Actor, req.Text)
	default:
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "unknown field: " + field})
	}
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

func (h *DealHandler) fail(c *fiber.Ctx, err error) error {
	var bad *engine.InputError
	switch {
	case errors.Is(err, engine.ErrDealNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrNotParticipant), errors.Is(err, engine.ErrWrongRole):
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, engine.ErrWrongState),
		errors.Is(err, engine.ErrRoleConflict),
		errors.Is(err, engine.ErrDealExists),
		errors.Is(err, models.ErrAlreadyVoted):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &bad):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	h.log.Error("deal action failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
}
