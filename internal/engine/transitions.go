package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/address"
	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/fees"
	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/models"
)

// Privacy and close ballot choices
const (
	VotePublic    = "public"
	VoteAnonymous = "anonymous"
	VoteClose     = "close"
	VoteKeep      = "keep"
)

// ClaimRole records the actor's role pick. Each actor claims exactly
// once; claiming an already-taken role, or a second role, fails and
// leaves the standing assignment untouched. ResetRoles is the only
// recovery path.
func (e *Engine) ClaimRole(ctx context.Context, dealID, actor, role string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingRoleSelection {
			return ErrWrongState
		}
		if role != models.RoleBuyer && role != models.RoleSeller {
			return inputErr("pick buyer or seller")
		}

		if d.RoleOf(actor) != "" {
			_ = e.surface.SendTo(ctx, d.ID, actor,
				"You already picked a role. Use reset to start the selection over.")
			return ErrRoleConflict
		}
		held := d.Buyer
		if role == models.RoleSeller {
			held = d.Seller
		}
		if held != "" {
			_ = e.surface.SendTo(ctx, d.ID, actor,
				fmt.Sprintf("The %s role is taken. Pick the other one, or use reset.", role))
			return ErrRoleConflict
		}

		if role == models.RoleBuyer {
			d.Buyer = actor
		} else {
			d.Seller = actor
		}
		e.touch(en, d)

		if !d.RolesComplete() {
			return nil
		}
		if err := e.transition(d, models.StatusAwaitingAmount); err != nil {
			return err
		}
		_ = e.surface.SendTo(ctx, d.ID, d.Buyer,
			"Roles set. Enter the deal amount in USD.")
		go e.collectAmount(d.ID, d.Buyer)
		return nil
	})
}

// ResetRoles clears both role picks. Only available before the amount
// step; harmless to repeat.
func (e *Engine) ResetRoles(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingRoleSelection {
			return ErrWrongState
		}
		d.Buyer, d.Seller = "", ""
		e.touch(en, d)
		_ = e.surface.SendPrompt(ctx, d.ID, "Roles reset. Pick again.", rolePrompt())
		return nil
	})
}

// SubmitAmount parses and records the buyer's USD amount.
func (e *Engine) SubmitAmount(ctx context.Context, dealID, actor, text string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingAmount {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleBuyer {
			return ErrWrongRole
		}

		coin := e.coin(d)
		amt, err := parseAmount(text)
		if err != nil {
			return err
		}
		if amt.LessThan(coin.MinDealUSD) {
			return inputErr(fmt.Sprintf("the minimum for %s is $%s", coin.Symbol, coin.MinDealUSD.String()))
		}

		d.AmountUSD = amt
		e.touch(en, d)
		if err := e.transition(d, models.StatusAwaitingSellerApproval); err != nil {
			return err
		}
		_ = e.surface.SendPrompt(ctx, d.ID,
			fmt.Sprintf("Buyer proposed $%s. Seller, approve or reject.", amt.StringFixed(2)),
			[]messaging.PromptOption{
				{ID: "amount:approve", Label: "Approve"},
				{ID: "amount:reject", Label: "Reject"},
			})
		return nil
	})
}

// ApproveAmount locks the amount in, computes the service fee once and
// either opens the fee ballot or, on a free deal, goes straight to
// deposit generation.
func (e *Engine) ApproveAmount(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingSellerApproval {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}

		if !d.FeeComputed {
			d.FeeUSD = fees.ServiceFee(d.AmountUSD, e.coin(d))
			d.FeeComputed = true
		}
		e.touch(en, d)

		if d.FeeUSD.IsZero() {
			d.BuyerPaysUSD = d.AmountUSD
			d.SellerReceivesUSD = d.AmountUSD
			return e.startDeposit(ctx, en, d)
		}

		if err := e.transition(d, models.StatusAwaitingFeeAgreement); err != nil {
			return err
		}
		_ = e.surface.SendPrompt(ctx, d.ID,
			fmt.Sprintf("Service fee is $%s. Who pays it? Both of you vote.", d.FeeUSD.StringFixed(2)),
			feePrompt())
		return nil
	})
}

// RejectAmount sends the deal back to amount entry.
func (e *Engine) RejectAmount(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingSellerApproval {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}

		d.AmountUSD = decimal.Zero
		e.touch(en, d)
		if err := e.transition(d, models.StatusAwaitingAmount); err != nil {
			return err
		}
		_ = e.surface.SendTo(ctx, d.ID, d.Buyer,
			"Seller rejected the amount. Enter a new amount in USD.")
		go e.collectAmount(d.ID, d.Buyer)
		return nil
	})
}

// CastFeeVote records one party's fee-payer choice. Unanimity triggers
// the split math and deposit generation exactly once; disagreement
// clears the ballot and asks again.
func (e *Engine) CastFeeVote(ctx context.Context, dealID, actor, choice string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingFeeAgreement {
			return ErrWrongState
		}
		if !fees.IsValidPayer(choice) {
			return inputErr("vote buyer_pays, seller_pays or split")
		}
		if err := d.FeeBallot.Cast(actor, choice); err != nil {
			return err
		}
		e.touch(en, d)

		if !d.FeeBallot.Complete() {
			return nil
		}
		payer, ok := d.FeeBallot.Unanimous()
		if !ok {
			d.FeeBallot.Reset()
			_ = e.surface.SendPrompt(ctx, d.ID,
				"You disagreed on the fee. Vote again.", feePrompt())
			return nil
		}
		if !d.FeeBallot.TryFinalize() {
			return nil // the other vote's goroutine won the finalize
		}

		d.FeePayer = fees.Payer(payer)
		d.BuyerPaysUSD, d.SellerReceivesUSD = fees.Split(d.AmountUSD, d.FeeUSD, d.FeePayer)
		if err := e.startDeposit(ctx, en, d); err != nil {
			d.FeeBallot.ReleaseFinalize()
			return err
		}
		return nil
	})
}

// ConfirmDelivery is the seller declaring the goods sent.
func (e *Engine) ConfirmDelivery(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingDelivery {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}
		d.LastActivityAt = e.now()
		if err := e.transition(d, models.StatusAwaitingReceipt); err != nil {
			return err
		}
		_ = e.surface.SendPrompt(ctx, d.ID,
			"Seller marked the goods delivered. Buyer, confirm receipt.",
			[]messaging.PromptOption{
				{ID: "receipt:confirm", Label: "Received"},
				{ID: "receipt:dispute", Label: "Not received"},
			})
		return nil
	})
}

// ConfirmReceipt moves to payout address collection. Also accepted from
// a dispute: the buyer withdrawing their complaint.
func (e *Engine) ConfirmReceipt(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingReceipt && d.Status != models.StatusDisputed {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleBuyer {
			return ErrWrongRole
		}
		d.LastActivityAt = e.now()
		if err := e.transition(d, models.StatusAwaitingPayoutAddress); err != nil {
			return err
		}
		_ = e.surface.SendTo(ctx, d.ID, d.Seller,
			fmt.Sprintf("Buyer confirmed receipt. Send your %s payout address. Example: %s",
				d.Coin, address.Example(d.Coin)))
		go e.collectPayoutAddress(d.ID, d.Seller)
		return nil
	})
}

// ReportNotReceived opens a dispute.
func (e *Engine) ReportNotReceived(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingReceipt {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleBuyer {
			return ErrWrongRole
		}
		d.LastActivityAt = e.now()
		if err := e.transition(d, models.StatusDisputed); err != nil {
			return err
		}
		_ = e.surface.SendPrompt(ctx, d.ID,
			"Buyer reports the goods were not received. Seller, approve a refund or escalate to support.",
			[]messaging.PromptOption{
				{ID: "dispute:refund", Label: "Approve refund"},
				{ID: "dispute:escalate", Label: "Escalate to support"},
			})
		return nil
	})
}

// ApproveRefund is the seller conceding a dispute.
func (e *Engine) ApproveRefund(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusDisputed {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}
		return e.beginRefund(ctx, en, d, "Seller approved the refund.")
	})
}

// EscalateDispute hands the deal to a human. Either party can pull the
// cord; the channel stays open for support.
func (e *Engine) EscalateDispute(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusDisputed {
			return ErrWrongState
		}
		if err := e.transition(d, models.StatusSupportEscalated); err != nil {
			return err
		}
		en.stopTimers()
		_ = e.surface.Send(ctx, d.ID,
			"This deal is now with support. Funds stay in escrow and the channel stays open.")
		e.notifySupport(d, "dispute escalated")
		return nil
	})
}

// SubmitPayoutAddress validates and records where the seller is paid.
func (e *Engine) SubmitPayoutAddress(ctx context.Context, dealID, actor, addr string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingPayoutAddress {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}

		addr = strings.TrimSpace(addr)
		if err := address.Validate(addr, d.Coin); err != nil {
			return inputErr(err.Error() + " " + address.Hint(d.Coin))
		}

		d.SellerPayoutAddress = addr
		d.LastActivityAt = e.now()
		if err := e.transition(d, models.StatusAwaitingPayoutConfirm); err != nil {
			return err
		}
		_ = e.surface.SendPrompt(ctx, d.ID,
			fmt.Sprintf("Paying %s %s to %s. Seller, confirm.",
				d.SellerReceivesCrypto.String(), d.Coin, addr),
			[]messaging.PromptOption{
				{ID: "payout:confirm", Label: "Confirm"},
				{ID: "payout:cancel", Label: "Change address"},
			})
		return nil
	})
}

// ConfirmPayout performs the single withdrawal of the deal. The payout
// guard makes a second confirm, however it arrives, a no-op.
func (e *Engine) ConfirmPayout(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingPayoutConfirm {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}
		if !d.PayoutGuard.TryClaim() {
			return nil // already paying out
		}

		coin := e.coin(d)
		w, err := e.rail.Withdraw(ctx, coin, d.SellerReceivesCrypto, d.SellerPayoutAddress, coin.Network)
		if err != nil {
			// The guard stays claimed: an automatic retry after an
			// ambiguous withdrawal failure risks paying twice.
			e.audit.Record(ctx, audit.Entry{
				Type:      audit.TypePayoutFailed,
				Timestamp: e.now(),
				DealID:    d.ID,
				Coin:      d.Coin,
				AmountUSD: d.SellerReceivesUSD,
				Error:     err.Error(),
			})
			_ = e.transition(d, models.StatusSupportEscalated)
			en.stopTimers()
			_ = e.surface.Send(ctx, d.ID,
				"The payout could not be submitted. Your funds are safe in escrow; support has been notified. Keep this channel open.")
			e.notifySupport(d, "payout failed: "+err.Error())
			return err
		}

		_ = d.SetPayoutTx(w.TxRef)
		e.audit.Record(ctx, audit.Entry{
			Type:         audit.TypePayoutSubmitted,
			Timestamp:    e.now(),
			DealID:       d.ID,
			Coin:         d.Coin,
			AmountUSD:    d.SellerReceivesUSD,
			AmountCrypto: d.SellerReceivesCrypto,
			TxRef:        w.TxRef,
			Buyer:        d.Buyer,
			Seller:       d.Seller,
		})
		return e.completeDeal(ctx, en, d)
	})
}

// CancelPayout backs out of the confirm step so the seller can submit a
// different address.
func (e *Engine) CancelPayout(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusAwaitingPayoutConfirm {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleSeller {
			return ErrWrongRole
		}
		d.SellerPayoutAddress = ""
		d.LastActivityAt = e.now()
		if err := e.transition(d, models.StatusAwaitingPayoutAddress); err != nil {
			return err
		}
		_ = e.surface.SendTo(ctx, d.ID, d.Seller,
			fmt.Sprintf("Payout cancelled. Send your %s payout address.", d.Coin))
		go e.collectPayoutAddress(d.ID, d.Seller)
		return nil
	})
}

// SubmitRefundAddress validates the buyer's refund destination and runs
// the refund withdrawal.
func (e *Engine) SubmitRefundAddress(ctx context.Context, dealID, actor, addr string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusRefundPending {
			return ErrWrongState
		}
		if d.RoleOf(actor) != models.RoleBuyer {
			return ErrWrongRole
		}

		addr = strings.TrimSpace(addr)
		if err := address.Validate(addr, d.Coin); err != nil {
			return inputErr(err.Error() + " " + address.Hint(d.Coin))
		}
		d.BuyerRefundAddress = addr
		d.LastActivityAt = e.now()
		return e.executeRefund(ctx, en, d)
	})
}

// CastPrivacyVote records whether an actor's name appears in the public
// stats for this deal. Both votes in, the completed deal is persisted.
func (e *Engine) CastPrivacyVote(ctx context.Context, dealID, actor, choice string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusCompleted {
			return ErrWrongState
		}
		if choice != VotePublic && choice != VoteAnonymous {
			return inputErr("vote public or anonymous")
		}
		if err := d.PrivacyBallot.Cast(actor, choice); err != nil {
			return err
		}
		if d.PrivacyBallot.Complete() && d.PrivacyBallot.TryFinalize() {
			e.recordSummary(d)
		}
		return nil
	})
}

// CastCloseVote tears the channel down when both parties agree.
func (e *Engine) CastCloseVote(ctx context.Context, dealID, actor, choice string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if d.Status != models.StatusCompleted {
			return ErrWrongState
		}
		if choice != VoteClose && choice != VoteKeep {
			return inputErr("vote close or keep")
		}
		if err := d.CloseBallot.Cast(actor, choice); err != nil {
			return err
		}
		if !d.CloseBallot.Complete() {
			return nil
		}
		agreed, ok := d.CloseBallot.Unanimous()
		if !ok || agreed != VoteClose {
			d.CloseBallot.Reset()
			_ = e.surface.Send(ctx, d.ID, "No agreement to close; the channel stays open.")
			return nil
		}
		if !d.CloseBallot.TryFinalize() {
			return nil
		}
		// Anyone who skipped the privacy vote stays anonymous.
		if d.PrivacyBallot.ForceFinalize() {
			e.recordSummary(d)
		}
		e.scheduleTeardown(en, d.ID, e.cfg.TeardownGrace)
		return nil
	})
}

// completeDeal runs the terminal bookkeeping for a paid-out deal.
// Caller holds the entry lock.
func (e *Engine) completeDeal(ctx context.Context, en *entry, d *models.Deal) error {
	if err := e.transition(d, models.StatusCompleted); err != nil {
		return err
	}
	en.stopTimers()
	e.audit.Record(ctx, audit.Entry{
		Type:      audit.TypeDealCompleted,
		Timestamp: e.now(),
		DealID:    d.ID,
		Coin:      d.Coin,
		AmountUSD: d.AmountUSD,
		TxRef:     d.PayoutTxRef(),
		Buyer:     d.Buyer,
		Seller:    d.Seller,
	})
	_ = e.events.Publish(e.baseCtx, events.StreamDeal, events.Event{
		Type: events.EventDealCompleted,
		Payload: map[string]any{
			"deal_id":    d.ID,
			"coin":       d.Coin,
			"amount_usd": d.AmountUSD.String(),
		},
	})
	_ = e.surface.SendPrompt(ctx, d.ID,
		"Payout submitted, deal complete. Show your name in public stats?",
		[]messaging.PromptOption{
			{ID: "privacy:public", Label: "Show my name"},
			{ID: "privacy:anonymous", Label: "Stay anonymous"},
		})
	_ = e.surface.SendPrompt(ctx, d.ID,
		"Close this channel?",
		[]messaging.PromptOption{
			{ID: "close:close", Label: "Close it"},
			{ID: "close:keep", Label: "Keep it open"},
		})
	return nil
}

// recordSummary hands the finished deal to the stats sink. Caller holds
// the entry lock; the write happens off it.
func (e *Engine) recordSummary(d *models.Deal) {
	buyerVote, _ := d.PrivacyBallot.Vote(d.Buyer)
	sellerVote, _ := d.PrivacyBallot.Vote(d.Seller)
	sum := models.Summary{
		DealID:               d.ID,
		Buyer:                d.Buyer,
		Seller:               d.Seller,
		Coin:                 d.Coin,
		AmountUSD:            d.AmountUSD,
		FeeUSD:               d.FeeUSD,
		BuyerPaysUSD:         d.BuyerPaysUSD,
		SellerReceivesUSD:    d.SellerReceivesUSD,
		BuyerPaysCrypto:      d.BuyerPaysCrypto,
		SellerReceivesCrypto: d.SellerReceivesCrypto,
		PayoutTxRef:          d.PayoutTxRef(),
		BuyerPublic:          buyerVote == VotePublic,
		SellerPublic:         sellerVote == VotePublic,
		CompletedAt:          e.now(),
	}
	go func() {
		if err := e.stats.RecordCompletedDeal(e.baseCtx, sum); err != nil {
			e.log.Error("stats sink rejected completed deal",
				zap.String("deal_id", sum.DealID), zap.Error(err))
		}
	}()
}

func (e *Engine) notifySupport(d *models.Deal, reason string) {
	for _, id := range e.cfg.SupportActorIDs {
		_ = e.events.NotifyActor(e.baseCtx, id,
			fmt.Sprintf("Deal %s needs attention: %s", d.ID, reason))
	}
}

// parseAmount accepts "100", "$100", "100.50".
func parseAmount(text string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "$"))
	amt, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, inputErr("that is not a number; send the amount in USD, like 100 or 99.50")
	}
	if !amt.IsPositive() {
		return decimal.Zero, inputErr("the amount must be positive")
	}
	return amt, nil
}
