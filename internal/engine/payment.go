package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/events"
	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/models"
	"github.com/escrow-desk/backend/internal/rail"
)

var tenThousand = decimal.NewFromInt(10000)

// startDeposit quotes both sides, issues the deposit address and opens
// the monitoring loop. Caller holds the entry lock. A rail failure
// releases the deposit guard so RetryDeposit can run the step again;
// no money has moved at this point.
func (e *Engine) startDeposit(ctx context.Context, en *entry, d *models.Deal) error {
	if !d.DepositGuard.TryClaim() {
		return nil
	}
	coin := e.coin(d)

	// Two independent quotes. The buyer and seller legs may catch
	// different rate instants; each leg is internally consistent and
	// the USD figures are what the parties agreed on.
	buyerQ, err := e.rail.Quote(ctx, coin, d.BuyerPaysUSD)
	if err != nil {
		return e.depositFailed(ctx, d, err)
	}
	sellerQ, err := e.rail.Quote(ctx, coin, d.SellerReceivesUSD)
	if err != nil {
		return e.depositFailed(ctx, d, err)
	}
	depAddr, err := e.rail.IssueDepositAddress(ctx, coin)
	if err != nil {
		return e.depositFailed(ctx, d, err)
	}

	// The micro-fraction makes this deal's expected deposit unique on a
	// shared custodial address, so poll matching cannot collide.
	d.BuyerPaysCrypto = buyerQ.CryptoAmount.Add(e.uniquenessSuffix())
	d.SellerReceivesCrypto = sellerQ.CryptoAmount.Add(e.uniquenessSuffix())
	d.DepositAddress = depAddr.Address
	d.DepositNetwork = depAddr.Network
	now := e.now()
	d.DepositQuotedAt = now
	d.PaymentStartedAt = now

	if err := e.transition(d, models.StatusAwaitingDeposit); err != nil {
		d.DepositGuard.Release()
		return err
	}
	// Payment has started: the inactivity window no longer applies.
	if en.inactivity != nil {
		en.inactivity.Stop()
	}

	e.audit.Record(ctx, audit.Entry{
		Type:         audit.TypeDepositGenerated,
		Timestamp:    now,
		DealID:       d.ID,
		Coin:         d.Coin,
		AmountUSD:    d.BuyerPaysUSD,
		AmountCrypto: d.BuyerPaysCrypto,
		Buyer:        d.Buyer,
		Seller:       d.Seller,
	})

	msg := fmt.Sprintf("Send exactly %s %s to:\n%s", d.BuyerPaysCrypto.String(), d.Coin, d.DepositAddress)
	if depAddr.Tag != "" {
		msg += "\nMemo/tag: " + depAddr.Tag
	}
	msg += "\nThe amount must match to the last digit or the deposit will not be recognized."
	_ = e.surface.SendTo(ctx, d.ID, d.Buyer, msg)

	e.startPolling(en, d.ID)
	return nil
}

func (e *Engine) depositFailed(ctx context.Context, d *models.Deal, err error) error {
	d.DepositGuard.Release()
	e.log.Warn("deposit generation failed",
		zap.String("deal_id", d.ID), zap.Error(err))
	_ = e.surface.SendPrompt(ctx, d.ID,
		"Could not prepare the deposit right now. Try again in a moment.",
		[]messaging.PromptOption{{ID: "deposit:retry", Label: "Retry"}})
	return fmt.Errorf("deposit generation: %w", err)
}

// RetryDeposit re-runs deposit generation after a rail failure.
func (e *Engine) RetryDeposit(ctx context.Context, dealID, actor string) error {
	return e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if !d.Participant(actor) {
			return ErrNotParticipant
		}
		if !d.FeeComputed {
			return ErrWrongState
		}
		switch d.Status {
		case models.StatusAwaitingSellerApproval:
			// zero-fee path stalled before the deposit transition
			if !d.FeeUSD.IsZero() {
				return ErrWrongState
			}
		case models.StatusAwaitingFeeAgreement:
			if _, ok := d.FeeBallot.Unanimous(); !ok {
				return ErrWrongState
			}
			if !d.FeeBallot.TryFinalize() {
				return nil // a retry is already in flight
			}
			if err := e.startDeposit(ctx, en, d); err != nil {
				d.FeeBallot.ReleaseFinalize()
				return err
			}
			return nil
		default:
			return ErrWrongState
		}
		e.touch(en, d)
		return e.startDeposit(ctx, en, d)
	})
}

func (e *Engine) startPolling(en *entry, dealID string) {
	ctx, cancel := context.WithCancel(e.baseCtx)
	if en.pollCancel != nil {
		en.pollCancel()
	}
	en.pollCancel = cancel
	go e.pollDeposits(ctx, dealID)
}

func (e *Engine) pollDeposits(ctx context.Context, dealID string) {
	ticker := time.NewTicker(e.cfg.PaymentPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.checkDeposits(ctx, dealID) {
				return
			}
		}
	}
}

// checkDeposits is one poll tick. Returns true when the loop should stop.
func (e *Engine) checkDeposits(ctx context.Context, dealID string) bool {
	var stop bool
	err := e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if d.Status != models.StatusAwaitingDeposit {
			stop = true
			return nil
		}
		coin := e.coin(d)
		deposits, err := e.rail.PollDeposits(ctx, coin, d.DepositQuotedAt)
		if err != nil {
			e.log.Warn("deposit poll failed",
				zap.String("deal_id", d.ID), zap.Error(err))
			return nil
		}
		dep, ok := e.matchDeposit(d, deposits)
		if !ok {
			return nil
		}

		if d.DetectGuard.TryClaim() {
			e.audit.Record(ctx, audit.Entry{
				Type:         audit.TypeDepositDetected,
				Timestamp:    e.now(),
				DealID:       d.ID,
				Coin:         d.Coin,
				AmountCrypto: dep.Amount,
				TxRef:        dep.TxRef,
			})
			_ = e.surface.Send(ctx, d.ID,
				fmt.Sprintf("Deposit of %s %s seen, waiting for %d confirmations.",
					dep.Amount.String(), d.Coin, coin.RequiredConfirmations))
		}

		if !dep.Credited || dep.Confirmations < coin.RequiredConfirmations {
			return nil
		}

		// Fixed settling delay between the first confirmed sighting and
		// acting on it, absorbing rail-side reorg flapping.
		now := e.now()
		if en.settleAt.IsZero() {
			en.settleAt = now.Add(e.cfg.PaymentSettleDelay)
			return nil
		}
		if now.Before(en.settleAt) {
			return nil
		}

		if err := d.SetDepositTx(dep.TxRef); err != nil {
			stop = true // a previous tick already confirmed
			return nil
		}
		if err := e.transition(d, models.StatusAwaitingDelivery); err != nil {
			return nil
		}
		e.audit.Record(ctx, audit.Entry{
			Type:         audit.TypeDepositConfirmed,
			Timestamp:    now,
			DealID:       d.ID,
			Coin:         d.Coin,
			AmountUSD:    d.BuyerPaysUSD,
			AmountCrypto: dep.Amount,
			TxRef:        dep.TxRef,
			Buyer:        d.Buyer,
			Seller:       d.Seller,
		})
		_ = e.events.Publish(e.baseCtx, events.StreamDeal, events.Event{
			Type: events.EventPaymentReceived,
			Payload: map[string]any{
				"deal_id": d.ID,
				"coin":    d.Coin,
				"tx_ref":  dep.TxRef,
			},
		})
		_ = e.surface.SendPrompt(ctx, d.ID,
			"Deposit confirmed and held in escrow. Seller, deliver the goods and confirm.",
			[]messaging.PromptOption{{ID: "delivery:confirm", Label: "Delivered"}})
		stop = true
		return nil
	})
	if errors.Is(err, ErrDealNotFound) {
		return true
	}
	return stop
}

// matchDeposit finds a deposit within the relative tolerance band of
// the expected amount.
func (e *Engine) matchDeposit(d *models.Deal, deposits []rail.Deposit) (rail.Deposit, bool) {
	expected := d.BuyerPaysCrypto
	band := expected.Mul(decimal.NewFromInt(e.cfg.DepositToleranceBPS)).Div(tenThousand)
	for _, dep := range deposits {
		if dep.Amount.Sub(expected).Abs().LessThanOrEqual(band) {
			return dep, true
		}
	}
	return rail.Deposit{}, false
}

// uniquenessSuffix returns a micro-fraction in [1e-8, 1e-6).
func (e *Engine) uniquenessSuffix() decimal.Decimal {
	return decimal.NewFromFloat(1e-8 + e.jitter()*(1e-6-1e-8))
}

// beginRefund moves the deal into the refund flow and asks the buyer
// for a destination. Caller holds the entry lock.
func (e *Engine) beginRefund(ctx context.Context, en *entry, d *models.Deal, reason string) error {
	if err := e.transition(d, models.StatusRefundPending); err != nil {
		return err
	}
	if en.pollCancel != nil {
		en.pollCancel()
		en.pollCancel = nil
	}
	_ = e.surface.Send(ctx, d.ID, reason)
	_ = e.surface.SendTo(ctx, d.ID, d.Buyer,
		fmt.Sprintf("Send your %s refund address.", d.Coin))
	go e.collectRefundAddress(d.ID, d.Buyer)
	return nil
}

// executeRefund runs the refund withdrawal: the buyer's deposit minus
// the earned service fee, re-quoted at the current rate. The payout
// guard covers it, so a deal can never see both a payout and a refund.
func (e *Engine) executeRefund(ctx context.Context, en *entry, d *models.Deal) error {
	if !d.PayoutGuard.TryClaim() {
		return nil
	}
	coin := e.coin(d)
	refundUSD := d.BuyerPaysUSD.Sub(d.FeeUSD)

	q, err := e.rail.Quote(ctx, coin, refundUSD)
	if err != nil {
		// Nothing has moved yet; safe to let the buyer resubmit.
		d.PayoutGuard.Release()
		_ = e.surface.SendTo(ctx, d.ID, d.Buyer,
			"Could not price the refund right now. Send the address again in a moment.")
		return fmt.Errorf("refund quote: %w", err)
	}

	w, err := e.rail.Withdraw(ctx, coin, q.CryptoAmount, d.BuyerRefundAddress, coin.Network)
	if err != nil {
		// Guard stays claimed: the withdrawal may have landed.
		e.audit.Record(ctx, audit.Entry{
			Type:      audit.TypeRefundFailed,
			Timestamp: e.now(),
			DealID:    d.ID,
			Coin:      d.Coin,
			AmountUSD: refundUSD,
			Error:     err.Error(),
		})
		_ = e.transition(d, models.StatusSupportEscalated)
		en.stopTimers()
		_ = e.surface.Send(ctx, d.ID,
			"The refund could not be submitted. Your funds are safe; support has been notified. Keep this channel open.")
		e.notifySupport(d, "refund failed: "+err.Error())
		return err
	}

	_ = d.SetPayoutTx(w.TxRef)
	now := e.now()
	e.audit.Record(ctx, audit.Entry{
		Type:         audit.TypeRefundSubmitted,
		Timestamp:    now,
		DealID:       d.ID,
		Coin:         d.Coin,
		AmountUSD:    refundUSD,
		AmountCrypto: q.CryptoAmount,
		TxRef:        w.TxRef,
		Buyer:        d.Buyer,
	})
	if err := e.transition(d, models.StatusRefunded); err != nil {
		return err
	}
	e.audit.Record(ctx, audit.Entry{
		Type:      audit.TypeDealRefunded,
		Timestamp: now,
		DealID:    d.ID,
		Coin:      d.Coin,
		AmountUSD: refundUSD,
		Buyer:     d.Buyer,
		Seller:    d.Seller,
	})
	_ = e.surface.Send(ctx, d.ID,
		fmt.Sprintf("Refund of %s %s submitted. This channel closes shortly.", q.CryptoAmount.String(), d.Coin))
	e.scheduleTeardown(en, d.ID, e.cfg.TeardownGrace)
	return nil
}
