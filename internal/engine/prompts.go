package engine

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/escrow-desk/backend/internal/messaging"
	"github.com/escrow-desk/backend/internal/models"
)

// The free-text inputs (amount, payout address, refund address) arrive
// as ordinary channel messages, not button presses. Each collector is a
// goroutine reading the actor's next message and feeding it to the
// matching action until the deal moves on. While a collector runs, the
// counterparty is restricted from posting so the channel only carries
// the prompted actor's input. Bad input re-prompts; by default there is
// no retry cap.

func (e *Engine) collectAmount(dealID, buyer string) {
	e.collectLoop(dealID, buyer, models.StatusAwaitingAmount, func(ctx context.Context, text string) error {
		return e.SubmitAmount(ctx, dealID, buyer, text)
	})
}

func (e *Engine) collectPayoutAddress(dealID, seller string) {
	e.collectLoop(dealID, seller, models.StatusAwaitingPayoutAddress, func(ctx context.Context, text string) error {
		return e.SubmitPayoutAddress(ctx, dealID, seller, text)
	})
}

func (e *Engine) collectRefundAddress(dealID, buyer string) {
	e.collectLoop(dealID, buyer, models.StatusRefundPending, func(ctx context.Context, text string) error {
		return e.SubmitRefundAddress(ctx, dealID, buyer, text)
	})
}

func (e *Engine) collectLoop(dealID, actor, wantStatus string, submit func(context.Context, string) error) {
	if d, err := e.Deal(dealID); err == nil {
		other := d.Initiator
		if actor == d.Initiator {
			other = d.Counterparty
		}
		_ = e.surface.Restrict(e.baseCtx, dealID, other)
		defer func() { _ = e.surface.Unrestrict(e.baseCtx, dealID, other) }()
	}

	retries := 0
	for {
		d, err := e.Deal(dealID)
		if err != nil || d.Status != wantStatus {
			return
		}

		text, err := e.surface.AwaitMessage(e.baseCtx, dealID, actor, e.cfg.AwaitMessageWindow)
		if errors.Is(err, messaging.ErrAwaitTimeout) {
			continue
		}
		if err != nil {
			if e.baseCtx.Err() == nil {
				e.log.Warn("message read failed",
					zap.String("deal_id", dealID), zap.Error(err))
			}
			return
		}

		err = submit(e.baseCtx, text)
		var bad *InputError
		switch {
		case err == nil:
			return
		case errors.As(err, &bad):
			retries++
			if e.cfg.MaxPromptRetries > 0 && retries >= e.cfg.MaxPromptRetries {
				e.escalatePromptFailure(dealID)
				return
			}
			_ = e.surface.SendTo(e.baseCtx, dealID, actor, bad.Reason)
		case errors.Is(err, ErrWrongState), errors.Is(err, ErrDealNotFound):
			return
		default:
			// Transient failure behind a valid input (rail hiccup on a
			// refund quote). The action already messaged the actor; let
			// them send the input again.
			retries++
			if e.cfg.MaxPromptRetries > 0 && retries >= e.cfg.MaxPromptRetries {
				e.escalatePromptFailure(dealID)
				return
			}
		}
	}
}

// escalatePromptFailure hands a deal to support when an actor burned
// through the configured retry budget.
func (e *Engine) escalatePromptFailure(dealID string) {
	_ = e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if models.IsTerminal(d.Status) {
			return nil
		}
		if err := e.transition(d, models.StatusSupportEscalated); err != nil {
			return nil
		}
		en.stopTimers()
		_ = e.surface.Send(e.baseCtx, d.ID,
			"Too many failed attempts. Support has been notified; the channel stays open.")
		e.notifySupport(d, "prompt retry budget exhausted")
		return nil
	})
}
