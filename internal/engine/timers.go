package engine

import (
	"fmt"
	"time"

	"github.com/escrow-desk/backend/internal/audit"
	"github.com/escrow-desk/backend/internal/models"
)

// armAbsolute starts the hard ceiling on the deal's lifetime. Caller
// holds the entry lock.
func (e *Engine) armAbsolute(en *entry, dealID string) {
	if en.absolute != nil {
		en.absolute.Stop()
	}
	en.absolute = time.AfterFunc(e.cfg.DealTimeout, func() {
		e.onDealTimeout(dealID)
	})
}

// armInactivity (re)starts the renewable idle window. Caller holds the
// entry lock.
func (e *Engine) armInactivity(en *entry, dealID string) {
	if en.inactivity != nil {
		en.inactivity.Stop()
	}
	en.inactivity = time.AfterFunc(e.cfg.InactivityTimeout, func() {
		e.onInactivity(dealID)
	})
}

// onDealTimeout resolves the absolute timer. Money decides the outcome:
// a sighted deposit turns the timeout into a refund, an open deposit
// window gets left alone, anything earlier is warned and torn down.
func (e *Engine) onDealTimeout(dealID string) {
	_ = e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if models.IsTerminal(d.Status) {
			return nil
		}
		if d.DetectGuard.Claimed() || d.DepositTxRef() != "" {
			return e.beginRefund(e.baseCtx, en, d,
				"The deal timed out after your payment arrived, so it resolves to a refund.")
		}
		if d.PaymentStarted() {
			// Deposit instructions are out; closing now could orphan an
			// in-flight transfer.
			return nil
		}
		e.warnAndTeardown(en, d, "This deal hit its time limit.")
		return nil
	})
}

// onInactivity fires when nobody has acted within the idle window. Only
// meaningful before payment starts.
func (e *Engine) onInactivity(dealID string) {
	_ = e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if models.IsTerminal(d.Status) || d.PaymentStarted() {
			return nil
		}
		e.warnAndTeardown(en, d, "This deal has gone quiet.")
		return nil
	})
}

// warnAndTeardown posts a final warning and schedules the actual
// teardown after the grace delay. Caller holds the entry lock.
func (e *Engine) warnAndTeardown(en *entry, d *models.Deal, reason string) {
	_ = e.surface.Send(e.baseCtx, d.ID, fmt.Sprintf(
		"%s The channel closes in %s unless a payment is already on its way.",
		reason, e.cfg.TeardownGrace))
	if en.teardown != nil {
		en.teardown.Stop()
	}
	dealID := d.ID
	en.teardown = time.AfterFunc(e.cfg.TeardownGrace, func() {
		e.teardownTimedOut(dealID)
	})
}

// teardownTimedOut finishes an expiry after the grace delay, unless
// something happened in the meantime.
func (e *Engine) teardownTimedOut(dealID string) {
	_ = e.withDeal(dealID, func(en *entry, d *models.Deal) error {
		if models.IsTerminal(d.Status) || d.PaymentStarted() {
			return nil
		}
		if err := e.transition(d, models.StatusTimedOut); err != nil {
			return nil
		}
		en.stopTimers()
		e.audit.Record(e.baseCtx, audit.Entry{
			Type:      audit.TypeDealTimedOut,
			Timestamp: e.now(),
			DealID:    d.ID,
			Coin:      d.Coin,
		})
		_ = e.surface.DeleteChannel(e.baseCtx, d.ID, 0)
		e.table.remove(d.ID)
		return nil
	})
}

// scheduleTeardown closes the channel and drops the deal from the
// table after the delay. Caller holds the entry lock; the deal is
// already terminal.
func (e *Engine) scheduleTeardown(en *entry, dealID string, delay time.Duration) {
	_ = e.surface.DeleteChannel(e.baseCtx, dealID, delay)
	if en.teardown != nil {
		en.teardown.Stop()
	}
	en.teardown = time.AfterFunc(delay, func() {
		e.table.remove(dealID)
	})
}
