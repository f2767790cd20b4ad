// Package audit appends payment-relevant events to an external trail.
// The trail is write-only from the engine's perspective; reconciliation
// reads it elsewhere. A failed write must never stall a deal, so every
// recorder swallows errors after a best-effort diagnostic.
package audit

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Entry types
const (
	TypeDealCreated      = "deal_created"
	TypeDepositGenerated = "deposit_generated"
	TypeDepositDetected  = "deposit_detected"
	TypeDepositConfirmed = "deposit_confirmed"
	TypePayoutSubmitted  = "payout_submitted"
	TypeRefundSubmitted  = "refund_submitted"
	TypeDealCompleted    = "deal_completed"
	TypeDealRefunded     = "deal_refunded"
	TypeDealTimedOut     = "deal_timed_out"
	TypePayoutFailed     = "payout_failed"
	TypeRefundFailed     = "refund_failed"
)

type Entry struct {
	Type         string          `json:"type"`
	Timestamp    time.Time       `json:"timestamp"`
	DealID       string          `json:"deal_id"`
	Coin         string          `json:"coin,omitempty"`
	AmountUSD    decimal.Decimal `json:"amount_usd,omitempty"`
	AmountCrypto decimal.Decimal `json:"amount_crypto,omitempty"`
	TxRef        string          `json:"tx_ref,omitempty"`
	Buyer        string          `json:"buyer,omitempty"`
	Seller       string          `json:"seller,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Recorder appends one entry. Implementations never return the write
// error to the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Multi fans an entry out to several recorders.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Entry) {
	for _, r := range m {
		r.Record(ctx, e)
	}
}

// Nop discards entries. Used in tests.
type Nop struct{}

func (Nop) Record(context.Context, Entry) {}
