package models

import (
	"errors"
	"time"

	"github.com/escrow-desk/backend/internal/fees"
	"github.com/shopspring/decimal"
)

// Deal statuses
const (
	StatusAwaitingRoleSelection  = "awaiting_role_selection"
	StatusAwaitingAmount         = "awaiting_amount"
	StatusAwaitingSellerApproval = "awaiting_seller_approval"
	StatusAwaitingFeeAgreement   = "awaiting_fee_agreement"
	StatusAwaitingDeposit        = "awaiting_deposit"
	StatusAwaitingDelivery       = "awaiting_delivery"
	StatusAwaitingReceipt        = "awaiting_receipt_confirmation"
	StatusAwaitingPayoutAddress  = "awaiting_payout_address"
	StatusAwaitingPayoutConfirm  = "awaiting_payout_confirmation"
	StatusCompleted              = "completed"
	StatusDisputed               = "disputed"
	StatusRefundPending          = "refund_pending"
	StatusRefunded               = "refunded"
	StatusTimedOut               = "timed_out"
	StatusSupportEscalated       = "support_escalated"
)

// Valid state transitions: from -> []to
var ValidDealTransitions = map[string][]string{
	StatusAwaitingRoleSelection: {StatusAwaitingAmount, StatusTimedOut},
	StatusAwaitingAmount:        {StatusAwaitingSellerApproval, StatusTimedOut, StatusSupportEscalated},
	StatusAwaitingSellerApproval: {
		StatusAwaitingAmount, // seller rejected, amount re-collected
		StatusAwaitingFeeAgreement,
		StatusAwaitingDeposit, // zero-fee skip
		StatusTimedOut,
	},
	StatusAwaitingFeeAgreement: {StatusAwaitingDeposit, StatusTimedOut},
	StatusAwaitingDeposit:      {StatusAwaitingDelivery, StatusRefundPending, StatusTimedOut},
	StatusAwaitingDelivery:     {StatusAwaitingReceipt, StatusRefundPending},
	StatusAwaitingReceipt:      {StatusAwaitingPayoutAddress, StatusDisputed, StatusRefundPending},
	StatusDisputed:             {StatusRefundPending, StatusAwaitingPayoutAddress, StatusSupportEscalated},
	StatusAwaitingPayoutAddress: {StatusAwaitingPayoutConfirm, StatusRefundPending, StatusSupportEscalated},
	StatusAwaitingPayoutConfirm: {
		StatusCompleted,
		StatusAwaitingPayoutAddress, // confirm step cancelled
		StatusSupportEscalated,
		StatusRefundPending,
	},
	StatusRefundPending:    {StatusRefunded, StatusSupportEscalated},
	StatusCompleted:        {},
	StatusRefunded:         {},
	StatusTimedOut:         {},
	StatusSupportEscalated: {},
}

func IsValidTransition(from, to string) bool {
	allowed, ok := ValidDealTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave the status.
// support_escalated is terminal for the engine: only an operator
// resolves it, outside the state machine.
func IsTerminal(status string) bool {
	allowed, ok := ValidDealTransitions[status]
	return ok && len(allowed) == 0
}

// Actor roles
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
)

var ErrTxRefAlreadySet = errors.New("transaction reference already set")

// Deal is the mutable record for one negotiation channel. The engine is
// its single writer; handlers and timers reach it only through engine
// methods that hold the per-deal lock.
type Deal struct {
	ID           string // channel identifier, unique key
	Initiator    string
	Counterparty string
	Coin         string

	Buyer  string // empty until claimed
	Seller string

	AmountUSD         decimal.Decimal
	FeeUSD            decimal.Decimal
	FeeComputed       bool // fee is computed exactly once
	FeePayer          fees.Payer
	BuyerPaysUSD      decimal.Decimal
	SellerReceivesUSD decimal.Decimal

	BuyerPaysCrypto      decimal.Decimal
	SellerReceivesCrypto decimal.Decimal
	DepositAddress       string
	DepositNetwork       string
	DepositQuotedAt      time.Time

	SellerPayoutAddress string
	BuyerRefundAddress  string

	Status string

	FeeBallot     Ballot
	PrivacyBallot Ballot
	CloseBallot   Ballot

	// DepositGuard covers deposit generation (ballot finalize and the
	// zero-fee path); PayoutGuard covers the single withdrawal, payout
	// or refund. DetectGuard makes the deposit-seen notice idempotent.
	DepositGuard Guard
	PayoutGuard  Guard
	DetectGuard  Guard

	CreatedAt        time.Time
	LastActivityAt   time.Time
	PaymentStartedAt time.Time // zero until deposit generation

	depositTxRef string
	payoutTxRef  string
}

// PaymentStarted reports whether deposit generation has happened, which
// suspends inactivity expiry and the no-refund timeout path.
func (d *Deal) PaymentStarted() bool { return !d.PaymentStartedAt.IsZero() }

// DepositTxRef returns the inbound transaction reference, empty until a
// deposit is confirmed.
func (d *Deal) DepositTxRef() string { return d.depositTxRef }

// PayoutTxRef returns the outbound transaction reference, empty until
// the payout (or refund) withdrawal is submitted.
func (d *Deal) PayoutTxRef() string { return d.payoutTxRef }

// SetDepositTx records the inbound transaction reference. Set once;
// a second call fails and leaves the first value in place.
func (d *Deal) SetDepositTx(ref string) error {
	if d.depositTxRef != "" {
		return ErrTxRefAlreadySet
	}
	d.depositTxRef = ref
	return nil
}

// SetPayoutTx records the outbound transaction reference. At-most-one
// payout per deal is the critical safety invariant; once set the field
// is immutable.
func (d *Deal) SetPayoutTx(ref string) error {
	if d.payoutTxRef != "" {
		return ErrTxRefAlreadySet
	}
	d.payoutTxRef = ref
	return nil
}

// RoleOf returns the role held by the actor, or "".
func (d *Deal) RoleOf(actor string) string {
	switch actor {
	case "":
		return ""
	case d.Buyer:
		return RoleBuyer
	case d.Seller:
		return RoleSeller
	}
	return ""
}

// Participant reports whether the actor is one of the two parties.
func (d *Deal) Participant(actor string) bool {
	return actor != "" && (actor == d.Initiator || actor == d.Counterparty)
}

// OtherParty returns the counterpart of the given actor.
func (d *Deal) OtherParty(actor string) string {
	if actor == d.Initiator {
		return d.Counterparty
	}
	return d.Initiator
}

// RolesComplete reports whether both roles are held.
func (d *Deal) RolesComplete() bool { return d.Buyer != "" && d.Seller != "" }

// Summary is the completed-deal record handed to the stats sink and the
// audit trail.
type Summary struct {
	DealID               string
	Buyer                string
	Seller               string
	Coin                 string
	AmountUSD            decimal.Decimal
	FeeUSD               decimal.Decimal
	BuyerPaysUSD         decimal.Decimal
	SellerReceivesUSD    decimal.Decimal
	BuyerPaysCrypto      decimal.Decimal
	SellerReceivesCrypto decimal.Decimal
	PayoutTxRef          string
	BuyerPublic          bool
	SellerPublic         bool
	CompletedAt          time.Time
}
