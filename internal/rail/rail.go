// Package rail abstracts the custodial exchange the escrow account
// lives on: price quotes, deposit address issuance, deposit visibility
// and withdrawals. Each call either fully succeeds or fully fails.
package rail

import (
	"context"
	"fmt"
	"time"

	"github.com/escrow-desk/backend/internal/coins"
	"github.com/shopspring/decimal"
)

type Quote struct {
	CryptoAmount decimal.Decimal
	Rate         decimal.Decimal // USD per unit
}

type DepositAddress struct {
	Address string
	Tag     string
	Network string
}

type Deposit struct {
	Amount        decimal.Decimal
	TxRef         string
	Confirmations int
	Credited      bool // the rail has credited the funds
	ReceivedAt    time.Time
}

type Withdrawal struct {
	TxRef string
}

type Balance struct {
	Free   decimal.Decimal
	Locked decimal.Decimal
}

// Rail is the capability the engine is injected with.
type Rail interface {
	// Quote converts a USD amount into a crypto amount at the current rate.
	Quote(ctx context.Context, coin coins.Coin, usdAmount decimal.Decimal) (Quote, error)
	// IssueDepositAddress returns the custodial deposit address for the coin.
	IssueDepositAddress(ctx context.Context, coin coins.Coin) (DepositAddress, error)
	// PollDeposits lists inbound deposits for the coin since the given time.
	PollDeposits(ctx context.Context, coin coins.Coin, since time.Time) ([]Deposit, error)
	// Withdraw submits an on-chain transfer out of the custodial account.
	Withdraw(ctx context.Context, coin coins.Coin, amount decimal.Decimal, destination, network string) (Withdrawal, error)
	// Balance returns the custodial balance for the coin.
	Balance(ctx context.Context, coin coins.Coin) (Balance, error)
}

// RailError wraps any failure talking to the rail. Fatal marks failures
// after which automatic retry is unsafe (the final payout path).
type RailError struct {
	Op    string
	Fatal bool
	Err   error
}

func (e *RailError) Error() string {
	return fmt.Sprintf("rail %s: %v", e.Op, e.Err)
}

func (e *RailError) Unwrap() error { return e.Err }
