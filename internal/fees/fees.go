// Package fees computes the service fee and how it is shared between
// the two parties. The fee is computed exactly once per deal, at the
// moment the seller approves the amount.
package fees

import (
	"github.com/escrow-desk/backend/internal/coins"
	"github.com/shopspring/decimal"
)

// Payer is the outcome of the fee-payer ballot.
type Payer string

const (
	PayerBuyer  Payer = "buyer_pays"
	PayerSeller Payer = "seller_pays"
	PayerSplit  Payer = "split"
)

func IsValidPayer(p string) bool {
	switch Payer(p) {
	case PayerBuyer, PayerSeller, PayerSplit:
		return true
	}
	return false
}

var (
	tier30  = decimal.NewFromInt(30)
	tier50  = decimal.NewFromInt(50)
	tier300 = decimal.NewFromInt(300)

	feeOne       = decimal.NewFromInt(1)
	feeTwo       = decimal.NewFromInt(2)
	percentRate  = decimal.NewFromFloat(0.01)
	stableExtra  = decimal.NewFromInt(1)
	two          = decimal.NewFromInt(2)
)

// ServiceFee applies the tiered schedule to a USD amount:
// under $30 free, under $50 $1, under $300 $2, otherwise 1% of the
// amount. Stablecoin transfers carry a flat $1 surcharge regardless of
// tier, covering the network fee the rail charges on ERC-20 sends.
func ServiceFee(amountUSD decimal.Decimal, coin coins.Coin) decimal.Decimal {
	var fee decimal.Decimal
	switch {
	case amountUSD.LessThan(tier30):
		fee = decimal.Zero
	case amountUSD.LessThan(tier50):
		fee = feeOne
	case amountUSD.LessThan(tier300):
		fee = feeTwo
	default:
		fee = amountUSD.Mul(percentRate)
	}

	if coin.Stable {
		fee = fee.Add(stableExtra)
	}
	return fee
}

// Split derives what the buyer deposits and what the seller is paid
// out, given who absorbs the fee. The invariant for every payer choice
// is buyerPays - sellerReceives == fee.
func Split(amountUSD, feeUSD decimal.Decimal, payer Payer) (buyerPays, sellerReceives decimal.Decimal) {
	switch payer {
	case PayerBuyer:
		return amountUSD.Add(feeUSD), amountUSD
	case PayerSeller:
		return amountUSD, amountUSD.Sub(feeUSD)
	default: // split
		half := feeUSD.Div(two)
		return amountUSD.Add(half), amountUSD.Sub(half)
	}
}
