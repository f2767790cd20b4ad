package coins

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnsupportedAsset = errors.New("unsupported asset")

// Coin describes one supported asset. The table is static; there is no
// runtime registration.
type Coin struct {
	Symbol                string
	DisplaySymbol         string
	QuoteID               string // price-feed identifier
	Network               string // settlement network passed to the rail
	MinDealUSD            decimal.Decimal
	RequiredConfirmations int
	Stable                bool
}

var registry = map[string]Coin{
	"BTC": {
		Symbol:                "BTC",
		DisplaySymbol:         "Bitcoin (BTC)",
		QuoteID:               "bitcoin",
		Network:               "BTC",
		MinDealUSD:            decimal.NewFromInt(10),
		RequiredConfirmations: 2,
	},
	"ETH": {
		Symbol:                "ETH",
		DisplaySymbol:         "Ethereum (ETH)",
		QuoteID:               "ethereum",
		Network:               "ETH",
		MinDealUSD:            decimal.NewFromInt(5),
		RequiredConfirmations: 12,
	},
	"LTC": {
		Symbol:                "LTC",
		DisplaySymbol:         "Litecoin (LTC)",
		QuoteID:               "litecoin",
		Network:               "LTC",
		MinDealUSD:            decimal.NewFromInt(1),
		RequiredConfirmations: 6,
	},
	"SOL": {
		Symbol:                "SOL",
		DisplaySymbol:         "Solana (SOL)",
		QuoteID:               "solana",
		Network:               "SOL",
		MinDealUSD:            decimal.NewFromInt(1),
		RequiredConfirmations: 1,
	},
	"USDT": {
		Symbol:                "USDT",
		DisplaySymbol:         "USDT (Tether)",
		QuoteID:               "tether",
		Network:               "ETH", // ERC-20
		MinDealUSD:            decimal.NewFromInt(1),
		RequiredConfirmations: 12,
		Stable:                true,
	},
	"USDC": {
		Symbol:                "USDC",
		DisplaySymbol:         "USDC (USD Coin)",
		QuoteID:               "usd-coin",
		Network:               "ETH", // ERC-20
		MinDealUSD:            decimal.NewFromInt(1),
		RequiredConfirmations: 12,
		Stable:                true,
	},
}

// Lookup returns the registry entry for a symbol (case-insensitive).
func Lookup(symbol string) (Coin, error) {
	c, ok := registry[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Coin{}, fmt.Errorf("%w: %s", ErrUnsupportedAsset, symbol)
	}
	return c, nil
}

// Symbols returns the supported symbols in a stable order.
func Symbols() []string {
	return []string{"BTC", "ETH", "LTC", "SOL", "USDT", "USDC"}
}
