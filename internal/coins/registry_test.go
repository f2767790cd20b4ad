package coins

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		symbol  string
		wantErr bool
		network string
		stable  bool
	}{
		{"BTC", false, "BTC", false},
		{"btc", false, "BTC", false},
		{" ltc ", false, "LTC", false},
		{"ETH", false, "ETH", false},
		{"SOL", false, "SOL", false},
		{"USDT", false, "ETH", true},
		{"USDC", false, "ETH", true},
		{"DOGE", true, "", false},
		{"", true, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			c, err := Lookup(tt.symbol)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedAsset) {
					t.Fatalf("Lookup(%q) err = %v, want ErrUnsupportedAsset", tt.symbol, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup(%q) unexpected error: %v", tt.symbol, err)
			}
			if c.Network != tt.network {
				t.Errorf("network = %q, want %q", c.Network, tt.network)
			}
			if c.Stable != tt.stable {
				t.Errorf("stable = %v, want %v", c.Stable, tt.stable)
			}
		})
	}
}

func TestMinimums(t *testing.T) {
	ltc, _ := Lookup("LTC")
	if !ltc.MinDealUSD.Equal(decimal.NewFromInt(1)) {
		t.Errorf("LTC minimum = %s, want 1", ltc.MinDealUSD)
	}

	btc, _ := Lookup("BTC")
	if btc.MinDealUSD.GreaterThan(decimal.NewFromInt(25)) {
		t.Errorf("BTC minimum %s would block small deals", btc.MinDealUSD)
	}
}

func TestSymbolsAllResolve(t *testing.T) {
	for _, s := range Symbols() {
		c, err := Lookup(s)
		if err != nil {
			t.Fatalf("Symbols() entry %q does not resolve: %v", s, err)
		}
		if c.RequiredConfirmations <= 0 {
			t.Errorf("%s: required confirmations must be positive", s)
		}
		if c.QuoteID == "" || c.DisplaySymbol == "" {
			t.Errorf("%s: incomplete registry entry", s)
		}
	}
}
