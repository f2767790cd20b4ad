package address

import (
	"errors"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		addr   string
		symbol string
		ok     bool
	}{
		{"btc legacy", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", "BTC", true},
		{"btc p2sh", "3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", "BTC", true},
		{"btc bech32", "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", "BTC", true},
		{"btc wrong prefix", "2BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", "BTC", false},
		{"btc eth address", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1", "BTC", false},

		{"eth ok", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1", "ETH", true},
		{"eth short", "0x742d35Cc6634C0532925a3b844Bc9e7595f0b", "ETH", false},
		{"eth no prefix", "742d35Cc6634C0532925a3b844Bc9e7595f0bEb100", "ETH", false},
		{"usdt uses eth format", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1", "USDT", true},
		{"usdc uses eth format", "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb1", "USDC", true},
		{"usdt btc address rejected", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", "USDT", false},

		{"ltc legacy", "LhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr", "LTC", true},
		{"ltc p2sh", "MJRSgZ3UUFcTBTBAaN38XAXvZLwRe8WVw7", "LTC", true},
		{"ltc wrong prefix", "KhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr", "LTC", false},

		{"sol ok", "7EqQdEUwY3dZVNsVLqRz4CkVDFGmxb1CLRkTqxrmgzLC", "SOL", true},
		{"sol zero char", "0EqQdEUwY3dZVNsVLqRz4CkVDFGmxb1CLRkTqxrmgzLC", "SOL", false},

		{"empty", "", "BTC", false},
		{"whitespace", "bc1qxy2kgdygjrsqtzq2n0 yrf2493p83kkfjhx0wlh", "BTC", false},
		{"too short", "1BvBMSEYstWetqTF", "BTC", false},
		{"unknown coin", "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", "DOGE", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.addr, tt.symbol)
			if tt.ok && err != nil {
				t.Errorf("Validate(%q, %s) = %v, want nil", tt.addr, tt.symbol, err)
			}
			if !tt.ok {
				if err == nil {
					t.Fatalf("Validate(%q, %s) = nil, want error", tt.addr, tt.symbol)
				}
				var ve *ValidationError
				if !errors.As(err, &ve) || ve.Reason == "" {
					t.Errorf("error should be a *ValidationError with a reason, got %v", err)
				}
			}
		})
	}
}

func TestExamplesValidate(t *testing.T) {
	for _, s := range []string{"BTC", "ETH", "LTC", "SOL", "USDT", "USDC"} {
		if err := Validate(Example(s), s); err != nil {
			t.Errorf("example address for %s does not validate: %v", s, err)
		}
		if Hint(s) == "" {
			t.Errorf("missing hint for %s", s)
		}
	}
}
