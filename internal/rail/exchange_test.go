package rail

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/escrow-desk/backend/internal/coins"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *ExchangeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewExchangeClient(srv.URL, "test-key", "test-secret", map[string]string{"LTC": "LhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr"}, zap.NewNop())
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c
}

func TestQuote(t *testing.T) {
	ltc, _ := coins.Lookup("LTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "LTCUSDT" {
			t.Errorf("symbol = %q, want LTCUSDT", got)
		}
		w.Write([]byte(`{"symbol":"LTCUSDT","price":"80.00"}`))
	})

	q, err := c.Quote(context.Background(), ltc, decimal.NewFromInt(40))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !q.CryptoAmount.Equal(decimal.NewFromFloat(0.5)) {
		t.Errorf("crypto amount = %s, want 0.5", q.CryptoAmount)
	}
	if !q.Rate.Equal(decimal.NewFromInt(80)) {
		t.Errorf("rate = %s, want 80", q.Rate)
	}
}

func TestQuoteStableIsIdentity(t *testing.T) {
	usdt, _ := coins.Lookup("USDT")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("stable quote must not hit the exchange")
	})

	q, err := c.Quote(context.Background(), usdt, decimal.NewFromInt(25))
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if !q.CryptoAmount.Equal(decimal.NewFromInt(25)) || !q.Rate.Equal(decimal.NewFromInt(1)) {
		t.Errorf("stable quote = %s @ %s, want 25 @ 1", q.CryptoAmount, q.Rate)
	}
}

func TestQuoteBadPrice(t *testing.T) {
	btc, _ := coins.Lookup("BTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"symbol":"BTCUSDT","price":"0"}`))
	})

	_, err := c.Quote(context.Background(), btc, decimal.NewFromInt(100))
	if err == nil {
		t.Fatal("zero price must fail")
	}
	if _, ok := err.(*RailError); !ok {
		t.Errorf("error should be *RailError, got %T", err)
	}
}

func TestSignedRequestShape(t *testing.T) {
	btc, _ := coins.Lookup("BTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-MBX-APIKEY"); got != "test-key" {
			t.Errorf("api key header = %q", got)
		}
		q := r.URL.Query()
		if q.Get("signature") == "" {
			t.Error("missing signature")
		}
		if q.Get("timestamp") != "1700000000000" {
			t.Errorf("timestamp = %q", q.Get("timestamp"))
		}
		w.Write([]byte(`{"address":"bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh","tag":"","coin":"BTC"}`))
	})

	addr, err := c.IssueDepositAddress(context.Background(), btc)
	if err != nil {
		t.Fatalf("IssueDepositAddress: %v", err)
	}
	if addr.Address == "" || addr.Network != "BTC" {
		t.Errorf("unexpected address %+v", addr)
	}
}

func TestIssueDepositAddressFallback(t *testing.T) {
	ltc, _ := coins.Lookup("LTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1000,"msg":"down"}`, http.StatusInternalServerError)
	})

	addr, err := c.IssueDepositAddress(context.Background(), ltc)
	if err != nil {
		t.Fatalf("fallback should mask the failure: %v", err)
	}
	if addr.Address != "LhK2kQwiaAvhjWY799cZvMyYwnQAcxkarr" {
		t.Errorf("address = %q, want fallback", addr.Address)
	}
}

func TestIssueDepositAddressNoFallback(t *testing.T) {
	btc, _ := coins.Lookup("BTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-1000,"msg":"down"}`, http.StatusInternalServerError)
	})

	if _, err := c.IssueDepositAddress(context.Background(), btc); err == nil {
		t.Fatal("expected error without a fallback address")
	}
}

func TestPollDeposits(t *testing.T) {
	ltc, _ := coins.Lookup("LTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[
			{"amount":"0.50000042","txId":"tx-abc","status":1,"confirmTimes":"6/6","insertTime":1700000100000},
			{"amount":"0.1","txId":"tx-def","status":0,"confirmTimes":"1/6","insertTime":1700000200000},
			{"amount":"not-a-number","txId":"tx-bad","status":1,"confirmTimes":"6/6","insertTime":1700000300000}
		]`))
	})

	deposits, err := c.PollDeposits(context.Background(), ltc, time.UnixMilli(1700000000000))
	if err != nil {
		t.Fatalf("PollDeposits: %v", err)
	}
	if len(deposits) != 2 {
		t.Fatalf("len = %d, want 2 (bad amount dropped)", len(deposits))
	}
	first := deposits[0]
	if !first.Credited || first.Confirmations != 6 || first.TxRef != "tx-abc" {
		t.Errorf("unexpected deposit %+v", first)
	}
	if deposits[1].Credited || deposits[1].Confirmations != 1 {
		t.Errorf("unexpected deposit %+v", deposits[1])
	}
}

func TestWithdrawFatalOnFailure(t *testing.T) {
	btc, _ := coins.Lookup("BTC")
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":-4026,"msg":"insufficient balance"}`, http.StatusBadRequest)
	})

	_, err := c.Withdraw(context.Background(), btc, decimal.NewFromFloat(0.01), "bc1qxy2kgdygjrsqtzq2n0yrf2493p83kkfjhx0wlh", "BTC")
	if err == nil {
		t.Fatal("expected error")
	}
	re, ok := err.(*RailError)
	if !ok {
		t.Fatalf("error should be *RailError, got %T", err)
	}
	if !re.Fatal {
		t.Error("withdraw failures must be marked fatal")
	}
}

func TestParseConfirmations(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"6/6", 6},
		{"1/12", 1},
		{"", 0},
		{"12", 12},
		{"x/y", 0},
	}
	for _, tt := range tests {
		if got := parseConfirmations(tt.in); got != tt.want {
			t.Errorf("parseConfirmations(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
