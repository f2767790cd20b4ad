package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestFileRecorderAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transactions.log")
	r := NewFileRecorder(path, zap.NewNop())
	ctx := context.Background()

	r.Record(ctx, Entry{Type: TypeDealCreated, DealID: "ch-1", Coin: "LTC"})
	r.Record(ctx, Entry{
		Type:         TypePayoutSubmitted,
		DealID:       "ch-1",
		Coin:         "LTC",
		AmountUSD:    decimal.NewFromFloat(39.5),
		AmountCrypto: decimal.NewFromFloat(0.49),
		TxRef:        "w-123",
	})

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		entries = append(entries, e)
	}

	if len(entries) != 2 {
		t.Fatalf("lines = %d, want 2", len(entries))
	}
	if entries[0].Type != TypeDealCreated || entries[1].TxRef != "w-123" {
		t.Errorf("unexpected entries: %+v", entries)
	}
	if entries[0].Timestamp.IsZero() {
		t.Error("timestamp not defaulted")
	}
}

func TestFileRecorderSwallowsFailures(t *testing.T) {
	// Directory path: every open fails. Must not panic or block.
	r := NewFileRecorder(t.TempDir(), zap.NewNop())
	r.Record(context.Background(), Entry{Type: TypeDealCreated, DealID: "ch-1"})
}
