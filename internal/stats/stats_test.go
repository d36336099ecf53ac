package stats_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
	"github.com/atmx/fund-ledger/internal/stats"
	"github.com/atmx/fund-ledger/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var fund = model.Fund{ID: "f1", CashAsset: "KRW", IntermediateAsset: "USDT"}

func realized(kind model.Kind, asset string, pnl float64) model.Transaction {
	return model.Transaction{
		Kind: kind, Asset: asset, Quantity: d(1),
		RealizedPnL: decimal.NewNullDecimal(d(pnl)),
	}
}

func settlement(asset string, pnl, fee float64) model.Transaction {
	tx := realized(model.KindSettlement, asset, pnl)
	tx.Fee = d(fee)
	return tx
}

func TestSummarize_Empty(t *testing.T) {
	s := stats.Summarize(nil, nil)

	if s.Count != 0 || s.Wins != 0 {
		t.Errorf("expected zero counts, got %+v", s)
	}
	if !s.WinRate.IsZero() || !s.AvgPerTrade.IsZero() || !s.Total.IsZero() {
		t.Errorf("expected zero aggregates, got %+v", s)
	}
	// Default filter includes settlements.
	if s.TotalFees == nil || !s.TotalFees.IsZero() {
		t.Errorf("expected zero total fees, got %v", s.TotalFees)
	}
}

func TestSummarize_WinsAndLosses(t *testing.T) {
	txs := []model.Transaction{
		realized(model.KindSellForCash, "BTC", 300),
		realized(model.KindSellForCash, "BTC", -100),
		realized(model.KindSellForIntermediate, "ETH", 50),
		{Kind: model.KindBuyWithCash, Asset: "BTC"},
		{Kind: model.KindSellForCash, Asset: "BTC"}, // not yet replayed
	}

	s := stats.Summarize(txs, stats.Filter{model.KindSellForCash, model.KindSellForIntermediate})

	if s.Count != 3 {
		t.Errorf("expected count 3, got %d", s.Count)
	}
	if s.Wins != 2 {
		t.Errorf("expected 2 wins, got %d", s.Wins)
	}
	if !s.Total.Equal(d(250)) {
		t.Errorf("expected total 250, got %s", s.Total)
	}
	if !s.WinRate.Equal(d(66.67)) {
		t.Errorf("expected win rate 66.67, got %s", s.WinRate)
	}
	if !s.AvgPerTrade.Equal(d(83.33333333)) {
		t.Errorf("expected avg 83.33333333, got %s", s.AvgPerTrade)
	}
	if s.TotalFees != nil || s.NetTotal != nil {
		t.Error("fees should be absent without settlements in the filter")
	}
}

func TestSummarize_ZeroPnLIsNotAWin(t *testing.T) {
	s := stats.Summarize([]model.Transaction{realized(model.KindSellForCash, "BTC", 0)}, nil)
	if s.Count != 1 || s.Wins != 0 {
		t.Errorf("expected 1 trade and 0 wins, got %+v", s)
	}
}

func TestSummarize_SettlementFees(t *testing.T) {
	txs := []model.Transaction{
		settlement("BTC-PERP", 500, 10),
		settlement("BTC-PERP", -200, 5),
		realized(model.KindSellForCash, "BTC", 100),
	}

	s := stats.Summarize(txs, stats.Filter{model.KindSettlement})

	if s.Count != 2 {
		t.Errorf("expected count 2, got %d", s.Count)
	}
	if !s.Total.Equal(d(300)) {
		t.Errorf("expected total 300, got %s", s.Total)
	}
	if s.TotalFees == nil || !s.TotalFees.Equal(d(15)) {
		t.Errorf("expected fees 15, got %v", s.TotalFees)
	}
	if s.NetTotal == nil || !s.NetTotal.Equal(d(285)) {
		t.Errorf("expected net 285, got %v", s.NetTotal)
	}
	if !s.WinRate.Equal(d(50)) {
		t.Errorf("expected win rate 50, got %s", s.WinRate)
	}
}

func TestByPair(t *testing.T) {
	txs := []model.Transaction{
		realized(model.KindSellForCash, "BTC", 100),
		realized(model.KindSellForCash, "BTC", -40),
		realized(model.KindSellForIntermediate, "BTC", 20),
		settlement("ETH-PERP", 7, 1),
	}

	pairs := stats.ByPair(fund, txs, nil)

	want := []string{"BTC/KRW", "BTC/USDT", "ETH-PERP"}
	if len(pairs) != len(want) {
		t.Fatalf("expected %d pairs, got %d", len(want), len(pairs))
	}
	for i, p := range pairs {
		if p.Pair != want[i] {
			t.Errorf("pair %d: expected %s, got %s", i, want[i], p.Pair)
		}
	}
	if pairs[0].Count != 2 || !pairs[0].Total.Equal(d(60)) {
		t.Errorf("BTC/KRW: unexpected summary %+v", pairs[0].Summary)
	}
}

func TestParseFilter(t *testing.T) {
	f, err := stats.ParseFilter("sell_for_cash, settlement")
	if err != nil {
		t.Fatal(err)
	}
	if len(f) != 2 || f[0] != model.KindSellForCash || f[1] != model.KindSettlement {
		t.Errorf("unexpected filter %v", f)
	}

	if f, err := stats.ParseFilter(""); err != nil || len(f) != 0 {
		t.Errorf("expected empty filter, got %v, %v", f, err)
	}
	if _, err := stats.ParseFilter("sell_for_cash,bogus"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestReader_Summarize(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	if err := ms.CreateFund(ctx, &fund); err != nil {
		t.Fatal(err)
	}
	tx := realized(model.KindSellForCash, "BTC", 42)
	tx.ID, tx.FundID, tx.Seq, tx.Timestamp = "s1", "f1", 1, time.Now()
	if err := ms.Commit(ctx, "f1", store.Commit{Upsert: []model.Transaction{tx}}); err != nil {
		t.Fatal(err)
	}

	r := stats.NewReader(ms)
	s, err := r.Summarize(ctx, "f1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Count != 1 || !s.Total.Equal(d(42)) {
		t.Errorf("unexpected summary %+v", s)
	}

	if _, err := r.Summarize(ctx, "missing", nil); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
