package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
	"github.com/atmx/fund-ledger/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedFund(t *testing.T, ms *store.MemoryStore, id string) {
	t.Helper()
	err := ms.CreateFund(context.Background(), &model.Fund{
		ID: id, Name: id, CashAsset: "KRW", IntermediateAsset: "USDT",
		YieldPolicy: model.YieldReduceAverage, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("failed to seed fund: %v", err)
	}
}

func TestMemoryStore_CommitUpsertsAndOrders(t *testing.T) {
	ms := store.NewMemoryStore()
	seedFund(t, ms, "f1")
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	err := ms.Commit(ctx, "f1", store.Commit{
		Upsert: []model.Transaction{
			{ID: "late", Seq: 1, Timestamp: ts.Add(time.Hour), Quantity: d(1)},
			{ID: "early", Seq: 2, Timestamp: ts, Quantity: d(2)},
		},
		Outcomes: []model.Outcome{
			{TransactionID: "late", RealizedPnL: decimal.NewNullDecimal(d(5))},
		},
		Holdings: []model.AssetHolding{{FundID: "f1", Asset: "KRW", Location: "bank", Amount: d(10), AvgPrice: d(1)}},
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}

	log, _ := ms.ListTransactions(ctx, "f1")
	if len(log) != 2 || log[0].ID != "early" || log[1].ID != "late" {
		t.Fatalf("unexpected log order: %+v", log)
	}
	if !log[1].RealizedPnL.Valid || !log[1].RealizedPnL.Decimal.Equal(d(5)) {
		t.Errorf("outcome not applied: %v", log[1].RealizedPnL)
	}

	// Edit in place and delete.
	err = ms.Commit(ctx, "f1", store.Commit{
		Upsert: []model.Transaction{{ID: "late", Seq: 1, Timestamp: ts.Add(time.Hour), Quantity: d(3)}},
		Delete: []string{"early"},
	})
	if err != nil {
		t.Fatalf("second commit failed: %v", err)
	}
	log, _ = ms.ListTransactions(ctx, "f1")
	if len(log) != 1 || !log[0].Quantity.Equal(d(3)) {
		t.Errorf("unexpected log after edit: %+v", log)
	}
	holdings, _ := ms.GetHoldings(ctx, "f1")
	if len(holdings) != 0 {
		t.Errorf("holdings should be replaced by empty set, got %v", holdings)
	}
}

func TestMemoryStore_CommitIsAllOrNothing(t *testing.T) {
	ms := store.NewMemoryStore()
	seedFund(t, ms, "f1")
	ctx := context.Background()

	err := ms.Commit(ctx, "f1", store.Commit{
		Upsert:   []model.Transaction{{ID: "a", Quantity: d(1)}},
		Outcomes: []model.Outcome{{TransactionID: "missing"}},
		Holdings: []model.AssetHolding{{Asset: "KRW"}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	log, _ := ms.ListTransactions(ctx, "f1")
	holdings, _ := ms.GetHoldings(ctx, "f1")
	if len(log) != 0 || len(holdings) != 0 {
		t.Errorf("failed commit leaked state: log=%v holdings=%v", log, holdings)
	}
}

func TestMemoryStore_UnknownFund(t *testing.T) {
	ms := store.NewMemoryStore()

	if _, err := ms.GetFund(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := ms.Commit(context.Background(), "nope", store.Commit{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_CreateFundConflict(t *testing.T) {
	ms := store.NewMemoryStore()
	seedFund(t, ms, "f1")

	err := ms.CreateFund(context.Background(), &model.Fund{ID: "f1", Name: "again", CashAsset: "KRW"})
	if !errors.Is(err, store.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestMemoryStore_TransactionIDsAreFundScoped(t *testing.T) {
	ctx := context.Background()
	ms := store.NewMemoryStore()
	seedFund(t, ms, "f1")
	seedFund(t, ms, "f2")

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	first := model.Transaction{ID: "tx-1", FundID: "f1", Seq: 1, Kind: model.KindContribution, Timestamp: day, Asset: "KRW", Quantity: d(1000)}
	if err := ms.Commit(ctx, "f1", store.Commit{Upsert: []model.Transaction{first}}); err != nil {
		t.Fatal(err)
	}
	second := first
	second.FundID, second.Quantity = "f2", d(5)
	if err := ms.Commit(ctx, "f2", store.Commit{Upsert: []model.Transaction{second}}); err != nil {
		t.Fatal(err)
	}

	got, err := ms.GetTransaction(ctx, "f1", "tx-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Quantity.Equal(d(1000)) || got.FundID != "f1" {
		t.Errorf("f1's transaction was overwritten by f2's commit: %+v", got)
	}
}
