package ledger

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestInventory_ParAssetKeepsUnitCost(t *testing.T) {
	inv := NewInventory("KRW")
	inv.Credit("KRW", d(500))
	inv.Acquire("KRW", d(100), d(999))

	p := inv.Position("KRW")
	if !p.AvgCost.Equal(decimal.NewFromInt(1)) {
		t.Errorf("cash average should be 1, got %s", p.AvgCost)
	}
	if !p.Quantity.Equal(d(600)) {
		t.Errorf("expected 600, got %s", p.Quantity)
	}
}

func TestInventory_ZeroReceivedKeepsStaleAverage(t *testing.T) {
	inv := NewInventory("KRW")
	inv.Acquire("BTC", d(1), d(100))
	if _, err := inv.Debit("BTC", d(1)); err != nil {
		t.Fatal(err)
	}
	// Acquiring nothing into an empty position must not divide by zero.
	inv.Acquire("BTC", decimal.Zero, d(50))

	p := inv.Position("BTC")
	if !p.Quantity.IsZero() {
		t.Errorf("expected zero quantity, got %s", p.Quantity)
	}
	if !p.AvgCost.Equal(d(100)) {
		t.Errorf("expected stale average 100, got %s", p.AvgCost)
	}
}

func TestInventory_DebitWithinEpsilonSnapsToZero(t *testing.T) {
	inv := NewInventory("KRW")
	inv.Acquire("BTC", d(1), d(100))

	if _, err := inv.Debit("BTC", d(1.000000001)); err != nil {
		t.Fatalf("debit inside epsilon should succeed: %v", err)
	}
	if q := inv.Position("BTC").Quantity; !q.IsZero() {
		t.Errorf("expected exact zero, got %s", q)
	}
}

func TestInventory_DebitBeyondBalance(t *testing.T) {
	inv := NewInventory("KRW")
	inv.Acquire("BTC", d(1), d(100))

	_, err := inv.Debit("BTC", d(1.01))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if q := inv.Position("BTC").Quantity; !q.Equal(d(1)) {
		t.Errorf("failed debit must not mutate, got %s", q)
	}
}

func TestLocations_BalancesSortedAndFiltered(t *testing.T) {
	l := NewLocations()
	l.Adjust("BTC", "cold", d(1))
	l.Adjust("BTC", "", d(2))
	l.Adjust("ETH", "hot", d(0.000000001))
	l.Adjust("ADA", "hot", d(3))

	got := l.Balances()
	if len(got) != 3 {
		t.Fatalf("expected 3 balances, got %d: %v", len(got), got)
	}
	want := [][2]string{{"ADA", "hot"}, {"BTC", "cold"}, {"BTC", DefaultLocation}}
	for i, w := range want {
		if got[i].Asset != w[0] || got[i].Location != w[1] {
			t.Errorf("position %d: got %s@%s, want %s@%s", i, got[i].Asset, got[i].Location, w[0], w[1])
		}
	}
}
