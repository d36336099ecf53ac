// Package ledger implements weighted-average inventory costing and the
// replay pass that rebuilds a fund's derived state from its transaction log.
//
// All monetary values use shopspring/decimal, never float64.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidTransaction is returned when a transaction lacks a field its
	// kind requires or carries an out-of-range value.
	ErrInvalidTransaction = errors.New("ledger: invalid transaction")

	// ErrInsufficientBalance is returned when a debit would drive an asset's
	// total quantity below zero.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")

	// Epsilon is the magnitude below which quantities are treated as zero.
	Epsilon = decimal.New(1, -8)
)

// DefaultLocation is used when a transaction leaves a location blank.
const DefaultLocation = "default"

// Position is the running state of one asset.
type Position struct {
	Quantity decimal.Decimal
	AvgCost  decimal.Decimal
}

// Inventory tracks quantity and weighted-average unit cost per asset.
// It is built fresh for every replay and never shared.
type Inventory struct {
	positions map[string]*Position
	par       string // asset whose unit cost is fixed at 1
}

// NewInventory creates an empty inventory. par names the cash asset.
func NewInventory(par string) *Inventory {
	return &Inventory{positions: make(map[string]*Position), par: par}
}

// Position returns a copy of the asset's running state.
func (inv *Inventory) Position(asset string) Position {
	return *inv.position(asset)
}

// Acquire adds qty units bought for spent (in the asset's funding currency)
// and recomputes the weighted average. When the resulting quantity is not
// positive the previous average is left in place.
func (inv *Inventory) Acquire(asset string, qty, spent decimal.Decimal) {
	p := inv.position(asset)
	if asset == inv.par {
		p.Quantity = snap(p.Quantity.Add(qty))
		return
	}
	newQty := snap(p.Quantity.Add(qty))
	if newQty.IsPositive() {
		p.AvgCost = p.Quantity.Mul(p.AvgCost).Add(spent).Div(newQty)
	}
	p.Quantity = newQty
}

// Credit raises quantity without touching the average.
func (inv *Inventory) Credit(asset string, qty decimal.Decimal) {
	p := inv.position(asset)
	p.Quantity = snap(p.Quantity.Add(qty))
}

// Debit lowers quantity and returns the average cost in effect before the
// debit. The average itself never changes on a debit.
func (inv *Inventory) Debit(asset string, qty decimal.Decimal) (decimal.Decimal, error) {
	p := inv.position(asset)
	newQty := snap(p.Quantity.Sub(qty))
	if newQty.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s holds %s, debit of %s",
			ErrInsufficientBalance, asset, p.Quantity, qty)
	}
	p.Quantity = newQty
	return p.AvgCost, nil
}

// Assets returns every asset seen, sorted.
func (inv *Inventory) Assets() []string {
	assets := make([]string, 0, len(inv.positions))
	for a := range inv.positions {
		assets = append(assets, a)
	}
	sort.Strings(assets)
	return assets
}

func (inv *Inventory) position(asset string) *Position {
	p, ok := inv.positions[asset]
	if !ok {
		p = &Position{}
		if asset == inv.par {
			p.AvgCost = decimal.NewFromInt(1)
		}
		inv.positions[asset] = p
	}
	return p
}

// snap returns zero for values inside ±Epsilon.
func snap(v decimal.Decimal) decimal.Decimal {
	if v.Abs().LessThan(Epsilon) {
		return decimal.Zero
	}
	return v
}
