package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

type locationKey struct {
	asset    string
	location string
}

// Balance is one (asset, location) custody balance.
type Balance struct {
	Asset    string
	Location string
	Amount   decimal.Decimal
}

// Locations tracks per-asset, per-location balances. It carries no cost
// information and is never validated against going negative.
type Locations struct {
	balances map[locationKey]decimal.Decimal
}

// NewLocations creates an empty location sub-ledger.
func NewLocations() *Locations {
	return &Locations{balances: make(map[locationKey]decimal.Decimal)}
}

// Adjust adds delta (signed) to the asset's balance at location.
func (l *Locations) Adjust(asset, location string, delta decimal.Decimal) {
	k := locationKey{asset: asset, location: orDefault(location)}
	l.balances[k] = l.balances[k].Add(delta)
}

// Move shifts qty of asset between two locations.
func (l *Locations) Move(asset, from, to string, qty decimal.Decimal) {
	l.Adjust(asset, from, qty.Neg())
	l.Adjust(asset, to, qty)
}

// Total sums an asset's balance across all locations.
func (l *Locations) Total(asset string) decimal.Decimal {
	total := decimal.Zero
	for k, v := range l.balances {
		if k.asset == asset {
			total = total.Add(v)
		}
	}
	return total
}

// Balances returns the non-negligible balances sorted by asset then location.
func (l *Locations) Balances() []Balance {
	out := make([]Balance, 0, len(l.balances))
	for k, v := range l.balances {
		if v.Abs().LessThan(Epsilon) {
			continue
		}
		out = append(out, Balance{Asset: k.asset, Location: k.location, Amount: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Location < out[j].Location
	})
	return out
}

func orDefault(location string) string {
	if location == "" {
		return DefaultLocation
	}
	return location
}
