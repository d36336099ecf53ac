package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
)

// Result is the full derived state of one replay.
type Result struct {
	// Outcomes holds one entry per transaction, in replay order.
	Outcomes []model.Outcome
	// Holdings is the replacement holdings set, sorted by asset and location.
	Holdings  []model.AssetHolding
	Inventory *Inventory
	Locations *Locations
}

// Outcome returns the outcome recorded for a transaction ID.
func (r *Result) Outcome(txID string) (model.Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.TransactionID == txID {
			return o, true
		}
	}
	return model.Outcome{}, false
}

// Order returns a copy of log sorted by timestamp, ties broken by Seq.
// Entries equal in both keep their input order.
func Order(log []model.Transaction) []model.Transaction {
	ordered := make([]model.Transaction, len(log))
	copy(ordered, log)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		return a.Seq < b.Seq
	})
	return ordered
}

// Replay rebuilds a fund's derived state from an empty ledger over the
// whole log. It has no side effects; callers persist the Result.
func Replay(fund model.Fund, log []model.Transaction) (*Result, error) {
	inv := NewInventory(fund.CashAsset)
	locs := NewLocations()
	ordered := Order(log)

	res := &Result{
		Outcomes:  make([]model.Outcome, 0, len(ordered)),
		Inventory: inv,
		Locations: locs,
	}

	for _, tx := range ordered {
		ev, err := Decode(fund, tx)
		if err != nil {
			return nil, err
		}
		out, err := apply(fund.YieldPolicy, inv, locs, ev)
		if err != nil {
			return nil, fmt.Errorf("%s %s at %s: %w", tx.Kind, tx.ID, tx.Timestamp.Format("2006-01-02T15:04:05Z07:00"), err)
		}
		out.TransactionID = tx.ID
		res.Outcomes = append(res.Outcomes, out)
	}

	for _, b := range locs.Balances() {
		res.Holdings = append(res.Holdings, model.AssetHolding{
			FundID:   fund.ID,
			Asset:    b.Asset,
			Location: b.Location,
			Amount:   b.Amount,
			AvgPrice: inv.Position(b.Asset).AvgCost,
		})
	}
	return res, nil
}

// apply runs the transition rule for one event.
func apply(policy model.YieldPolicy, inv *Inventory, locs *Locations, ev Event) (model.Outcome, error) {
	var out model.Outcome

	switch e := ev.(type) {
	case Contribution:
		credit := e.Amount.Sub(e.Fee)
		inv.Credit(e.Asset, credit)
		locs.Adjust(e.Asset, e.Location, credit)

	case Withdrawal:
		debit := e.Amount.Add(e.Fee)
		if _, err := inv.Debit(e.Asset, debit); err != nil {
			return out, err
		}
		locs.Adjust(e.Asset, e.Location, debit.Neg())

	case Buy:
		spent, received := e.Gross(), e.Quantity
		if e.Fee.IsPositive() {
			if e.FeeInQuote {
				spent = spent.Add(e.Fee)
			} else {
				received = received.Sub(e.Fee)
			}
		}
		if _, err := inv.Debit(e.Quote, spent); err != nil {
			return out, err
		}
		inv.Acquire(e.Asset, received, spent)
		locs.Adjust(e.Quote, e.From, spent.Neg())
		locs.Adjust(e.Asset, e.To, received)

	case Sell:
		proceeds, debited := e.Gross(), e.Quantity
		if e.Fee.IsPositive() {
			if e.FeeInQuote {
				proceeds = proceeds.Sub(e.Fee)
			} else {
				debited = debited.Add(e.Fee)
			}
		}
		costBasis, err := inv.Debit(e.Asset, debited)
		if err != nil {
			return out, err
		}
		inv.Credit(e.Quote, proceeds)
		locs.Adjust(e.Asset, e.From, debited.Neg())
		locs.Adjust(e.Quote, e.To, proceeds)
		out.CostBasis = decimal.NewNullDecimal(costBasis)
		out.RealizedPnL = decimal.NewNullDecimal(proceeds.Sub(debited.Mul(costBasis)))

	case Transfer:
		locs.Move(e.Asset, e.From, e.To, e.Quantity)

	case Yield:
		credited := e.Quantity.Sub(e.Fee)
		if policy == model.YieldKeepAverage {
			inv.Credit(e.Asset, credited)
		} else {
			inv.Acquire(e.Asset, credited, decimal.Zero)
		}
		locs.Adjust(e.Asset, e.Location, credited)

	case Settlement:
		out.RealizedPnL = decimal.NewNullDecimal(e.PnL)

	default:
		return out, fmt.Errorf("%w: unhandled event %T", ErrInvalidTransaction, ev)
	}
	return out, nil
}
