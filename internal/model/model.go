// Package model defines the core domain types shared across the fund ledger.
// All monetary values use shopspring/decimal, never float64.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the closed set of transaction types the replay engine understands.
type Kind string

const (
	KindContribution        Kind = "contribution"
	KindWithdrawal          Kind = "withdrawal"
	KindBuyWithCash         Kind = "buy_with_cash"
	KindSellForCash         Kind = "sell_for_cash"
	KindBuyWithIntermediate Kind = "buy_with_intermediate"
	KindSellForIntermediate Kind = "sell_for_intermediate"
	KindTransfer            Kind = "transfer"
	KindYield               Kind = "yield"
	KindSettlement          Kind = "settlement"
)

// Kinds lists every valid Kind in a stable order.
var Kinds = []Kind{
	KindContribution,
	KindWithdrawal,
	KindBuyWithCash,
	KindSellForCash,
	KindBuyWithIntermediate,
	KindSellForIntermediate,
	KindTransfer,
	KindYield,
	KindSettlement,
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transaction kind: %q", s)
}

// Realizes reports whether transactions of this kind produce realized P&L.
func (k Kind) Realizes() bool {
	switch k {
	case KindSellForCash, KindSellForIntermediate, KindSettlement:
		return true
	}
	return false
}

// YieldPolicy governs how yield/interest accruals affect average cost.
type YieldPolicy string

const (
	// YieldReduceAverage treats an accrual as a zero-cost purchase.
	YieldReduceAverage YieldPolicy = "reduce_average"
	// YieldKeepAverage raises quantity and leaves the average untouched.
	YieldKeepAverage YieldPolicy = "keep_average"
)

// ParseYieldPolicy validates a policy string. Empty selects YieldReduceAverage.
func ParseYieldPolicy(s string) (YieldPolicy, error) {
	switch YieldPolicy(s) {
	case "", YieldReduceAverage:
		return YieldReduceAverage, nil
	case YieldKeepAverage:
		return YieldKeepAverage, nil
	default:
		return "", fmt.Errorf("unknown yield policy: %q", s)
	}
}

// Fund is the unit of replay. CashAsset has a fixed average cost of 1 and
// funds "with cash" trades; IntermediateAsset funds "with intermediate" trades.
type Fund struct {
	ID                string      `json:"id" db:"id"`
	Name              string      `json:"name" db:"name"`
	CashAsset         string      `json:"cash_asset" db:"cash_asset"`
	IntermediateAsset string      `json:"intermediate_asset" db:"intermediate_asset"`
	YieldPolicy       YieldPolicy `json:"yield_policy" db:"yield_policy"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// QuoteAsset returns the asset a trade of kind k is priced and settled in.
// Non-trade kinds return "".
func (f Fund) QuoteAsset(k Kind) string {
	switch k {
	case KindBuyWithCash, KindSellForCash:
		return f.CashAsset
	case KindBuyWithIntermediate, KindSellForIntermediate:
		return f.IntermediateAsset
	}
	return ""
}

// Transaction is one event in a fund's log. Only CostBasis and RealizedPnL
// are engine-owned; they are overwritten on every replay.
type Transaction struct {
	ID             string              `json:"id" db:"id"`
	FundID         string              `json:"fund_id" db:"fund_id"`
	Seq            int64               `json:"seq" db:"seq"` // insertion order, timestamp tie-breaker
	Kind           Kind                `json:"kind" db:"kind"`
	Timestamp      time.Time           `json:"timestamp" db:"timestamp"`
	Asset          string              `json:"asset" db:"asset"`
	Quantity       decimal.Decimal     `json:"quantity" db:"quantity"` // signed only for settlements
	UnitPrice      decimal.NullDecimal `json:"unit_price" db:"unit_price"`
	Fee            decimal.Decimal     `json:"fee" db:"fee"`
	FeeAsset       string              `json:"fee_asset,omitempty" db:"fee_asset"`
	SourceLocation string              `json:"source_location,omitempty" db:"source_location"`
	DestLocation   string              `json:"dest_location,omitempty" db:"dest_location"`
	Note           string              `json:"note,omitempty" db:"note"`
	CostBasis      decimal.NullDecimal `json:"cost_basis" db:"cost_basis"`
	RealizedPnL    decimal.NullDecimal `json:"realized_pnl" db:"realized_pnl"`
	CreatedAt      time.Time           `json:"created_at" db:"created_at"`
}

// Outcome is the replay output for one transaction.
type Outcome struct {
	TransactionID string              `json:"transaction_id"`
	CostBasis     decimal.NullDecimal `json:"cost_basis"`
	RealizedPnL   decimal.NullDecimal `json:"realized_pnl"`
}

// AssetHolding is a derived custody row. The whole set for a fund is
// replaced on every replay.
type AssetHolding struct {
	FundID   string          `json:"fund_id" db:"fund_id"`
	Asset    string          `json:"asset" db:"asset"`
	Location string          `json:"location" db:"location"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
	AvgPrice decimal.Decimal `json:"avg_price" db:"avg_price"` // identical across locations of one asset
}
