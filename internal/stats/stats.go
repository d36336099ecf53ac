// Package stats summarizes realized P&L that replay has already written to
// the transaction log. It never mutates anything and knows nothing about how
// the numbers were produced.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
	"github.com/atmx/fund-ledger/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Filter selects transaction kinds. An empty Filter means every kind that
// realizes P&L.
type Filter []model.Kind

// ParseFilter parses a comma-separated kind list. Blank input yields an
// empty Filter.
func ParseFilter(s string) (Filter, error) {
	var f Filter
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := model.ParseKind(part)
		if err != nil {
			return nil, err
		}
		f = append(f, k)
	}
	return f, nil
}

func (f Filter) match(k model.Kind) bool {
	if len(f) == 0 {
		return k.Realizes()
	}
	for _, fk := range f {
		if fk == k {
			return true
		}
	}
	return false
}

func (f Filter) includesSettlement() bool {
	return f.match(model.KindSettlement)
}

// Summary aggregates realized P&L over a set of trades. TotalFees and
// NetTotal are only present when settlements are in scope.
type Summary struct {
	Total       decimal.Decimal  `json:"total"`
	Count       int              `json:"count"`
	Wins        int              `json:"wins"`
	WinRate     decimal.Decimal  `json:"win_rate"` // percent, 2dp
	AvgPerTrade decimal.Decimal  `json:"avg_per_trade"`
	TotalFees   *decimal.Decimal `json:"total_fees,omitempty"`
	NetTotal    *decimal.Decimal `json:"net_total,omitempty"`
}

// PairSummary is a Summary for one asset pair.
type PairSummary struct {
	Pair string `json:"pair"`
	Summary
}

// Summarize aggregates every transaction matching filter whose realized
// P&L is set. An empty set yields zeroes.
func Summarize(txs []model.Transaction, filter Filter) Summary {
	var (
		s    Summary
		fees = decimal.Zero
	)
	for _, tx := range txs {
		if !filter.match(tx.Kind) || !tx.RealizedPnL.Valid {
			continue
		}
		pnl := tx.RealizedPnL.Decimal
		s.Total = s.Total.Add(pnl)
		s.Count++
		if pnl.IsPositive() {
			s.Wins++
		}
		if tx.Kind == model.KindSettlement {
			fees = fees.Add(tx.Fee)
		}
	}

	if s.Count > 0 {
		n := decimal.NewFromInt(int64(s.Count))
		s.WinRate = decimal.NewFromInt(int64(s.Wins)).Mul(hundred).Div(n).Round(2)
		s.AvgPerTrade = s.Total.Div(n).Round(8)
	}
	if filter.includesSettlement() {
		net := s.Total.Sub(fees)
		s.TotalFees = &fees
		s.NetTotal = &net
	}
	return s
}

// ByPair splits realized trades by "asset/quote", with settlements keyed by
// their asset label alone. Pairs are sorted by name.
func ByPair(fund model.Fund, txs []model.Transaction, filter Filter) []PairSummary {
	groups := make(map[string][]model.Transaction)
	for _, tx := range txs {
		if !filter.match(tx.Kind) || !tx.RealizedPnL.Valid {
			continue
		}
		pair := tx.Asset
		if quote := fund.QuoteAsset(tx.Kind); quote != "" {
			pair = fmt.Sprintf("%s/%s", tx.Asset, quote)
		}
		groups[pair] = append(groups[pair], tx)
	}

	out := make([]PairSummary, 0, len(groups))
	for pair, group := range groups {
		out = append(out, PairSummary{Pair: pair, Summary: Summarize(group, filter)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pair < out[j].Pair })
	return out
}

// Reader serves summaries straight from the store.
type Reader struct {
	store store.Store
}

// NewReader creates a Reader over st.
func NewReader(st store.Store) *Reader {
	return &Reader{store: st}
}

// Summarize aggregates a fund's persisted realized P&L.
func (r *Reader) Summarize(ctx context.Context, fundID string, filter Filter) (Summary, error) {
	_, txs, err := r.load(ctx, fundID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(txs, filter), nil
}

// ByPair aggregates a fund's persisted realized P&L per asset pair.
func (r *Reader) ByPair(ctx context.Context, fundID string, filter Filter) ([]PairSummary, error) {
	fund, txs, err := r.load(ctx, fundID)
	if err != nil {
		return nil, err
	}
	return ByPair(*fund, txs, filter), nil
}

func (r *Reader) load(ctx context.Context, fundID string) (*model.Fund, []model.Transaction, error) {
	fund, err := r.store.GetFund(ctx, fundID)
	if err != nil {
		return nil, nil, err
	}
	txs, err := r.store.ListTransactions(ctx, fundID)
	if err != nil {
		return nil, nil, fmt.Errorf("stats: list transactions: %w", err)
	}
	return fund, txs, nil
}
