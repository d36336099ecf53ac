package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
)

// Event is the decoded, validated form of a transaction. The set of
// implementations is closed: one type per model.Kind.
type Event interface {
	event()
}

// Contribution adds capital in the fund's cash asset.
type Contribution struct {
	Asset    string
	Location string
	Amount   decimal.Decimal
	Fee      decimal.Decimal
}

// Withdrawal removes capital in the fund's cash asset.
type Withdrawal struct {
	Asset    string
	Location string
	Amount   decimal.Decimal
	Fee      decimal.Decimal
}

// Trade is the shared payload of Buy and Sell.
type Trade struct {
	Asset      string // primary asset
	Quote      string // funding asset
	From       string
	To         string
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	Fee        decimal.Decimal
	FeeInQuote bool
}

// Buy acquires Asset paying Quote.
type Buy struct{ Trade }

// Sell disposes of Asset receiving Quote.
type Sell struct{ Trade }

// Transfer moves an asset between two locations of the fund.
type Transfer struct {
	Asset    string
	From     string
	To       string
	Quantity decimal.Decimal
}

// Yield credits accrued interest in Asset.
type Yield struct {
	Asset    string
	Location string
	Quantity decimal.Decimal
	Fee      decimal.Decimal
}

// Settlement records a derivative P&L settlement. It holds no inventory.
type Settlement struct {
	Asset string
	PnL   decimal.Decimal
	Fee   decimal.Decimal
}

func (Contribution) event() {}
func (Withdrawal) event()   {}
func (Buy) event()          {}
func (Sell) event()         {}
func (Transfer) event()     {}
func (Yield) event()        {}
func (Settlement) event()   {}

// Decode validates tx against the rules of its kind and returns its event.
// Missing required fields fail here instead of being read as zero.
func Decode(f model.Fund, tx model.Transaction) (Event, error) {
	if tx.Fee.IsNegative() {
		return nil, invalid(tx, "fee must not be negative")
	}
	if tx.Kind != model.KindSettlement && !tx.Quantity.IsPositive() {
		return nil, invalid(tx, "quantity must be positive")
	}

	switch tx.Kind {
	case model.KindContribution, model.KindWithdrawal:
		asset := tx.Asset
		if asset == "" {
			asset = f.CashAsset
		}
		if asset != f.CashAsset {
			return nil, invalid(tx, "capital flows must be in cash asset %s, got %s", f.CashAsset, asset)
		}
		if err := checkFee(tx, asset); err != nil {
			return nil, err
		}
		if tx.Kind == model.KindContribution {
			if tx.Fee.GreaterThan(tx.Quantity) {
				return nil, invalid(tx, "fee exceeds contributed amount")
			}
			return Contribution{Asset: asset, Location: tx.DestLocation, Amount: tx.Quantity, Fee: tx.Fee}, nil
		}
		return Withdrawal{Asset: asset, Location: tx.SourceLocation, Amount: tx.Quantity, Fee: tx.Fee}, nil

	case model.KindBuyWithCash, model.KindBuyWithIntermediate,
		model.KindSellForCash, model.KindSellForIntermediate:
		t, err := decodeTrade(f, tx)
		if err != nil {
			return nil, err
		}
		if tx.Kind == model.KindBuyWithCash || tx.Kind == model.KindBuyWithIntermediate {
			return Buy{t}, nil
		}
		return Sell{t}, nil

	case model.KindTransfer:
		if tx.Asset == "" {
			return nil, invalid(tx, "asset is required")
		}
		if tx.SourceLocation == "" || tx.DestLocation == "" {
			return nil, invalid(tx, "source and destination locations are required")
		}
		if !tx.Fee.IsZero() {
			return nil, invalid(tx, "transfers cannot carry a fee")
		}
		return Transfer{Asset: tx.Asset, From: tx.SourceLocation, To: tx.DestLocation, Quantity: tx.Quantity}, nil

	case model.KindYield:
		if tx.Asset == "" {
			return nil, invalid(tx, "asset is required")
		}
		if err := checkFee(tx, tx.Asset); err != nil {
			return nil, err
		}
		if tx.Fee.GreaterThan(tx.Quantity) {
			return nil, invalid(tx, "fee exceeds accrued quantity")
		}
		return Yield{Asset: tx.Asset, Location: tx.DestLocation, Quantity: tx.Quantity, Fee: tx.Fee}, nil

	case model.KindSettlement:
		return Settlement{Asset: tx.Asset, PnL: tx.Quantity, Fee: tx.Fee}, nil

	default:
		return nil, invalid(tx, "unknown kind %q", tx.Kind)
	}
}

func decodeTrade(f model.Fund, tx model.Transaction) (Trade, error) {
	quote := f.QuoteAsset(tx.Kind)
	if quote == "" {
		return Trade{}, invalid(tx, "fund has no quote asset for %s", tx.Kind)
	}
	if tx.Asset == "" {
		return Trade{}, invalid(tx, "asset is required")
	}
	if tx.Asset == quote {
		return Trade{}, invalid(tx, "asset and quote are both %s", quote)
	}
	if !tx.UnitPrice.Valid {
		return Trade{}, invalid(tx, "unit price is required for %s", tx.Kind)
	}
	if !tx.UnitPrice.Decimal.IsPositive() {
		return Trade{}, invalid(tx, "unit price must be positive")
	}
	if err := checkFee(tx, tx.Asset, quote); err != nil {
		return Trade{}, err
	}

	t := Trade{
		Asset:      tx.Asset,
		Quote:      quote,
		From:       tx.SourceLocation,
		To:         tx.DestLocation,
		Quantity:   tx.Quantity,
		Price:      tx.UnitPrice.Decimal,
		Fee:        tx.Fee,
		FeeInQuote: tx.Fee.IsPositive() && tx.FeeAsset == quote,
	}
	if t.Fee.IsPositive() {
		if t.FeeInQuote && t.Fee.GreaterThan(t.Gross()) {
			return Trade{}, invalid(tx, "fee exceeds trade value")
		}
		if !t.FeeInQuote && t.Fee.GreaterThanOrEqual(t.Quantity) {
			return Trade{}, invalid(tx, "fee exceeds traded quantity")
		}
	}
	return t, nil
}

// Gross is quantity × price, before fees.
func (t Trade) Gross() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// checkFee requires a non-zero fee to name one of the allowed assets.
func checkFee(tx model.Transaction, allowed ...string) error {
	if tx.Fee.IsZero() {
		return nil
	}
	for _, a := range allowed {
		if tx.FeeAsset == a {
			return nil
		}
	}
	return invalid(tx, "fee currency %q must be one of %v", tx.FeeAsset, allowed)
}

func invalid(tx model.Transaction, format string, args ...any) error {
	return fmt.Errorf("%w: %s %s: %s", ErrInvalidTransaction, tx.Kind, tx.ID, fmt.Sprintf(format, args...))
}
