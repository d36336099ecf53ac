package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/fund-ledger/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateFund(ctx context.Context, f *model.Fund) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO funds (id, name, cash_asset, intermediate_asset, yield_policy, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		f.ID, f.Name, f.CashAsset, f.IntermediateAsset, string(f.YieldPolicy), f.CreatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("fund %s: %w", f.ID, ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create fund %s: %w", f.ID, err)
	}
	return nil
}

// uniqueViolation is the PostgreSQL SQLSTATE for a duplicate key.
const uniqueViolation = "23505"

const fundSelectCols = `id, name, cash_asset, intermediate_asset, yield_policy, created_at`

func scanFund(row pgx.Row) (*model.Fund, error) {
	var f model.Fund
	var policy string
	if err := row.Scan(&f.ID, &f.Name, &f.CashAsset, &f.IntermediateAsset, &policy, &f.CreatedAt); err != nil {
		return nil, err
	}
	f.YieldPolicy = model.YieldPolicy(policy)
	return &f, nil
}

func (s *PostgresStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	f, err := scanFund(s.pool.QueryRow(ctx,
		`SELECT `+fundSelectCols+` FROM funds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("fund %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get fund %s: %w", id, err)
	}
	return f, nil
}

func (s *PostgresStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+fundSelectCols+` FROM funds ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var funds []model.Fund
	for rows.Next() {
		f, err := scanFund(rows)
		if err != nil {
			return nil, err
		}
		funds = append(funds, *f)
	}
	return funds, rows.Err()
}

const txSelectCols = `id, fund_id, seq, kind, timestamp, asset,
	quantity::TEXT, unit_price::TEXT, fee::TEXT, fee_asset,
	source_location, dest_location, note,
	cost_basis::TEXT, realized_pnl::TEXT, created_at`

func (s *PostgresStore) ListTransactions(ctx context.Context, fundID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+txSelectCols+` FROM transactions
		 WHERE fund_id = $1 ORDER BY timestamp, seq`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var log []model.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		log = append(log, *tx)
	}
	return log, rows.Err()
}

func (s *PostgresStore) GetTransaction(ctx context.Context, fundID, txID string) (*model.Transaction, error) {
	tx, err := scanTransaction(s.pool.QueryRow(ctx,
		`SELECT `+txSelectCols+` FROM transactions WHERE fund_id = $1 AND id = $2`, fundID, txID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", txID, err)
	}
	return tx, nil
}

func (s *PostgresStore) GetHoldings(ctx context.Context, fundID string) ([]model.AssetHolding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT fund_id, asset, location, amount::TEXT, avg_price::TEXT
		 FROM asset_holdings WHERE fund_id = $1 ORDER BY asset, location`, fundID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holdings []model.AssetHolding
	for rows.Next() {
		var h model.AssetHolding
		var amountS, avgS string
		if err := rows.Scan(&h.FundID, &h.Asset, &h.Location, &amountS, &avgS); err != nil {
			return nil, err
		}
		h.Amount, _ = decimal.NewFromString(amountS)
		h.AvgPrice, _ = decimal.NewFromString(avgS)
		holdings = append(holdings, h)
	}
	return holdings, rows.Err()
}

// Commit writes the log mutation, every outcome and the holdings
// replacement inside one database transaction.
func (s *PostgresStore) Commit(ctx context.Context, fundID string, c Commit) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("commit %s: begin: %w", fundID, err)
	}
	defer tx.Rollback(ctx) // no-op after Commit

	if c.Fund != nil {
		tag, err := tx.Exec(ctx,
			`UPDATE funds SET name = $2, yield_policy = $3 WHERE id = $1`,
			fundID, c.Fund.Name, string(c.Fund.YieldPolicy))
		if err != nil {
			return fmt.Errorf("commit %s: update fund: %w", fundID, err)
		}
		if err := expectOneRow("update fund", tag.RowsAffected()); err != nil {
			return fmt.Errorf("commit %s: %w", fundID, err)
		}
	}

	batch := &pgx.Batch{}
	// checks[i] names statement i when it must touch exactly one row.
	var checks []string
	queue := func(check, sql string, args ...any) {
		batch.Queue(sql, args...)
		checks = append(checks, check)
	}

	for _, id := range c.Delete {
		queue("delete transaction "+id,
			`DELETE FROM transactions WHERE fund_id = $1 AND id = $2`, fundID, id)
	}
	for _, t := range c.Upsert {
		queue("upsert transaction "+t.ID,
			`INSERT INTO transactions (id, fund_id, seq, kind, timestamp, asset,
			     quantity, unit_price, fee, fee_asset, source_location, dest_location, note, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12, $13, $14)
			 ON CONFLICT (fund_id, id) DO UPDATE SET
			     kind = EXCLUDED.kind, timestamp = EXCLUDED.timestamp, asset = EXCLUDED.asset,
			     quantity = EXCLUDED.quantity, unit_price = EXCLUDED.unit_price,
			     fee = EXCLUDED.fee, fee_asset = EXCLUDED.fee_asset,
			     source_location = EXCLUDED.source_location, dest_location = EXCLUDED.dest_location,
			     note = EXCLUDED.note`,
			t.ID, fundID, t.Seq, string(t.Kind), t.Timestamp, t.Asset,
			t.Quantity.String(), nullNumeric(t.UnitPrice), t.Fee.String(), t.FeeAsset,
			t.SourceLocation, t.DestLocation, t.Note, t.CreatedAt,
		)
	}
	for _, o := range c.Outcomes {
		queue("outcome for transaction "+o.TransactionID,
			`UPDATE transactions SET cost_basis = $3::NUMERIC, realized_pnl = $4::NUMERIC
			 WHERE fund_id = $1 AND id = $2`,
			fundID, o.TransactionID, nullNumeric(o.CostBasis), nullNumeric(o.RealizedPnL),
		)
	}
	queue("", `DELETE FROM asset_holdings WHERE fund_id = $1`, fundID)
	for _, h := range c.Holdings {
		queue("",
			`INSERT INTO asset_holdings (fund_id, asset, location, amount, avg_price)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC)`,
			fundID, h.Asset, h.Location, h.Amount.String(), h.AvgPrice.String(),
		)
	}

	br := tx.SendBatch(ctx, batch)
	for i, check := range checks {
		tag, err := br.Exec()
		if err != nil {
			br.Close()
			return fmt.Errorf("commit %s: statement %d: %w", fundID, i, err)
		}
		if err := expectOneRow(check, tag.RowsAffected()); err != nil {
			br.Close()
			return fmt.Errorf("commit %s: %w", fundID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("commit %s: close batch: %w", fundID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", fundID, err)
	}
	return nil
}

// expectOneRow fails a keyed write that matched no row of the fund, which
// would otherwise leave the log and its derived outputs out of step.
func expectOneRow(check string, affected int64) error {
	if check == "" || affected == 1 {
		return nil
	}
	return fmt.Errorf("%s: %d rows affected: %w", check, affected, ErrNotFound)
}

// nullNumeric renders a nullable decimal as a NUMERIC parameter.
func nullNumeric(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.String()
}

func scanTransaction(row pgx.Row) (*model.Transaction, error) {
	var t model.Transaction
	var kind, qtyS, feeS string
	var priceS, costS, pnlS *string

	if err := row.Scan(&t.ID, &t.FundID, &t.Seq, &kind, &t.Timestamp, &t.Asset,
		&qtyS, &priceS, &feeS, &t.FeeAsset,
		&t.SourceLocation, &t.DestLocation, &t.Note,
		&costS, &pnlS, &t.CreatedAt); err != nil {
		return nil, err
	}

	t.Kind = model.Kind(kind)
	t.Quantity, _ = decimal.NewFromString(qtyS)
	t.Fee, _ = decimal.NewFromString(feeS)
	t.UnitPrice = parseNull(priceS)
	t.CostBasis = parseNull(costS)
	t.RealizedPnL = parseNull(pnlS)
	return &t, nil
}

func parseNull(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}
