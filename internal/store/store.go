// Package store defines the persistence interface for the fund ledger.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"

	"github.com/atmx/fund-ledger/internal/model"
)

// ErrNotFound is returned when a fund or transaction does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned when creating a record whose ID already exists.
var ErrConflict = errors.New("store: already exists")

// Commit is everything one replay writes, applied atomically: the log
// mutation that triggered it (if any), every transaction's derived outputs,
// and the full replacement holdings set.
type Commit struct {
	// Fund, when set, replaces the stored fund record (policy changes).
	Fund *model.Fund

	// Upsert inserts new transactions or replaces existing ones by ID.
	Upsert []model.Transaction

	// Delete removes transactions by ID.
	Delete []string

	// Outcomes overwrites cost basis and realized P&L per transaction.
	Outcomes []model.Outcome

	// Holdings replaces the fund's entire holdings set.
	Holdings []model.AssetHolding
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Fund operations ---

	// CreateFund persists a new fund.
	CreateFund(ctx context.Context, fund *model.Fund) error

	// GetFund retrieves a fund by its ID.
	GetFund(ctx context.Context, id string) (*model.Fund, error)

	// ListFunds returns all funds.
	ListFunds(ctx context.Context) ([]model.Fund, error)

	// --- Transaction log ---

	// ListTransactions returns a fund's log ordered by timestamp, then Seq.
	ListTransactions(ctx context.Context, fundID string) ([]model.Transaction, error)

	// GetTransaction retrieves one transaction of a fund.
	GetTransaction(ctx context.Context, fundID, txID string) (*model.Transaction, error)

	// --- Derived state ---

	// GetHoldings returns the fund's current holdings snapshot.
	GetHoldings(ctx context.Context, fundID string) ([]model.AssetHolding, error)

	// Commit applies a replay's writes in one atomic step.
	Commit(ctx context.Context, fundID string, c Commit) error
}
