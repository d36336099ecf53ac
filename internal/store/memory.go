package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/atmx/fund-ledger/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	funds    map[string]*model.Fund
	txs      map[string][]model.Transaction // fundID → log
	holdings map[string][]model.AssetHolding
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		funds:    make(map[string]*model.Fund),
		txs:      make(map[string][]model.Transaction),
		holdings: make(map[string][]model.AssetHolding),
	}
}

func (s *MemoryStore) CreateFund(_ context.Context, f *model.Fund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[f.ID]; ok {
		return fmt.Errorf("fund %s: %w", f.ID, ErrConflict)
	}

	// Store a copy to avoid external mutation.
	copy := *f
	s.funds[f.ID] = &copy
	return nil
}

func (s *MemoryStore) GetFund(_ context.Context, id string) (*model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.funds[id]
	if !ok {
		return nil, fmt.Errorf("fund %s: %w", id, ErrNotFound)
	}
	copy := *f
	return &copy, nil
}

func (s *MemoryStore) ListFunds(_ context.Context) ([]model.Fund, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	funds := make([]model.Fund, 0, len(s.funds))
	for _, f := range s.funds {
		funds = append(funds, *f)
	}
	sort.Slice(funds, func(i, j int) bool { return funds[i].CreatedAt.After(funds[j].CreatedAt) })
	return funds, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, fundID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := make([]model.Transaction, len(s.txs[fundID]))
	copy(log, s.txs[fundID])
	sort.SliceStable(log, func(i, j int) bool {
		if !log[i].Timestamp.Equal(log[j].Timestamp) {
			return log[i].Timestamp.Before(log[j].Timestamp)
		}
		return log[i].Seq < log[j].Seq
	})
	return log, nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, fundID, txID string) (*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.txs[fundID] {
		if tx.ID == txID {
			copy := tx
			return &copy, nil
		}
	}
	return nil, fmt.Errorf("transaction %s: %w", txID, ErrNotFound)
}

func (s *MemoryStore) GetHoldings(_ context.Context, fundID string) ([]model.AssetHolding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	holdings := make([]model.AssetHolding, len(s.holdings[fundID]))
	copy(holdings, s.holdings[fundID])
	return holdings, nil
}

// Commit builds the new log off to the side and swaps it in only when every
// outcome matched a transaction, so a failed commit leaves nothing behind.
func (s *MemoryStore) Commit(_ context.Context, fundID string, c Commit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.funds[fundID]; !ok {
		return fmt.Errorf("fund %s: %w", fundID, ErrNotFound)
	}

	deleted := make(map[string]bool, len(c.Delete))
	for _, id := range c.Delete {
		deleted[id] = true
	}
	upserts := make(map[string]model.Transaction, len(c.Upsert))
	for _, tx := range c.Upsert {
		upserts[tx.ID] = tx
	}

	var log []model.Transaction
	for _, tx := range s.txs[fundID] {
		if deleted[tx.ID] {
			continue
		}
		if u, ok := upserts[tx.ID]; ok {
			tx = u
			delete(upserts, tx.ID)
		}
		log = append(log, tx)
	}
	for _, tx := range c.Upsert {
		if _, pending := upserts[tx.ID]; pending {
			log = append(log, tx)
		}
	}

	index := make(map[string]int, len(log))
	for i, tx := range log {
		index[tx.ID] = i
	}
	for _, o := range c.Outcomes {
		i, ok := index[o.TransactionID]
		if !ok {
			return fmt.Errorf("outcome for transaction %s: %w", o.TransactionID, ErrNotFound)
		}
		log[i].CostBasis = o.CostBasis
		log[i].RealizedPnL = o.RealizedPnL
	}

	if c.Fund != nil {
		copy := *c.Fund
		s.funds[fundID] = &copy
	}
	s.txs[fundID] = log
	s.holdings[fundID] = append([]model.AssetHolding(nil), c.Holdings...)
	return nil
}
