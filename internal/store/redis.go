package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atmx/fund-ledger/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateFund(ctx context.Context, f *model.Fund) error {
	if err := s.primary.CreateFund(ctx, f); err != nil {
		return err
	}
	s.cacheFund(ctx, f)
	return nil
}

func (s *CachedStore) Commit(ctx context.Context, fundID string, c Commit) error {
	if err := s.primary.Commit(ctx, fundID, c); err != nil {
		return err
	}
	// Invalidate; next read will re-populate.
	s.rdb.Del(ctx, fundKey(fundID), holdingsKey(fundID))
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetFund(ctx context.Context, id string) (*model.Fund, error) {
	data, err := s.rdb.Get(ctx, fundKey(id)).Bytes()
	if err == nil {
		var f model.Fund
		if json.Unmarshal(data, &f) == nil {
			return &f, nil
		}
	}

	f, err := s.primary.GetFund(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheFund(ctx, f)
	return f, nil
}

func (s *CachedStore) GetHoldings(ctx context.Context, fundID string) ([]model.AssetHolding, error) {
	data, err := s.rdb.Get(ctx, holdingsKey(fundID)).Bytes()
	if err == nil {
		var holdings []model.AssetHolding
		if json.Unmarshal(data, &holdings) == nil {
			return holdings, nil
		}
	}

	holdings, err := s.primary.GetHoldings(ctx, fundID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(holdings); err == nil {
		s.rdb.Set(ctx, holdingsKey(fundID), data, s.ttl)
	}
	return holdings, nil
}

// --- Passthrough (not cached) ---

// The replay engine must always read the authoritative log.
func (s *CachedStore) ListTransactions(ctx context.Context, fundID string) ([]model.Transaction, error) {
	return s.primary.ListTransactions(ctx, fundID)
}

func (s *CachedStore) GetTransaction(ctx context.Context, fundID, txID string) (*model.Transaction, error) {
	return s.primary.GetTransaction(ctx, fundID, txID)
}

func (s *CachedStore) ListFunds(ctx context.Context) ([]model.Fund, error) {
	return s.primary.ListFunds(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheFund(ctx context.Context, f *model.Fund) {
	if data, err := json.Marshal(f); err == nil {
		s.rdb.Set(ctx, fundKey(f.ID), data, s.ttl)
	}
}

func fundKey(id string) string     { return fmt.Sprintf("fund:%s", id) }
func holdingsKey(id string) string { return fmt.Sprintf("holdings:%s", id) }
