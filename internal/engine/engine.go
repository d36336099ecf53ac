// Package engine owns the recalculation trigger for a fund: it serializes
// work per fund, replays the full transaction log from an empty ledger, and
// commits every derived output in a single atomic store write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/fund-ledger/internal/ledger"
	"github.com/atmx/fund-ledger/internal/lock"
	"github.com/atmx/fund-ledger/internal/metrics"
	"github.com/atmx/fund-ledger/internal/model"
	"github.com/atmx/fund-ledger/internal/store"
)

// ErrBusy is returned when another instance holds the fund's distributed
// lock for longer than the configured wait.
var ErrBusy = errors.New("engine: fund recalculation in progress elsewhere")

// Trigger labels.
const (
	TriggerRecalculate = "recalculate"
	TriggerRecord      = "record"
	TriggerAmend       = "amend"
	TriggerRemove      = "remove"
	TriggerPolicy      = "policy"
	TriggerBoot        = "boot"
)

// Snapshot is the committed result of one replay.
type Snapshot struct {
	Fund         model.Fund           `json:"fund"`
	Trigger      string               `json:"trigger"`
	Transactions int                  `json:"transactions"`
	Outcomes     []model.Outcome      `json:"outcomes"`
	Holdings     []model.AssetHolding `json:"holdings"`
	CommittedAt  time.Time            `json:"committed_at"`
}

// Outcome returns the outcome of one transaction in the snapshot.
func (s *Snapshot) Outcome(txID string) (model.Outcome, bool) {
	for _, o := range s.Outcomes {
		if o.TransactionID == txID {
			return o, true
		}
	}
	return model.Outcome{}, false
}

// Publisher receives every committed snapshot. Publish errors are logged
// and never fail the recalculation.
type Publisher interface {
	Publish(ctx context.Context, snap *Snapshot) error
}

// Recalculator runs replays. At most one replay per fund is in flight;
// different funds proceed independently.
type Recalculator struct {
	store      store.Store
	local      *lock.Local
	dist       lock.Locker // optional, cross-instance
	lockTTL    time.Duration
	lockWait   time.Duration
	publishers []Publisher
	publishTTL time.Duration
	now        func() time.Time
}

// Option configures a Recalculator.
type Option func(*Recalculator)

// WithDistributedLock adds a cross-instance lock held for at most ttl and
// waited on for at most wait before failing with ErrBusy.
func WithDistributedLock(l lock.Locker, ttl, wait time.Duration) Option {
	return func(r *Recalculator) {
		r.dist = l
		r.lockTTL = ttl
		r.lockWait = wait
	}
}

// WithPublisher registers a snapshot publisher.
func WithPublisher(p Publisher) Option {
	return func(r *Recalculator) {
		r.publishers = append(r.publishers, p)
	}
}

// WithPublishTimeout bounds each Publish call. Publishing happens after the
// fund lock is released, so a slow publisher never blocks the next pass.
func WithPublishTimeout(d time.Duration) Option {
	return func(r *Recalculator) { r.publishTTL = d }
}

// WithClock overrides the time source used for CreatedAt and CommittedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Recalculator) { r.now = now }
}

// New creates a Recalculator over st.
func New(st store.Store, opts ...Option) *Recalculator {
	r := &Recalculator{
		store:      st,
		local:      lock.NewLocal(),
		lockTTL:    time.Minute,
		lockWait:   10 * time.Second,
		publishTTL: 10 * time.Second,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// change is the in-memory working copy a mutation edits before replay.
type change struct {
	fund   model.Fund
	log    []model.Transaction
	commit store.Commit
}

// Recalculate replays the fund's log as stored. Safe to repeat: an
// unchanged log yields identical outputs.
func (r *Recalculator) Recalculate(ctx context.Context, fundID string) (*Snapshot, error) {
	return r.run(ctx, fundID, TriggerRecalculate, nil)
}

// Record inserts tx at its timestamp, wherever that falls in the log, and
// replays. The transaction is rejected, and nothing written, if the
// resulting log does not replay.
func (r *Recalculator) Record(ctx context.Context, fundID string, tx model.Transaction) (model.Transaction, *Snapshot, error) {
	snap, err := r.run(ctx, fundID, TriggerRecord, func(c *change) error {
		if tx.ID == "" {
			tx.ID = uuid.New().String()
		}
		var maxSeq int64
		for _, existing := range c.log {
			if existing.ID == tx.ID {
				return fmt.Errorf("%w: duplicate transaction id %s", ledger.ErrInvalidTransaction, tx.ID)
			}
			if existing.Seq > maxSeq {
				maxSeq = existing.Seq
			}
		}
		tx.FundID = fundID
		tx.Seq = maxSeq + 1
		tx.CreatedAt = r.now()
		tx.CostBasis, tx.RealizedPnL = decimal.NullDecimal{}, decimal.NullDecimal{}

		c.log = append(c.log, tx)
		c.commit.Upsert = []model.Transaction{tx}
		return nil
	})
	if err != nil {
		return model.Transaction{}, nil, err
	}
	return withOutcome(tx, snap), snap, nil
}

// Amend replaces an existing transaction's fields, keeping its insertion
// order, and replays.
func (r *Recalculator) Amend(ctx context.Context, fundID string, tx model.Transaction) (model.Transaction, *Snapshot, error) {
	snap, err := r.run(ctx, fundID, TriggerAmend, func(c *change) error {
		i := indexOf(c.log, tx.ID)
		if i < 0 {
			return fmt.Errorf("transaction %s: %w", tx.ID, store.ErrNotFound)
		}
		prev := c.log[i]
		tx.FundID = fundID
		tx.Seq = prev.Seq
		tx.CreatedAt = prev.CreatedAt
		tx.CostBasis, tx.RealizedPnL = decimal.NullDecimal{}, decimal.NullDecimal{}

		c.log[i] = tx
		c.commit.Upsert = []model.Transaction{tx}
		return nil
	})
	if err != nil {
		return model.Transaction{}, nil, err
	}
	return withOutcome(tx, snap), snap, nil
}

// Remove deletes a transaction and replays.
func (r *Recalculator) Remove(ctx context.Context, fundID, txID string) (*Snapshot, error) {
	return r.run(ctx, fundID, TriggerRemove, func(c *change) error {
		i := indexOf(c.log, txID)
		if i < 0 {
			return fmt.Errorf("transaction %s: %w", txID, store.ErrNotFound)
		}
		c.log = append(c.log[:i:i], c.log[i+1:]...)
		c.commit.Delete = []string{txID}
		return nil
	})
}

// SetYieldPolicy switches the fund's yield treatment and replays.
func (r *Recalculator) SetYieldPolicy(ctx context.Context, fundID string, policy model.YieldPolicy) (*Snapshot, error) {
	return r.run(ctx, fundID, TriggerPolicy, func(c *change) error {
		c.fund.YieldPolicy = policy
		c.commit.Fund = &c.fund
		return nil
	})
}

// RecalculateAll replays every fund with at most concurrency replays in
// flight. A failing fund does not stop the others; all failures are joined.
func (r *Recalculator) RecalculateAll(ctx context.Context, concurrency int) error {
	funds, err := r.store.ListFunds(ctx)
	if err != nil {
		return fmt.Errorf("engine: list funds: %w", err)
	}

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for _, f := range funds {
		fundID := f.ID
		g.Go(func() error {
			if _, err := r.run(ctx, fundID, TriggerBoot, nil); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("fund %s: %w", fundID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// run executes one pass under the fund lock, then publishes the snapshot
// once the lock is released.
func (r *Recalculator) run(ctx context.Context, fundID, trigger string, mutate func(*change) error) (*Snapshot, error) {
	snap, err := r.pass(ctx, fundID, trigger, mutate)
	if err != nil {
		return nil, err
	}
	r.publish(context.WithoutCancel(ctx), snap)
	return snap, nil
}

// pass is the critical section shared by every trigger.
func (r *Recalculator) pass(ctx context.Context, fundID, trigger string, mutate func(*change) error) (*Snapshot, error) {
	start := time.Now()
	defer func() {
		metrics.RecalculationLatency.WithLabelValues(trigger).Observe(time.Since(start).Seconds())
	}()

	release, err := r.acquire(ctx, fundID)
	if err != nil {
		metrics.RecalculationsTotal.WithLabelValues(trigger, "busy").Inc()
		return nil, err
	}
	defer release()

	// Once the lock is held the pass runs to completion or fails outright.
	ctx = context.WithoutCancel(ctx)

	fund, err := r.store.GetFund(ctx, fundID)
	if err != nil {
		metrics.RecalculationsTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("engine: load fund %s: %w", fundID, err)
	}
	log, err := r.store.ListTransactions(ctx, fundID)
	if err != nil {
		metrics.RecalculationsTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("engine: load log %s: %w", fundID, err)
	}

	c := &change{fund: *fund, log: log}
	if mutate != nil {
		if err := mutate(c); err != nil {
			metrics.RecalculationsTotal.WithLabelValues(trigger, outcomeLabel(err)).Inc()
			return nil, err
		}
	}

	res, err := ledger.Replay(c.fund, c.log)
	if err != nil {
		label := outcomeLabel(err)
		metrics.RecalculationsTotal.WithLabelValues(trigger, label).Inc()
		if mutate != nil {
			metrics.RejectedMutations.WithLabelValues(label).Inc()
		}
		return nil, err
	}

	c.commit.Outcomes = res.Outcomes
	c.commit.Holdings = res.Holdings
	if err := r.store.Commit(ctx, fundID, c.commit); err != nil {
		metrics.RecalculationsTotal.WithLabelValues(trigger, "error").Inc()
		return nil, fmt.Errorf("engine: commit %s: %w", fundID, err)
	}

	snap := &Snapshot{
		Fund:         c.fund,
		Trigger:      trigger,
		Transactions: len(c.log),
		Outcomes:     res.Outcomes,
		Holdings:     res.Holdings,
		CommittedAt:  r.now(),
	}

	metrics.RecalculationsTotal.WithLabelValues(trigger, "ok").Inc()
	metrics.TransactionsReplayed.Add(float64(len(c.log)))
	metrics.HoldingsRows.WithLabelValues(fundID).Set(float64(len(res.Holdings)))

	slog.Info("fund recalculated",
		"fund", fundID,
		"trigger", trigger,
		"transactions", len(c.log),
		"holdings", len(res.Holdings),
		"duration", time.Since(start).String(),
	)
	return snap, nil
}

func (r *Recalculator) publish(ctx context.Context, snap *Snapshot) {
	for _, p := range r.publishers {
		pctx, cancel := context.WithTimeout(ctx, r.publishTTL)
		err := p.Publish(pctx, snap)
		cancel()
		if err != nil {
			slog.Warn("snapshot publish failed", "fund", snap.Fund.ID, "trigger", snap.Trigger, "err", err)
		}
	}
}

func (r *Recalculator) acquire(ctx context.Context, fundID string) (func(), error) {
	releaseLocal, err := r.local.Acquire(ctx, fundID, 0)
	if err != nil {
		return nil, err
	}
	if r.dist == nil {
		return releaseLocal, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.lockWait)
	defer cancel()
	releaseDist, err := lock.AcquireWait(waitCtx, r.dist, "fund:"+fundID, r.lockTTL, 100*time.Millisecond)
	if err != nil {
		releaseLocal()
		if errors.Is(err, lock.ErrLockHeld) {
			return nil, ErrBusy
		}
		return nil, err
	}
	return func() {
		releaseDist()
		releaseLocal()
	}, nil
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ledger.ErrInvalidTransaction):
		return "invalid"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return "insufficient"
	case errors.Is(err, store.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func indexOf(log []model.Transaction, id string) int {
	for i, tx := range log {
		if tx.ID == id {
			return i
		}
	}
	return -1
}

func withOutcome(tx model.Transaction, snap *Snapshot) model.Transaction {
	if o, ok := snap.Outcome(tx.ID); ok {
		tx.CostBasis = o.CostBasis
		tx.RealizedPnL = o.RealizedPnL
	}
	return tx
}
