// Package lock serializes work per key. Local queues callers inside one
// process; Redis extends the exclusion across instances.
package lock

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrLockHeld is returned when a lock is held by another party.
var ErrLockHeld = errors.New("lock: already held")

// Locker acquires an exclusive lock on key. The returned release func is
// safe to call more than once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// Local is an in-process keyed mutex. Acquire blocks until the key is free
// or ctx is done; it never returns ErrLockHeld.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocal creates an empty keyed mutex.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

// Acquire ignores ttl: a local holder cannot outlive its process.
func (l *Local) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}, nil
}

func (l *Local) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// AcquireWait retries a Locker that reports ErrLockHeld every interval
// until it succeeds or ctx is done.
func AcquireWait(ctx context.Context, l Locker, key string, ttl, interval time.Duration) (func(), error) {
	for {
		release, err := l.Acquire(ctx, key, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, ErrLockHeld
		case <-time.After(interval):
		}
	}
}

// keepAlive calls refresh every interval until stop is closed or refresh
// reports that the lock is no longer owned.
func keepAlive(stop <-chan struct{}, interval time.Duration, refresh func(context.Context) (bool, error)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			owned, err := refresh(ctx)
			cancel()
			if err != nil {
				slog.Warn("lock refresh failed", "err", err)
				continue
			}
			if !owned {
				slog.Warn("lock lost before release")
				return
			}
		}
	}
}
