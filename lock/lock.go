/*
Package lock serializes work on the same stock, meter, account or customer.

PURPOSE:
  A Locker hands out exclusive access to a set of keys such as
  "tank:T1" or "balance:cash". Every engine operation locks all keys it
  will touch before reading them, so two sales on the same tank cannot
  both pass the stock check.

ORDERING:
  Keys are always acquired in sorted order, which rules out deadlock
  between operations that need overlapping key sets.

TIMEOUTS:
  Acquisition never blocks indefinitely. When the keys cannot be taken in
  time the call fails with station.ErrConflictRetry and holds nothing.

IMPLEMENTATIONS:
  Keyed: in-process, for a single server process.
  Redis: shared across processes through bsm/redislock.
*/
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/warp/station-engine/station"
)

// Locker acquires exclusive access to keys.
type Locker interface {
	// Acquire blocks until every key is held, the timeout elapses or ctx
	// is done. The returned release func is safe to call more than once.
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

// Key helpers keep key spelling in one place.
func TankKey(id string) string     { return "tank:" + id }
func NozzleKey(id string) string   { return "nozzle:" + id }
func BalanceKey(id string) string  { return "balance:" + id }
func CustomerKey(id string) string { return "customer:" + id }
func ShiftKey(id string) string    { return "shift:" + id }
func OperatorKey(id string) string { return "operator:" + id }

// normalize sorts and removes duplicates and empty keys.
func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func once(fn func()) func() {
	var o sync.Once
	return func() { o.Do(fn) }
}

// timeoutError turns a context failure during acquisition into the
// retryable conflict error.
func timeoutError(ctx context.Context, key string, timeout time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	return station.Conflict("lock %q not acquired within %s", key, timeout)
}

// =============================================================================
// KEYED - in-process
// =============================================================================

// Keyed is an in-process Locker with one semaphore per key.
type Keyed struct {
	mu      sync.Mutex
	slots   map[string]*slot
	timeout time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyed returns a Keyed locker. A zero timeout means 5 seconds.
func NewKeyed(timeout time.Duration) *Keyed {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Keyed{slots: make(map[string]*slot), timeout: timeout}
}

func (k *Keyed) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalize(keys)
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	held := make([]string, 0, len(keys))
	for _, key := range keys {
		s := k.ref(key)
		select {
		case s.ch <- struct{}{}:
			held = append(held, key)
		case <-ctx.Done():
			k.unref(key)
			k.release(held)
			return nil, timeoutError(ctx, key, k.timeout)
		}
	}
	return once(func() { k.release(held) }), nil
}

func (k *Keyed) ref(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) unref(key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s := k.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}

func (k *Keyed) release(held []string) {
	for i := len(held) - 1; i >= 0; i-- {
		k.mu.Lock()
		s := k.slots[held[i]]
		k.mu.Unlock()
		<-s.ch
		k.unref(held[i])
	}
}

// Held reports how many keys currently have holders or waiters.
func (k *Keyed) Held() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.slots)
}
