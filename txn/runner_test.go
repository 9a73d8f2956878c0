package txn_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/metrics"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
	"github.com/warp/station-engine/txn"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// stores returns one store per rollback strategy.
func stores() map[string]func() station.Store {
	return map[string]func() station.Store{
		"transaction":  func() station.Store { return memstore.NewTxMemory() },
		"compensation": func() station.Store { return memstore.NewMemory() },
	}
}

func seedBalance(t *testing.T, s station.Store, id, balance string) {
	t.Helper()
	_, err := s.Put(context.Background(), station.AccountBalances, id, station.Document{"balance": balance})
	require.NoError(t, err)
}

// =============================================================================
// ATOMICITY
// =============================================================================

func TestRun_FailedUnitLeavesNoTrace(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			// GIVEN: A balance and an empty sales collection
			s := newStore()
			seedBalance(t, s, "cash", "100")
			r := txn.New(s, nil)
			ctx := context.Background()
			boom := errors.New("boom")

			// WHEN: A unit updates, creates, deletes, then fails
			seedBalance(t, s, "old", "1")
			err := r.Run(ctx, "sale", []string{lock.BalanceKey("cash")}, func(ctx context.Context, st station.Store) error {
				if _, err := st.Update(ctx, station.AccountBalances, "cash", station.Document{"balance": "150"}, 0); err != nil {
					return err
				}
				if _, err := st.Create(ctx, station.Sales, "s1", station.Document{"total_amount": "50"}); err != nil {
					return err
				}
				if err := st.Delete(ctx, station.AccountBalances, "old"); err != nil {
					return err
				}
				return boom
			})

			// THEN: Every write is undone
			assert.ErrorIs(t, err, boom)
			doc, err := s.Get(ctx, station.AccountBalances, "cash")
			require.NoError(t, err)
			assert.Equal(t, "100", doc["balance"])
			_, err = s.Get(ctx, station.Sales, "s1")
			assert.True(t, station.IsNotFound(err))
			_, err = s.Get(ctx, station.AccountBalances, "old")
			assert.NoError(t, err, "deleted document restored")
		})
	}
}

func TestRun_SuccessfulUnitCommits(t *testing.T) {
	for name, newStore := range stores() {
		t.Run(name, func(t *testing.T) {
			s := newStore()
			r := txn.New(s, nil)
			ctx := context.Background()

			err := r.Run(ctx, "expense", nil, func(ctx context.Context, st station.Store) error {
				_, err := st.Create(ctx, station.Expenses, "e1", station.Document{"amount": "10"})
				return err
			})
			require.NoError(t, err)

			_, err = s.Get(ctx, station.Expenses, "e1")
			assert.NoError(t, err)
		})
	}
}

func TestRunner_Transactional(t *testing.T) {
	assert.True(t, txn.New(memstore.NewTxMemory(), nil).Transactional())
	assert.False(t, txn.New(memstore.NewMemory(), nil).Transactional())
}

// =============================================================================
// RETRIES
// =============================================================================

func TestRun_RetriesConflicts(t *testing.T) {
	// GIVEN: A unit that conflicts twice then succeeds
	m := metrics.New("test")
	r := txn.New(memstore.NewTxMemory(), nil, txn.WithBackoff(time.Millisecond), txn.WithMetrics(m))
	attempts := 0

	// WHEN: Running it
	err := r.Run(context.Background(), "sale", nil, func(ctx context.Context, s station.Store) error {
		attempts++
		if attempts < 3 {
			return station.Conflict("tank moved")
		}
		return nil
	})

	// THEN: It succeeds on the third attempt and both retries are counted
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConflictRetries.WithLabelValues("sale")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("sale", "ok")))
}

func TestRun_GivesUpAfterRetries(t *testing.T) {
	r := txn.New(memstore.NewTxMemory(), nil, txn.WithRetries(2), txn.WithBackoff(time.Millisecond))
	attempts := 0

	err := r.Run(context.Background(), "sale", nil, func(ctx context.Context, s station.Store) error {
		attempts++
		return station.Conflict("always")
	})

	assert.ErrorIs(t, err, station.ErrConflictRetry)
	assert.Equal(t, 3, attempts, "one attempt plus two retries")
}

func TestRun_PreconditionsAreNotRetried(t *testing.T) {
	r := txn.New(memstore.NewTxMemory(), nil, txn.WithBackoff(time.Millisecond))
	attempts := 0

	err := r.Run(context.Background(), "sale", nil, func(ctx context.Context, s station.Store) error {
		attempts++
		return &station.InsufficientStockError{TankID: "t"}
	})

	assert.ErrorIs(t, err, station.ErrInsufficientStock)
	assert.Equal(t, 1, attempts)
}

func TestRun_LockTimeoutIsConflict(t *testing.T) {
	// GIVEN: The tank key is held elsewhere
	locker := lock.NewKeyed(10 * time.Millisecond)
	release, err := locker.Acquire(context.Background(), lock.TankKey("t1"))
	require.NoError(t, err)
	defer release()

	r := txn.New(memstore.NewTxMemory(), locker, txn.WithRetries(1), txn.WithBackoff(time.Millisecond))
	called := false

	// WHEN: A unit needs the same tank
	err = r.Run(context.Background(), "purchase", []string{lock.TankKey("t1")}, func(ctx context.Context, s station.Store) error {
		called = true
		return nil
	})

	// THEN: It fails retryably without running
	assert.ErrorIs(t, err, station.ErrConflictRetry)
	assert.False(t, called)
}

func TestRun_CompensationCounted(t *testing.T) {
	m := metrics.New("test")
	r := txn.New(memstore.NewMemory(), nil, txn.WithMetrics(m))

	_ = r.Run(context.Background(), "transfer", nil, func(ctx context.Context, s station.Store) error {
		_, err := s.Put(ctx, station.HeadToHeadMovements, "m1", station.Document{})
		if err != nil {
			return err
		}
		return errors.New("fail")
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("transfer", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Transactions.WithLabelValues("transfer", string(station.KindInternal))))
}

// restoreFailing rejects every Put on one collection, which is how the
// journal restores updated documents.
type restoreFailing struct {
	station.Store
	coll station.Collection
}

func (s restoreFailing) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	if coll == s.coll {
		return 0, station.Unavailable("put", errors.New("disk full"))
	}
	return s.Store.Put(ctx, coll, id, doc)
}

func TestRun_IncompleteCompensationIsNotRetried(t *testing.T) {
	// GIVEN: A tank at 100 on a store that cannot restore tanks
	inner := memstore.NewMemory()
	_, err := inner.Put(context.Background(), station.Tanks, "t1", station.Document{"current_stock": "100"})
	require.NoError(t, err)
	m := metrics.New("test")
	r := txn.New(restoreFailing{Store: inner, coll: station.Tanks}, nil,
		txn.WithBackoff(time.Millisecond), txn.WithMetrics(m))
	attempts := 0

	// WHEN: The unit debits 40 and then conflicts
	err = r.Run(context.Background(), "sale", []string{lock.TankKey("t1")}, func(ctx context.Context, s station.Store) error {
		attempts++
		doc, err := s.Get(ctx, station.Tanks, "t1")
		if err != nil {
			return err
		}
		next := "60"
		if doc["current_stock"] == "60" {
			next = "20"
		}
		if _, err := s.Update(ctx, station.Tanks, "t1", station.Document{"current_stock": next}, doc.Version()); err != nil {
			return err
		}
		if attempts == 1 {
			return station.Conflict("nozzle moved")
		}
		return nil
	})

	// THEN: The run stops after one attempt and reports the store failure
	assert.Equal(t, 1, attempts)
	assert.ErrorIs(t, err, station.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, station.ErrConflictRetry)
	assert.False(t, station.IsRetryable(err))
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Compensations.WithLabelValues("sale", "failed")))
	assert.Zero(t, testutil.ToFloat64(m.ConflictRetries.WithLabelValues("sale")))

	doc, err := inner.Get(context.Background(), station.Tanks, "t1")
	require.NoError(t, err)
	assert.Equal(t, "60", doc["current_stock"], "debited once, not twice")
}

func TestRun_RollbackRestoresContentAtNewVersion(t *testing.T) {
	// GIVEN: A balance at version 1
	s := memstore.NewMemory()
	seedBalance(t, s, "cash", "100")
	r := txn.New(s, nil)
	ctx := context.Background()

	// WHEN: A unit moves it and fails
	_ = r.Run(ctx, "expense", nil, func(ctx context.Context, st station.Store) error {
		if _, err := st.Update(ctx, station.AccountBalances, "cash", station.Document{"balance": "40"}, 1); err != nil {
			return err
		}
		return errors.New("fail")
	})

	// THEN: The content is back; the version moved past every version the
	// unit wrote, so a stale CAS against the unit's write cannot succeed
	doc, err := s.Get(ctx, station.AccountBalances, "cash")
	require.NoError(t, err)
	assert.Equal(t, "100", doc["balance"])
	assert.Equal(t, int64(3), doc.Version())
	_, err = s.Update(ctx, station.AccountBalances, "cash", station.Document{"balance": "0"}, 2)
	assert.ErrorIs(t, err, station.ErrConflictRetry)
}
