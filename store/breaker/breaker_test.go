package breaker_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
	"github.com/warp/station-engine/store/breaker"
)

// flaky fails every call with ErrStoreUnavailable while down is set.
type flaky struct {
	station.Store
	down  bool
	calls int
}

func (f *flaky) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	f.calls++
	if f.down {
		return nil, station.Unavailable("get", errors.New("connection refused"))
	}
	return f.Store.Get(ctx, coll, id)
}

func (f *flaky) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	f.calls++
	if f.down {
		return func(yield func(station.Document, error) bool) {
			yield(nil, station.Unavailable("query", errors.New("connection refused")))
		}
	}
	return f.Store.Query(ctx, coll, filters...)
}

func testConfig() breaker.Config {
	cfg := breaker.DefaultConfig("test-store")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Hour
	return cfg
}

func TestBreaker_TripsOnUnavailable(t *testing.T) {
	// GIVEN: A store that is down
	inner := &flaky{Store: memstore.NewMemory(), down: true}
	s := breaker.Wrap(inner, testConfig(), logging.Discard()).(*breaker.Store)
	ctx := context.Background()

	// WHEN: Three calls fail
	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, station.Tanks, "t")
		assert.ErrorIs(t, err, station.ErrStoreUnavailable)
	}

	// THEN: The breaker opens and fails fast without calling the backend
	assert.Equal(t, gobreaker.StateOpen, s.State())
	_, err := s.Get(ctx, station.Tanks, "t")
	assert.ErrorIs(t, err, station.ErrStoreUnavailable)
	assert.Equal(t, 3, inner.calls)
}

func TestBreaker_DomainErrorsPassThrough(t *testing.T) {
	// GIVEN: A healthy store
	inner := &flaky{Store: memstore.NewMemory()}
	s := breaker.Wrap(inner, testConfig(), logging.Discard()).(*breaker.Store)
	ctx := context.Background()

	// WHEN: Reads keep missing
	for i := 0; i < 5; i++ {
		_, err := s.Get(ctx, station.Tanks, "missing")
		assert.True(t, station.IsNotFound(err))
	}

	// THEN: Not-found is not a backend failure
	assert.Equal(t, gobreaker.StateClosed, s.State())
}

func TestBreaker_QueryCountsFailures(t *testing.T) {
	inner := &flaky{Store: memstore.NewMemory(), down: true}
	s := breaker.Wrap(inner, testConfig(), logging.Discard()).(*breaker.Store)

	for i := 0; i < 3; i++ {
		_, err := station.Collect(s.Query(context.Background(), station.Sales))
		assert.ErrorIs(t, err, station.ErrStoreUnavailable)
	}
	assert.Equal(t, gobreaker.StateOpen, s.State())
}

func TestWrap_KeepsTransactions(t *testing.T) {
	wrapped := breaker.Wrap(memstore.NewTxMemory(), testConfig(), logging.Discard())
	tx, ok := wrapped.(station.TxStore)
	require.True(t, ok, "transactional backends stay transactional")

	ctx := context.Background()
	err := tx.WithTx(ctx, func(s station.Store) error {
		_, err := s.Put(ctx, station.Tanks, "t", station.Document{"name": "Diesel"})
		return err
	})
	require.NoError(t, err)

	doc, err := wrapped.Get(ctx, station.Tanks, "t")
	require.NoError(t, err)
	assert.Equal(t, "Diesel", doc["name"])

	_, ok = breaker.Wrap(memstore.NewMemory(), testConfig(), logging.Discard()).(station.TxStore)
	assert.False(t, ok)
}
