// Package breaker wraps a station.Store with a circuit breaker so that a
// store that keeps failing is reported as unavailable immediately instead of
// making every terminal wait on timeouts.
package breaker

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/warp/station-engine/station"
)

// Config holds circuit breaker thresholds.
type Config struct {
	Name                  string
	MaxRequests           uint32        // requests allowed while half-open
	Interval              time.Duration // window after which counts reset (0 = never)
	Timeout               time.Duration // open -> half-open delay
	FailureThreshold      uint32        // consecutive failures that trip
	FailureRatioThreshold float64
	MinRequestsToTrip     uint32
}

// DefaultConfig returns the thresholds used for the record store.
func DefaultConfig(name string) Config {
	return Config{
		Name:                  name,
		MaxRequests:           5,
		Interval:              time.Minute,
		Timeout:               30 * time.Second,
		FailureThreshold:      5,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     10,
	}
}

// Store decorates a station.Store.
type Store struct {
	inner station.Store
	cb    *gobreaker.CircuitBreaker
	log   logrus.FieldLogger
}

// TxStore is Store for backends that support transactions.
type TxStore struct {
	*Store
	tx station.TxStore
}

// Wrap returns a *TxStore when inner supports transactions, else a *Store.
func Wrap(inner station.Store, cfg Config, log logrus.FieldLogger) station.Store {
	s := newStore(inner, cfg, log)
	if tx, ok := inner.(station.TxStore); ok {
		return &TxStore{Store: s, tx: tx}
	}
	return s
}

func newStore(inner station.Store, cfg Config, log logrus.FieldLogger) *Store {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= cfg.FailureThreshold {
				return true
			}
			if counts.Requests >= cfg.MinRequestsToTrip {
				ratio := float64(counts.TotalFailures) / float64(counts.Requests)
				return ratio >= cfg.FailureRatioThreshold
			}
			return false
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("store circuit breaker state changed")
		},
	}
	return &Store{inner: inner, cb: gobreaker.NewCircuitBreaker(settings), log: log}
}

// State returns the current breaker state.
func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

// execute runs fn through the breaker. Only ErrStoreUnavailable counts as
// a failure; every other error is handed back untouched and counts as a
// success for the breaker.
func (s *Store) execute(fn func() error) error {
	var passthrough error
	_, err := s.cb.Execute(func() (interface{}, error) {
		err := fn()
		if err != nil && !errors.Is(err, station.ErrStoreUnavailable) {
			passthrough = err
			return nil, nil
		}
		return nil, err
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return station.Unavailable("circuit breaker "+s.cb.Name(), err)
	}
	if err != nil {
		return err
	}
	return passthrough
}

func (s *Store) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	var doc station.Document
	err := s.execute(func() (err error) {
		doc, err = s.inner.Get(ctx, coll, id)
		return err
	})
	return doc, err
}

func (s *Store) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	var v int64
	err := s.execute(func() (err error) {
		v, err = s.inner.Create(ctx, coll, id, doc)
		return err
	})
	return v, err
}

func (s *Store) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	var v int64
	err := s.execute(func() (err error) {
		v, err = s.inner.Put(ctx, coll, id, doc)
		return err
	})
	return v, err
}

func (s *Store) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	var v int64
	err := s.execute(func() (err error) {
		v, err = s.inner.Update(ctx, coll, id, partial, ifVersion)
		return err
	})
	return v, err
}

func (s *Store) Delete(ctx context.Context, coll station.Collection, id string) error {
	return s.execute(func() error {
		return s.inner.Delete(ctx, coll, id)
	})
}

// Query drains the inner sequence inside the breaker, then yields.
func (s *Store) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return func(yield func(station.Document, error) bool) {
		var docs []station.Document
		err := s.execute(func() error {
			var err error
			docs, err = station.Collect(s.inner.Query(ctx, coll, filters...))
			return err
		})
		if err != nil {
			yield(nil, err)
			return
		}
		for _, d := range docs {
			if !yield(d, nil) {
				return
			}
		}
	}
}

// WithTx runs the whole transaction as one breaker call. The Store handed
// to fn is the backend's own transactional view.
func (t *TxStore) WithTx(ctx context.Context, fn func(station.Store) error) error {
	return t.execute(func() error {
		return t.tx.WithTx(ctx, fn)
	})
}
