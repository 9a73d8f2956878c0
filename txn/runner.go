/*
runner.go - Unit of work over a station.Store

PURPOSE:
  Every multi-record operation (a sale touches a tank, a nozzle, a balance
  and the sales collection) runs through Runner.Run, which makes it
  all-or-nothing and serializes it against other operations on the same
  keys.

STEPS PER ATTEMPT:
  1. Acquire the locks for every key (sorted, with timeout).
  2. If the store is a station.TxStore, run fn inside WithTx.
     Otherwise run fn against a journal that remembers the first version of
     every document it overwrites and restores them in reverse order when
     fn fails (compensating writes).
  3. Release the locks.

RETRIES:
  An attempt that fails with station.ErrConflictRetry is retried up to
  Retries times with linear backoff. Precondition errors are returned
  immediately. An attempt whose compensation could not restore every
  document fails with ErrStoreUnavailable and is never retried.

SEE ALSO:
  - journal.go: compensation log
  - lock/lock.go: key locking
*/
package txn

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/metrics"
	"github.com/warp/station-engine/station"
)

// Func is one unit of work. All reads and writes must go through s.
type Func func(ctx context.Context, s station.Store) error

type Runner struct {
	store   station.Store
	locker  lock.Locker
	log     logrus.FieldLogger
	metrics *metrics.Metrics
	retries int
	backoff time.Duration
}

type Option func(*Runner)

// WithRetries sets how many times a conflicting unit is retried.
func WithRetries(n int) Option {
	return func(r *Runner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(r *Runner) { r.backoff = d }
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// New returns a Runner. A nil locker means an in-process keyed locker.
func New(store station.Store, locker lock.Locker, opts ...Option) *Runner {
	if locker == nil {
		locker = lock.NewKeyed(0)
	}
	r := &Runner{
		store:   store,
		locker:  locker,
		log:     logging.Discard(),
		retries: 3,
		backoff: 20 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the store units run against.
func (r *Runner) Store() station.Store {
	return r.store
}

// Transactional reports whether units run inside store transactions
// rather than compensating writes.
func (r *Runner) Transactional() bool {
	_, ok := r.store.(station.TxStore)
	return ok
}

// Run executes fn as one unit of work holding keys.
func (r *Runner) Run(ctx context.Context, kind string, keys []string, fn Func) error {
	start := time.Now()
	err := r.run(ctx, kind, keys, fn)
	r.metrics.ObserveTransaction(kind, err, time.Since(start))
	return err
}

func (r *Runner) run(ctx context.Context, kind string, keys []string, fn Func) error {
	for attempt := 0; ; attempt++ {
		err := r.attempt(ctx, kind, keys, fn)
		if !station.IsRetryable(err) || attempt >= r.retries {
			return err
		}
		r.metrics.ObserveRetry(kind)
		r.log.WithFields(logrus.Fields{
			"kind":    kind,
			"attempt": attempt + 1,
		}).WithError(err).Debug("retrying unit of work")

		select {
		case <-time.After(r.backoff * time.Duration(attempt+1)):
		case <-ctx.Done():
			return err
		}
	}
}

func (r *Runner) attempt(ctx context.Context, kind string, keys []string, fn Func) error {
	release, err := r.locker.Acquire(ctx, keys...)
	if err != nil {
		return err
	}
	defer release()

	if tx, ok := r.store.(station.TxStore); ok {
		return tx.WithTx(ctx, func(s station.Store) error {
			return fn(ctx, s)
		})
	}

	j := newJournal(r.store)
	if err := fn(ctx, j); err != nil {
		cerr := j.rollback(context.WithoutCancel(ctx))
		r.metrics.ObserveCompensation(kind, cerr)
		if cerr != nil {
			logging.LogError(r.log, "txn", "attempt", "compensation incomplete", kind, cerr)
			// Partly restored state must not be retried on; the cause is
			// formatted, not wrapped, so a conflict does not read as retryable.
			return station.Unavailable("compensate "+kind, errors.Join(err, cerr))
		}
		return err
	}
	return nil
}
