/*
scheduler.go - Periodic balance and stock audit

PURPOSE:
  Periodically replays every account head against its running balance
  (ledger.Verify) and counts tanks under minimum stock. Results go to the
  log and to the balance_drift_accounts / low_stock_tanks gauges. The
  audit only reads; it never repairs a drifted balance.

DESIGN:
  - Runs a background goroutine with a configurable interval
  - Runs once immediately on Start
  - Each run is bounded by the interval so a slow store cannot pile up runs

USAGE:
  audit := NewAuditScheduler(handler, 5*time.Minute)
  audit.Start()
  // ... later
  audit.Stop()

SEE ALSO:
  - ledger/replay.go: Replay and Verify
  - handlers.go: AuditBalances (on-demand audit)
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/logging"
)

// AuditScheduler runs balance and stock audits on an interval.
type AuditScheduler struct {
	Handler  *Handler
	Interval time.Duration

	stop chan struct{}
	wg   sync.WaitGroup
	mu   sync.Mutex
}

// AuditResult is the outcome of one audit run.
type AuditResult struct {
	Balances ledger.VerifyReport
	LowStock int
}

func NewAuditScheduler(h *Handler, interval time.Duration) *AuditScheduler {
	return &AuditScheduler{Handler: h, Interval: interval}
}

// Start begins the scheduler. A non-positive interval disables it.
func (a *AuditScheduler) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	log := a.Handler.Log.WithField("module", "audit")
	if a.Interval <= 0 {
		log.Info("balance audit disabled")
		return
	}
	if a.stop != nil {
		return
	}
	a.stop = make(chan struct{})
	a.wg.Add(1)
	go a.run(a.stop)
	log.WithField("interval", a.Interval.String()).Info("balance audit started")
}

// Stop stops the scheduler and waits for a running audit to finish.
func (a *AuditScheduler) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stop == nil {
		return
	}
	close(a.stop)
	a.wg.Wait()
	a.stop = nil
	a.Handler.Log.WithField("module", "audit").Info("balance audit stopped")
}

func (a *AuditScheduler) run(stop <-chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	a.runOnce()
	for {
		select {
		case <-ticker.C:
			a.runOnce()
		case <-stop:
			return
		}
	}
}

func (a *AuditScheduler) runOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), a.Interval)
	defer cancel()
	a.Audit(ctx)
}

// Audit runs one audit now and publishes the result.
func (a *AuditScheduler) Audit(ctx context.Context) (AuditResult, error) {
	h := a.Handler
	log := h.Log.WithField("module", "audit")

	report, err := h.ledger().Verify(ctx)
	if err != nil {
		logging.LogError(log, "api", "Audit", "balance verification failed", nil, err)
		return AuditResult{}, err
	}
	low := 0
	for _, err := range h.inventory().LowStockReport(ctx) {
		if err != nil {
			logging.LogError(log, "api", "Audit", "low-stock report failed", nil, err)
			return AuditResult{}, err
		}
		low++
	}

	h.Metrics.SetAudit(len(report.Drifts), low)
	for _, d := range report.Drifts {
		log.WithFields(logrus.Fields{
			"account_head_id": d.AccountHeadID,
			"recorded":        d.Recorded.String(),
			"replayed":        d.Replayed.String(),
			"difference":      d.Difference.String(),
		}).Error("account balance drifted from replay")
	}
	log.WithFields(logrus.Fields{
		"checked":   report.Checked,
		"drifted":   len(report.Drifts),
		"low_stock": low,
	}).Info("audit complete")
	return AuditResult{Balances: report, LowStock: low}, nil
}
