package ledger

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/station"
)

// =============================================================================
// REPLAY - recompute balances from facts
// =============================================================================

// Replay recomputes a head's balance from its opening balance and every
// persisted fact that touches it.
func (l *Ledger) Replay(ctx context.Context, headID string) (decimal.Decimal, error) {
	head, err := l.Head(ctx, headID)
	if err != nil {
		return decimal.Zero, err
	}
	bal := head.OpeningBalance

	for s, err := range station.Select[station.Sale](ctx, l.store, station.Sales,
		station.Eq("account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Add(s.TotalAmount)
	}
	for p, err := range station.Select[station.Purchase](ctx, l.store, station.Purchases,
		station.Eq("account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Sub(p.TotalCost)
	}
	for e, err := range station.Select[station.Expense](ctx, l.store, station.Expenses,
		station.Eq("account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Sub(e.Amount)
	}
	for m, err := range station.Select[station.HeadToHeadMovement](ctx, l.store, station.HeadToHeadMovements,
		station.Eq("from_account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Sub(m.Amount)
	}
	for m, err := range station.Select[station.HeadToHeadMovement](ctx, l.store, station.HeadToHeadMovements,
		station.Eq("to_account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Add(m.Amount)
	}
	for p, err := range station.Select[station.Payment](ctx, l.store, station.Payments,
		station.Eq("account_head_id", headID)) {
		if err != nil {
			return decimal.Zero, err
		}
		bal = bal.Add(p.Amount)
	}
	return bal, nil
}

// Drift is a head whose running balance disagrees with its replay.
type Drift struct {
	AccountHeadID string          `json:"account_head_id"`
	Name          string          `json:"name"`
	Recorded      decimal.Decimal `json:"recorded"`
	Replayed      decimal.Decimal `json:"replayed"`
	Difference    decimal.Decimal `json:"difference"`
}

// VerifyReport is the outcome of checking every head.
type VerifyReport struct {
	Checked int     `json:"checked"`
	Drifts  []Drift `json:"drifts"`
}

// OK reports whether no head drifted.
func (r VerifyReport) OK() bool { return len(r.Drifts) == 0 }

// Verify compares every head's running balance with its replay. It only
// reads: a head without a balance record is compared at its opening balance.
func (l *Ledger) Verify(ctx context.Context) (VerifyReport, error) {
	var report VerifyReport
	for head, err := range l.Heads(ctx) {
		if err != nil {
			return report, err
		}
		rec, err := l.Peek(ctx, head)
		if err != nil {
			return report, err
		}
		recorded := rec.Balance

		replayed, err := l.Replay(ctx, head.ID)
		if err != nil {
			return report, err
		}
		report.Checked++
		if !recorded.Equal(replayed) {
			report.Drifts = append(report.Drifts, Drift{
				AccountHeadID: head.ID,
				Name:          head.Name,
				Recorded:      recorded,
				Replayed:      replayed,
				Difference:    recorded.Sub(replayed),
			})
		}
	}
	return report, nil
}
