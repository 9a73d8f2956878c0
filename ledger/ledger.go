/*
Package ledger keeps the running balance of every account head.

PURPOSE:
  AccountBalance records are the authoritative balances. Credit and Debit
  move them with a compare-and-swap; Replay recomputes a balance from the
  persisted sales, purchases, expenses, movements and payments so Verify
  can prove the running balance has not drifted.

LAZY INITIALISATION:
  The first read or write of a head with no AccountBalance record creates
  it from AccountHead.opening_balance. Creation uses Store.Create, so two
  racing initialisations cannot reset a balance already moved.

BALANCE RULE:
  balance = opening_balance + Σcredits − Σdebits
  credits: sales (account_head_id), incoming movements, payments
  debits:  purchases, expenses, outgoing movements

SEE ALSO:
  - replay.go: Replay and Verify
  - processor: the only caller of Credit/Debit in production paths
*/
package ledger

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/station"
)

// Ledger reads and moves account balances.
type Ledger struct {
	store station.Store
	now   func() time.Time
}

// New returns a Ledger. now defaults to time.Now in UTC.
func New(store station.Store, now func() time.Time) *Ledger {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Ledger{store: store, now: now}
}

// WithStore returns a copy of the ledger operating on s.
func (l *Ledger) WithStore(s station.Store) *Ledger {
	cp := *l
	cp.store = s
	return &cp
}

// =============================================================================
// ACCOUNT HEADS
// =============================================================================

func (l *Ledger) Head(ctx context.Context, id string) (station.AccountHead, error) {
	return station.Load[station.AccountHead](ctx, l.store, station.AccountHeads, id)
}

// Heads streams all account heads ordered by id.
func (l *Ledger) Heads(ctx context.Context) iter.Seq2[station.AccountHead, error] {
	return station.Select[station.AccountHead](ctx, l.store, station.AccountHeads)
}

// CreateHead validates and stores a new active account head. Names are
// unique (case-insensitive) among active heads of the same type.
func (l *Ledger) CreateHead(ctx context.Context, head station.AccountHead) (station.AccountHead, error) {
	head.Name = strings.TrimSpace(head.Name)
	if head.Name == "" {
		return head, fmt.Errorf("%w: account head name is required", station.ErrInvalidInput)
	}
	if !head.Type.Valid() {
		return head, fmt.Errorf("%w: unknown account type %q", station.ErrInvalidInput, head.Type)
	}

	for other, err := range station.Select[station.AccountHead](ctx, l.store, station.AccountHeads,
		station.Eq("type", head.Type), station.Eq("active", true)) {
		if err != nil {
			return head, err
		}
		if strings.EqualFold(other.Name, head.Name) && other.ID != head.ID {
			return head, fmt.Errorf("%w: %s %q", station.ErrDuplicateName, head.Type, head.Name)
		}
	}

	if head.ID == "" {
		head.ID = uuid.NewString()
	}
	head.Active = true
	if head.CreatedAt.IsZero() {
		head.CreatedAt = l.now()
	}
	v, err := station.Insert(ctx, l.store, station.AccountHeads, head.ID, head)
	if err != nil {
		return head, err
	}
	head.Version = v
	return head, nil
}

// DeactivateHead hides a head from name uniqueness; its balance is kept.
func (l *Ledger) DeactivateHead(ctx context.Context, id string) error {
	head, err := l.Head(ctx, id)
	if err != nil {
		return err
	}
	_, err = l.store.Update(ctx, station.AccountHeads, id,
		station.Partial(map[string]any{"active": false}), head.Version)
	return err
}

// =============================================================================
// BALANCES
// =============================================================================

// Balance returns the current balance of a head.
func (l *Ledger) Balance(ctx context.Context, headID string) (decimal.Decimal, error) {
	rec, err := l.ensure(ctx, headID)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.Balance, nil
}

// Peek returns the balance record without creating one; a head that has
// never moved reads as its opening balance with version 0.
func (l *Ledger) Peek(ctx context.Context, head station.AccountHead) (station.AccountBalance, error) {
	rec, err := station.Load[station.AccountBalance](ctx, l.store, station.AccountBalances, head.ID)
	if station.IsNotFound(err) {
		return station.AccountBalance{AccountHeadID: head.ID, Balance: head.OpeningBalance}, nil
	}
	return rec, err
}

// Credit adds amount to the head and returns the new balance.
func (l *Ledger) Credit(ctx context.Context, headID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.move(ctx, headID, amount, false)
}

// Debit subtracts amount from the head and returns the new balance.
// Balances may go negative; an overdrawn cash head is a finding for the
// reconciliation, not a reason to refuse the fact.
func (l *Ledger) Debit(ctx context.Context, headID string, amount decimal.Decimal) (decimal.Decimal, error) {
	return l.move(ctx, headID, amount, true)
}

// Transfer debits from and credits to by amount and returns both new
// balances. Callers run it inside a unit of work so both sides commit or
// neither does.
func (l *Ledger) Transfer(ctx context.Context, from, to string, amount decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	if from == to {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: %s", station.ErrSameAccount, from)
	}
	fromBal, err := l.Debit(ctx, from, amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	toBal, err := l.Credit(ctx, to, amount)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return fromBal, toBal, nil
}

func (l *Ledger) move(ctx context.Context, headID string, amount decimal.Decimal, debit bool) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", station.ErrInvalidAmount, amount)
	}
	rec, err := l.ensure(ctx, headID)
	if err != nil {
		return decimal.Zero, err
	}
	next := rec.Balance.Add(amount)
	if debit {
		next = rec.Balance.Sub(amount)
	}
	_, err = l.store.Update(ctx, station.AccountBalances, headID, station.Partial(map[string]any{
		"balance":      next,
		"last_updated": l.now(),
	}), rec.Version)
	if err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// ensure loads the balance record, creating it from the head's opening
// balance on first use.
func (l *Ledger) ensure(ctx context.Context, headID string) (station.AccountBalance, error) {
	rec, err := station.Load[station.AccountBalance](ctx, l.store, station.AccountBalances, headID)
	if err == nil || !station.IsNotFound(err) {
		return rec, err
	}

	head, err := l.Head(ctx, headID)
	if err != nil {
		return rec, err
	}
	rec = station.AccountBalance{
		AccountHeadID: headID,
		Balance:       head.OpeningBalance,
		LastUpdated:   l.now(),
	}
	v, err := station.Insert(ctx, l.store, station.AccountBalances, headID, rec)
	if err != nil {
		return rec, err
	}
	rec.Version = v
	return rec, nil
}
