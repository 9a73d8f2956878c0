package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestLedger(t *testing.T) (*ledger.Ledger, station.Store) {
	t.Helper()
	s := memstore.NewMemory()
	l := ledger.New(s, func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) })
	ctx := context.Background()
	for _, h := range []station.AccountHead{
		{ID: "cash", Name: "Cash", Type: station.AccountAsset, OpeningBalance: d("1000")},
		{ID: "bank", Name: "Bank", Type: station.AccountAsset, OpeningBalance: d("5000")},
	} {
		_, err := l.CreateHead(ctx, h)
		require.NoError(t, err)
	}
	return l, s
}

// =============================================================================
// ACCOUNT HEADS
// =============================================================================

func TestCreateHead_UniqueNamePerType(t *testing.T) {
	// GIVEN: An active asset head named "Cash"
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// WHEN: Creating another asset head with the same name in another case
	_, err := l.CreateHead(ctx, station.AccountHead{Name: " cash ", Type: station.AccountAsset})

	// THEN: Rejected as a duplicate
	assert.ErrorIs(t, err, station.ErrDuplicateName)

	// Same name under another type is fine.
	head, err := l.CreateHead(ctx, station.AccountHead{Name: "Cash", Type: station.AccountLiability})
	require.NoError(t, err)
	assert.NotEmpty(t, head.ID, "ids are generated when missing")
	assert.True(t, head.Active)
}

func TestCreateHead_AfterDeactivation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.DeactivateHead(ctx, "cash"))
	_, err := l.CreateHead(ctx, station.AccountHead{ID: "cash-2", Name: "Cash", Type: station.AccountAsset})
	assert.NoError(t, err, "inactive heads do not reserve their name")

	bal, err := l.Balance(ctx, "cash")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1000")), "deactivation keeps the balance")
}

func TestCreateHead_Validation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.CreateHead(ctx, station.AccountHead{Name: "", Type: station.AccountAsset})
	assert.ErrorIs(t, err, station.ErrInvalidInput)
	_, err = l.CreateHead(ctx, station.AccountHead{Name: "Petty", Type: "Savings"})
	assert.ErrorIs(t, err, station.ErrInvalidInput)
}

// =============================================================================
// BALANCES
// =============================================================================

func TestBalance_StartsAtOpening(t *testing.T) {
	l, _ := newTestLedger(t)
	bal, err := l.Balance(context.Background(), "bank")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("5000")))
}

func TestPeek_ReadOnly(t *testing.T) {
	// GIVEN: A head with no balance record yet
	l, s := newTestLedger(t)
	ctx := context.Background()
	bank, err := l.Head(ctx, "bank")
	require.NoError(t, err)

	// WHEN: Peeking
	rec, err := l.Peek(ctx, bank)

	// THEN: The opening balance is returned and no record is created
	require.NoError(t, err)
	assert.True(t, rec.Balance.Equal(d("5000")))
	assert.Zero(t, rec.Version)
	_, err = s.Get(ctx, station.AccountBalances, "bank")
	assert.True(t, station.IsNotFound(err))

	// A moved head reads its running balance.
	_, err = l.Credit(ctx, "bank", d("250"))
	require.NoError(t, err)
	rec, err = l.Peek(ctx, bank)
	require.NoError(t, err)
	assert.True(t, rec.Balance.Equal(d("5250")))
	assert.Equal(t, int64(2), rec.Version)
}

func TestCreditDebit(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	bal, err := l.Credit(ctx, "cash", d("11000"))
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("12000")))

	bal, err = l.Debit(ctx, "cash", d("12500"))
	require.NoError(t, err, "balances may go negative")
	assert.True(t, bal.Equal(d("-500")))

	_, err = l.Credit(ctx, "cash", decimal.Zero)
	assert.ErrorIs(t, err, station.ErrInvalidAmount)
	_, err = l.Debit(ctx, "missing", d("1"))
	assert.True(t, station.IsNotFound(err))
}

func TestTransfer_ZeroSum(t *testing.T) {
	// GIVEN: Cash 1000, bank 5000
	l, _ := newTestLedger(t)
	ctx := context.Background()

	// WHEN: Moving 400 from cash to bank
	from, to, err := l.Transfer(ctx, "cash", "bank", d("400"))

	// THEN: The sum of both balances is unchanged
	require.NoError(t, err)
	assert.True(t, from.Equal(d("600")))
	assert.True(t, to.Equal(d("5400")))
	assert.True(t, from.Add(to).Equal(d("6000")))
}

func TestTransfer_SameAccount(t *testing.T) {
	l, _ := newTestLedger(t)
	_, _, err := l.Transfer(context.Background(), "cash", "cash", d("1"))
	assert.ErrorIs(t, err, station.ErrSameAccount)
}

// =============================================================================
// REPLAY AND VERIFY
// =============================================================================

func TestReplay_MatchesRunningBalance(t *testing.T) {
	// GIVEN: Facts recorded alongside their balance moves
	l, s := newTestLedger(t)
	ctx := context.Background()
	ts := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	facts := []struct {
		coll   station.Collection
		id     string
		record any
		move   func() error
	}{
		{station.Sales, "s1", station.Sale{ID: "s1", AccountHeadID: "cash", TotalAmount: d("11000"), Timestamp: ts},
			func() error { _, err := l.Credit(ctx, "cash", d("11000")); return err }},
		{station.Purchases, "p1", station.Purchase{ID: "p1", AccountHeadID: "bank", TotalCost: d("2400"), Timestamp: ts},
			func() error { _, err := l.Debit(ctx, "bank", d("2400")); return err }},
		{station.Expenses, "e1", station.Expense{ID: "e1", AccountHeadID: "cash", Amount: d("350"), Timestamp: ts},
			func() error { _, err := l.Debit(ctx, "cash", d("350")); return err }},
		{station.HeadToHeadMovements, "m1", station.HeadToHeadMovement{ID: "m1", FromAccountHeadID: "cash", ToAccountHeadID: "bank", Amount: d("5000"), Timestamp: ts},
			func() error { _, _, err := l.Transfer(ctx, "cash", "bank", d("5000")); return err }},
		{station.Payments, "pay1", station.Payment{ID: "pay1", CustomerID: "acme", AccountHeadID: "bank", Amount: d("700"), Timestamp: ts},
			func() error { _, err := l.Credit(ctx, "bank", d("700")); return err }},
	}
	for _, f := range facts {
		_, err := station.Insert(ctx, s, f.coll, f.id, f.record)
		require.NoError(t, err)
		require.NoError(t, f.move())
	}

	// WHEN: Replaying both heads
	cash, err := l.Replay(ctx, "cash")
	require.NoError(t, err)
	bank, err := l.Replay(ctx, "bank")
	require.NoError(t, err)

	// THEN: Replay equals the running balance
	assert.True(t, cash.Equal(d("6650")), cash.String())
	assert.True(t, bank.Equal(d("8300")), bank.String())

	report, err := l.Verify(ctx)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Checked)
}

func TestVerify_ReportsDrift(t *testing.T) {
	// GIVEN: A balance changed without a fact
	l, _ := newTestLedger(t)
	ctx := context.Background()
	_, err := l.Credit(ctx, "cash", d("250"))
	require.NoError(t, err)

	// WHEN: Verifying
	report, err := l.Verify(ctx)
	require.NoError(t, err)

	// THEN: The head is reported, and nothing is repaired
	require.Len(t, report.Drifts, 1)
	drift := report.Drifts[0]
	assert.Equal(t, "cash", drift.AccountHeadID)
	assert.True(t, drift.Recorded.Equal(d("1250")))
	assert.True(t, drift.Replayed.Equal(d("1000")))
	assert.True(t, drift.Difference.Equal(d("250")))

	bal, _ := l.Balance(ctx, "cash")
	assert.True(t, bal.Equal(d("1250")))
}

func TestWithStore_SharesClock(t *testing.T) {
	l, s := newTestLedger(t)
	scoped := l.WithStore(s)
	bal, err := scoped.Balance(context.Background(), "cash")
	require.NoError(t, err)
	assert.True(t, bal.Equal(d("1000")))
}
