package processor_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/processor"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
)

// =============================================================================
// VOID SALE
// =============================================================================

func TestVoidSale_RestoresEverything(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			// GIVEN: A credit sale of 40L
			p := newProcessor(t, mode.newStore())
			ctx := context.Background()
			sale, err := p.RecordSale(ctx, processor.SaleRequest{
				NozzleID: "nozzle-1", Quantity: d("40"), AccountHeadID: "fuel-sales",
				PaymentMethod: station.PaymentCredit, CustomerID: "acme",
			})
			require.NoError(t, err)

			// WHEN: Voiding it
			require.NoError(t, p.VoidSale(ctx, sale.ID))

			// THEN: Stock, meter, balance and customer debt are back where they were
			assertDec(t, "5000", stock(t, p, "tank-petrol"))
			assertDec(t, "1000", meter(t, p, "nozzle-1"))
			assertDec(t, "0", balance(t, p, "fuel-sales"))
			c, err := p.Credit().Customer(ctx, "acme")
			require.NoError(t, err)
			assert.True(t, c.OutstandingBalance.IsZero())
			_, err = p.Sale(ctx, sale.ID)
			assert.True(t, station.IsNotFound(err))
			assertReplayConsistent(t, p)
		})
	}
}

func TestVoidSale_OnlyLatestOnNozzle(t *testing.T) {
	// GIVEN: Two sales on the same nozzle
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	first, err := p.RecordSale(ctx, processor.SaleRequest{NozzleID: "nozzle-1", Quantity: d("10"), AccountHeadID: "cash"})
	require.NoError(t, err)
	_, err = p.RecordSale(ctx, processor.SaleRequest{NozzleID: "nozzle-1", Quantity: d("5"), AccountHeadID: "cash"})
	require.NoError(t, err)

	// WHEN: Voiding the older one
	err = p.VoidSale(ctx, first.ID)

	// THEN: Refused and nothing moved
	assert.ErrorIs(t, err, station.ErrVoidNotAllowed)
	assertDec(t, "4985", stock(t, p, "tank-petrol"))
	assertDec(t, "1015", meter(t, p, "nozzle-1"))
	_, err = p.Sale(ctx, first.ID)
	assert.NoError(t, err)
}

func TestVoidSale_ClosedShiftIsFrozen(t *testing.T) {
	s := memstore.NewTxMemory()
	p := newProcessor(t, s)
	ctx := context.Background()
	_, err := station.Save(ctx, s, station.Shifts, "shift-1", station.Shift{
		ID: "shift-1", OperatorID: "op-1", Status: station.ShiftOpen, OpenedAt: day,
	})
	require.NoError(t, err)
	sale, err := p.RecordSale(ctx, processor.SaleRequest{NozzleID: "nozzle-1", Quantity: d("10"), AccountHeadID: "cash", ShiftID: "shift-1"})
	require.NoError(t, err)

	doc, err := s.Get(ctx, station.Shifts, "shift-1")
	require.NoError(t, err)
	_, err = s.Update(ctx, station.Shifts, "shift-1", station.Document{"status": string(station.ShiftClosed)}, doc.Version())
	require.NoError(t, err)

	err = p.VoidSale(ctx, sale.ID)
	assert.ErrorIs(t, err, station.ErrShiftAlreadyClosed)
	assertDec(t, "4990", stock(t, p, "tank-petrol"))
}

func TestVoidSale_Unknown(t *testing.T) {
	p := newProcessor(t, memstore.NewTxMemory())
	err := p.VoidSale(context.Background(), "nope")
	assert.True(t, station.IsNotFound(err))
}

// =============================================================================
// PURCHASE CORRECTIONS
// =============================================================================

func TestCorrectPurchase_SameIDNewFigures(t *testing.T) {
	for _, mode := range modes {
		t.Run(mode.name, func(t *testing.T) {
			// GIVEN: 1000L bought at 200 from the bank
			p := newProcessor(t, mode.newStore())
			ctx := context.Background()
			ts := day.Add(8 * time.Hour)
			orig, err := p.RecordPurchase(ctx, processor.PurchaseRequest{TankID: "tank-petrol", Quantity: d("1000"),
				UnitCost: d("200"), AccountHeadID: "bank", Timestamp: ts})
			require.NoError(t, err)
			assertDec(t, "6000", stock(t, p, "tank-petrol"))
			assertDec(t, "-190000", balance(t, p, "bank"))

			// WHEN: The delivery note said 500L
			fixed, err := p.CorrectPurchase(ctx, orig.ID, processor.PurchaseRequest{TankID: "tank-petrol", Quantity: d("500"),
				UnitCost: d("200"), AccountHeadID: "bank", InvoiceNumber: "INV-7"})

			// THEN: Same id and time, stock and bank reflect only the new figures
			require.NoError(t, err)
			assert.Equal(t, orig.ID, fixed.ID)
			assert.True(t, fixed.Timestamp.Equal(ts))
			assertDec(t, "5500", stock(t, p, "tank-petrol"))
			assertDec(t, "-90000", balance(t, p, "bank"))
			stored, err := p.Purchase(ctx, orig.ID)
			require.NoError(t, err)
			assert.Equal(t, "INV-7", stored.InvoiceNumber)
			assertReplayConsistent(t, p)
		})
	}
}

func TestCorrectPurchase_OverCapacityKeepsOriginal(t *testing.T) {
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	orig, err := p.RecordPurchase(ctx, processor.PurchaseRequest{TankID: "tank-small", Quantity: d("100"),
		UnitCost: d("200"), AccountHeadID: "bank"})
	require.NoError(t, err)

	_, err = p.CorrectPurchase(ctx, orig.ID, processor.PurchaseRequest{TankID: "tank-small", Quantity: d("2000"),
		UnitCost: d("200"), AccountHeadID: "bank"})

	assert.ErrorIs(t, err, station.ErrCapacityExceeded)
	assertDec(t, "150", stock(t, p, "tank-small"))
	stored, err := p.Purchase(ctx, orig.ID)
	require.NoError(t, err)
	assertDec(t, "100", stored.Quantity)
}

// rebookOnRead hands out a purchase and then moves it to another head, as a
// concurrent correction landing between the first read and the lock would.
type rebookOnRead struct {
	station.Store
	purchaseID string
	toHead     string
}

func (r *rebookOnRead) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	doc, err := r.Store.Get(ctx, coll, id)
	if err != nil || coll != station.Purchases || id != r.purchaseID {
		return doc, err
	}
	r.purchaseID = ""
	if _, err := r.Store.Update(ctx, coll, id, station.Document{"account_head_id": r.toHead}, 0); err != nil {
		return nil, err
	}
	return doc, nil
}

func TestCorrectPurchase_RebookedBeforeLockConflicts(t *testing.T) {
	// GIVEN: A bank-paid purchase that is rebooked to cash right after it is read
	s := &rebookOnRead{Store: memstore.NewMemory(), toHead: "cash"}
	p := newProcessor(t, s)
	ctx := context.Background()
	orig, err := p.RecordPurchase(ctx, processor.PurchaseRequest{TankID: "tank-petrol", Quantity: d("1000"),
		UnitCost: d("200"), AccountHeadID: "bank"})
	require.NoError(t, err)
	s.purchaseID = orig.ID

	// WHEN: Correcting it against the bank
	_, err = p.CorrectPurchase(ctx, orig.ID, processor.PurchaseRequest{TankID: "tank-petrol", Quantity: d("500"),
		UnitCost: d("200"), AccountHeadID: "bank"})

	// THEN: The unlocked cash head is never touched
	assert.ErrorIs(t, err, station.ErrConflictRetry)
	assertDec(t, "6000", stock(t, p, "tank-petrol"))
	assertDec(t, "-190000", balance(t, p, "bank"))
	assertDec(t, "0", balance(t, p, "cash"))
	stored, err := p.Purchase(ctx, orig.ID)
	require.NoError(t, err)
	assertDec(t, "1000", stored.Quantity)
}

func TestDeletePurchase(t *testing.T) {
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	purchase, err := p.RecordPurchase(ctx, processor.PurchaseRequest{TankID: "tank-small", Quantity: d("100"),
		UnitCost: d("200"), AccountHeadID: "bank"})
	require.NoError(t, err)

	require.NoError(t, p.DeletePurchase(ctx, purchase.ID))

	assertDec(t, "50", stock(t, p, "tank-small"))
	assertDec(t, "10000", balance(t, p, "bank"))
	_, err = p.Purchase(ctx, purchase.ID)
	assert.True(t, station.IsNotFound(err))
}

func TestDeletePurchase_StockAlreadySold(t *testing.T) {
	// GIVEN: A delivery whose litres were then sold
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	purchase, err := p.RecordPurchase(ctx, processor.PurchaseRequest{TankID: "tank-small", Quantity: d("100"),
		UnitCost: d("200"), AccountHeadID: "bank"})
	require.NoError(t, err)
	_, err = p.RecordSale(ctx, processor.SaleRequest{NozzleID: "nozzle-k", Quantity: d("120"), AccountHeadID: "cash"})
	require.NoError(t, err)

	// WHEN: Deleting the delivery
	err = p.DeletePurchase(ctx, purchase.ID)

	// THEN: The tank cannot give back 100L it no longer has
	assert.ErrorIs(t, err, station.ErrInsufficientStock)
	assertDec(t, "30", stock(t, p, "tank-small"))
	assertDec(t, "-10000", balance(t, p, "bank"))
}

// =============================================================================
// EXPENSE AND TRANSFER CORRECTIONS
// =============================================================================

func TestCorrectExpense_MovesBetweenHeads(t *testing.T) {
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	e, err := p.RecordExpense(ctx, processor.ExpenseRequest{Amount: d("300"), AccountHeadID: "cash", Category: "repairs"})
	require.NoError(t, err)

	fixed, err := p.CorrectExpense(ctx, e.ID, processor.ExpenseRequest{Amount: d("450"), AccountHeadID: "bank", Category: "repairs"})

	require.NoError(t, err)
	assert.Equal(t, e.ID, fixed.ID)
	assertDec(t, "0", balance(t, p, "cash"))
	assertDec(t, "9550", balance(t, p, "bank"))
	assertReplayConsistent(t, p)
}

func TestDeleteExpense(t *testing.T) {
	p := newProcessor(t, memstore.NewMemory())
	ctx := context.Background()
	e, err := p.RecordExpense(ctx, processor.ExpenseRequest{Amount: d("120.50"), AccountHeadID: "bank"})
	require.NoError(t, err)
	assertDec(t, "9879.5", balance(t, p, "bank"))

	require.NoError(t, p.DeleteExpense(ctx, e.ID))

	assertDec(t, "10000", balance(t, p, "bank"))
	_, err = p.Expense(ctx, e.ID)
	assert.True(t, station.IsNotFound(err))
}

func TestDeleteTransfer(t *testing.T) {
	p := newProcessor(t, memstore.NewTxMemory())
	ctx := context.Background()
	m, err := p.RecordTransfer(ctx, processor.TransferRequest{FromAccountHeadID: "bank", ToAccountHeadID: "cash", Amount: d("2000")})
	require.NoError(t, err)

	require.NoError(t, p.DeleteTransfer(ctx, m.ID))

	assertDec(t, "0", balance(t, p, "cash"))
	assertDec(t, "10000", balance(t, p, "bank"))
	_, err = p.Transfer(ctx, m.ID)
	assert.True(t, station.IsNotFound(err))
	assertReplayConsistent(t, p)
}
