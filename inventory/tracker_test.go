package inventory_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/inventory"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// newTestTracker returns a tracker over one petrol tank (5000 of 10000,
// minimum 1000) and one nozzle at 1000 drawing from it.
func newTestTracker(t *testing.T) *inventory.Tracker {
	t.Helper()
	tr := inventory.New(memstore.NewMemory(), func() time.Time { return fixedNow })
	ctx := context.Background()
	require.NoError(t, tr.AddFuelType(ctx, station.FuelType{ID: "petrol", Name: "Petrol", UnitPrice: d("250"), TaxPercentage: d("10"), Active: true}))
	require.NoError(t, tr.AddTank(ctx, station.Tank{
		ID: "tank-1", Name: "Petrol Tank", FuelTypeID: "petrol",
		Capacity: d("10000"), CurrentStock: d("5000"), MinimumStock: d("1000"),
	}))
	require.NoError(t, tr.AddNozzle(ctx, station.Nozzle{
		ID: "nozzle-1", MachineID: "M1", NozzleNumber: 1, FuelTypeID: "petrol",
		TankID: "tank-1", OpeningReading: d("1000"),
	}))
	return tr
}

// =============================================================================
// STOCK
// =============================================================================

func TestDebitStock(t *testing.T) {
	// GIVEN: 5000 litres in the tank
	tr := newTestTracker(t)
	ctx := context.Background()

	// WHEN: Dispensing 40 litres
	stock, err := tr.DebitStock(ctx, "tank-1", d("40"))

	// THEN: 4960 remain and the reading date is stamped
	require.NoError(t, err)
	assert.True(t, stock.Equal(d("4960")))
	tank, _ := tr.Tank(ctx, "tank-1")
	assert.True(t, tank.CurrentStock.Equal(d("4960")))
	require.NotNil(t, tank.LastReadingDate)
	assert.True(t, tank.LastReadingDate.Equal(fixedNow))
}

func TestDebitStock_Insufficient(t *testing.T) {
	// GIVEN: 5000 litres in the tank
	tr := newTestTracker(t)
	ctx := context.Background()

	// WHEN: Asking for more than the tank holds
	_, err := tr.DebitStock(ctx, "tank-1", d("5000.5"))

	// THEN: Rejected with both quantities, stock untouched
	var stockErr *station.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.True(t, stockErr.Available.Equal(d("5000")))
	assert.True(t, stockErr.Required.Equal(d("5000.5")))
	tank, _ := tr.Tank(ctx, "tank-1")
	assert.True(t, tank.CurrentStock.Equal(d("5000")))
}

func TestDebitStock_ExactlyEmpty(t *testing.T) {
	tr := newTestTracker(t)
	stock, err := tr.DebitStock(context.Background(), "tank-1", d("5000"))
	require.NoError(t, err)
	assert.True(t, stock.IsZero())
}

func TestCreditStock_CapacityExceeded(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.CreditStock(ctx, "tank-1", d("5001"))

	var capErr *station.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Incoming.Equal(d("5001")))

	stock, err := tr.CreditStock(ctx, "tank-1", d("5000"))
	require.NoError(t, err, "filling to exactly capacity is allowed")
	assert.True(t, stock.Equal(d("10000")))
}

func TestStock_NonPositiveQuantities(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.DebitStock(ctx, "tank-1", decimal.Zero)
	assert.ErrorIs(t, err, station.ErrInvalidAmount)
	_, err = tr.CreditStock(ctx, "tank-1", d("-5"))
	assert.ErrorIs(t, err, station.ErrInvalidAmount)
}

// =============================================================================
// NOZZLE READINGS
// =============================================================================

func TestRecordNozzleReading(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	qty, err := tr.RecordNozzleReading(ctx, "nozzle-1", d("1000"), d("1040"))

	require.NoError(t, err)
	assert.True(t, qty.Equal(d("40")))
	n, _ := tr.Nozzle(ctx, "nozzle-1")
	assert.True(t, n.ClosingReading.Equal(d("1040")))
	assert.True(t, n.CurrentReading.Equal(d("1040")))
	assert.True(t, n.OpeningReading.Equal(d("1000")), "opening reading is the nozzle's setup value")
}

func TestRecordNozzleReading_Rejections(t *testing.T) {
	tests := []struct {
		name             string
		opening, closing string
	}{
		{"closing equals opening", "1000", "1000"},
		{"closing below opening", "1040", "1000"},
		{"meter would go backwards", "900", "950"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker(t)
			ctx := context.Background()

			_, err := tr.RecordNozzleReading(ctx, "nozzle-1", d(tt.opening), d(tt.closing))

			assert.ErrorIs(t, err, station.ErrInvalidReading)
			n, _ := tr.Nozzle(ctx, "nozzle-1")
			assert.True(t, n.Reading().Equal(d("1000")), "meter untouched")
		})
	}
}

func TestRewindNozzle_OnlyFromCurrentReading(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.RecordNozzleReading(ctx, "nozzle-1", d("1000"), d("1040"))
	require.NoError(t, err)

	err = tr.RewindNozzle(ctx, "nozzle-1", d("1030"), d("1000"))
	assert.ErrorIs(t, err, station.ErrVoidNotAllowed)

	require.NoError(t, tr.RewindNozzle(ctx, "nozzle-1", d("1040"), d("1000")))
	n, _ := tr.Nozzle(ctx, "nozzle-1")
	assert.True(t, n.Reading().Equal(d("1000")))
}

// =============================================================================
// TANK RESOLUTION
// =============================================================================

func TestResolveTank(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	require.NoError(t, tr.AddTank(ctx, station.Tank{
		ID: "tank-0", FuelTypeID: "petrol", Capacity: d("100"), CurrentStock: d("50"),
	}))

	// Explicit tank wins.
	tank, err := tr.ResolveTank(ctx, station.Nozzle{ID: "n", FuelTypeID: "petrol", TankID: "tank-1"})
	require.NoError(t, err)
	assert.Equal(t, "tank-1", tank.ID)

	// Otherwise the first tank by id for the fuel type.
	tank, err = tr.ResolveTank(ctx, station.Nozzle{ID: "n", FuelTypeID: "petrol"})
	require.NoError(t, err)
	assert.Equal(t, "tank-0", tank.ID)

	_, err = tr.ResolveTank(ctx, station.Nozzle{ID: "n", FuelTypeID: "diesel"})
	assert.ErrorIs(t, err, station.ErrTankNotConfigured)

	_, err = tr.ResolveTank(ctx, station.Nozzle{ID: "n", FuelTypeID: "petrol", TankID: "gone"})
	assert.ErrorIs(t, err, station.ErrTankNotConfigured)
}

// =============================================================================
// REPORTS AND SETUP
// =============================================================================

func TestLowStockReport(t *testing.T) {
	// GIVEN: A tank drawn below its minimum
	tr := newTestTracker(t)
	ctx := context.Background()
	_, err := tr.DebitStock(ctx, "tank-1", d("4200"))
	require.NoError(t, err)

	// WHEN: Building the report
	lines, err := station.Collect(tr.LowStockReport(ctx))
	require.NoError(t, err)

	// THEN: One line with shortfall and percentage
	require.Len(t, lines, 1)
	assert.Equal(t, "tank-1", lines[0].TankID)
	assert.True(t, lines[0].Shortfall.Equal(d("200")))
	assert.True(t, lines[0].StockPercentage.Equal(d("8")))

	// Reading the report does not change stock.
	tank, _ := tr.Tank(ctx, "tank-1")
	assert.True(t, tank.CurrentStock.Equal(d("800")))
}

func TestAddTank_Validation(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	err := tr.AddTank(ctx, station.Tank{ID: "t", FuelTypeID: "petrol", Capacity: d("100"), CurrentStock: d("101")})
	assert.ErrorIs(t, err, station.ErrCapacityExceeded)

	err = tr.AddTank(ctx, station.Tank{ID: "t", FuelTypeID: "petrol"})
	assert.ErrorIs(t, err, station.ErrInvalidInput)

	err = tr.AddTank(ctx, station.Tank{ID: "t", FuelTypeID: "kerosene", Capacity: d("100")})
	assert.True(t, station.IsNotFound(err))
}

func TestAddNozzle_MeterStartsAtOpening(t *testing.T) {
	tr := newTestTracker(t)
	n, err := tr.Nozzle(context.Background(), "nozzle-1")
	require.NoError(t, err)
	assert.True(t, n.CurrentReading.Equal(d("1000")))
	assert.Equal(t, station.NozzleActive, n.Status)
}
