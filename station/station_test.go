package station_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/station"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// CODEC
// =============================================================================

func TestEncode_DecimalsAndTimesAreStrings(t *testing.T) {
	// GIVEN: A sale with decimal amounts and a timestamp
	ts := time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)
	sale := station.Sale{ID: "s1", Quantity: dec("40.5"), TotalAmount: dec("11137.50"), Timestamp: ts}

	// WHEN: Encoding it
	doc, err := station.Encode(sale)
	require.NoError(t, err)

	// THEN: Persisted field names and scalar shapes are stable
	assert.Equal(t, "s1", doc["id"])
	assert.Equal(t, "40.5", doc["quantity"])
	assert.Equal(t, "11137.5", doc["total_amount"])
	assert.Equal(t, "2025-03-10T14:30:00Z", doc["timestamp"])
	assert.NotContains(t, doc, "customer_id", "empty optional fields are omitted")
}

func TestDecode_ToleratesBackendShapes(t *testing.T) {
	// GIVEN: A document as different backends hand it back
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := station.Document{
		"id":                "tank-1",
		"capacity":          float64(10000),
		"current_stock":     int32(2500),
		"minimum_stock":     "1000.25",
		"last_reading_date": ts,
		"_version":          int64(4),
	}

	// WHEN: Decoding into a tank
	var tank station.Tank
	require.NoError(t, station.Decode(doc, &tank))

	// THEN: Every shape converts
	assert.Equal(t, "tank-1", tank.ID)
	assert.True(t, tank.Capacity.Equal(dec("10000")))
	assert.True(t, tank.CurrentStock.Equal(dec("2500")))
	assert.True(t, tank.MinimumStock.Equal(dec("1000.25")))
	require.NotNil(t, tank.LastReadingDate)
	assert.True(t, tank.LastReadingDate.Equal(ts))
	assert.Equal(t, int64(4), tank.Version)
}

func TestPartial_EncodesLikeEncode(t *testing.T) {
	ts := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	doc := station.Partial(map[string]any{
		"balance":      dec("12.30"),
		"last_updated": ts,
		"status":       station.ShiftClosed,
		"closed_at":    (*time.Time)(nil),
	})

	assert.Equal(t, "12.3", doc["balance"])
	assert.Equal(t, "2025-05-01T00:00:00Z", doc["last_updated"])
	assert.Equal(t, "closed", doc["status"])
	assert.Nil(t, doc["closed_at"])
}

func TestDocumentVersion(t *testing.T) {
	tests := []struct {
		value any
		want  int64
	}{
		{int64(3), 3},
		{int(7), 7},
		{int32(2), 2},
		{float64(9), 9},
		{"11", 11},
		{nil, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%T", tt.value), func(t *testing.T) {
			doc := station.Document{station.VersionField: tt.value}
			assert.Equal(t, tt.want, doc.Version())
		})
	}
}

// =============================================================================
// FILTERS
// =============================================================================

func TestFilter_Match(t *testing.T) {
	doc := station.Document{
		"account_head_id": "cash",
		"payment_method":  "credit",
		"active":          true,
		"amount":          "250.50",
		"timestamp":       "2025-03-10T10:00:00Z",
	}
	march10 := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		filter station.Filter
		want   bool
	}{
		{"string equality", station.Eq("account_head_id", "cash"), true},
		{"named string type", station.Eq("payment_method", station.PaymentCredit), true},
		{"string mismatch", station.Eq("account_head_id", "bank"), false},
		{"bool equality", station.Eq("active", true), true},
		{"decimal greater", station.Where("amount", station.OpGt, dec("250")), true},
		{"decimal less-equal", station.Where("amount", station.OpLte, 250), false},
		{"time on or after", station.Where("timestamp", station.OpGte, march10), true},
		{"time before", station.Where("timestamp", station.OpLt, march10), false},
		{"missing field not equal", station.Where("customer_id", station.OpNe, "acme"), true},
		{"missing field equal", station.Eq("customer_id", "acme"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Match(doc))
		})
	}
}

func TestFilter_EqualityValue(t *testing.T) {
	v, ok := station.Eq("status", station.ShiftOpen).EqualityValue()
	assert.True(t, ok)
	assert.Equal(t, "open", v)

	_, ok = station.Where("amount", station.OpGt, 1).EqualityValue()
	assert.False(t, ok)
	_, ok = station.Eq("amount", dec("1")).EqualityValue()
	assert.False(t, ok, "decimals are matched in memory, not pushed down")
}

// =============================================================================
// PERIODS
// =============================================================================

func TestDayPeriod_UsesLocation(t *testing.T) {
	// GIVEN: The station runs on UTC+5
	loc := time.FixedZone("PKT", 5*60*60)

	// WHEN: Asking for the day of 2025-03-10 21:00 UTC (02:00 local, next day)
	p := station.DayPeriod(time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC), loc)

	// THEN: The period is the local calendar day
	assert.Equal(t, "2025-03-11", p.DayLabel())
	assert.True(t, p.Contains(time.Date(2025, 3, 10, 19, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2025, 3, 11, 19, 0, 0, 0, time.UTC)), "end is exclusive")
}

func TestMonthPeriod(t *testing.T) {
	p := station.MonthPeriod(2024, time.February, nil)
	assert.Equal(t, "2024-02", p.MonthLabel())
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), p.End)
	assert.Len(t, p.Filters("timestamp"), 2)
}

// =============================================================================
// MONEY AND DERIVED VALUES
// =============================================================================

func TestMoney(t *testing.T) {
	assert.True(t, station.Tax(dec("10000"), dec("10")).Equal(dec("1000")))
	assert.True(t, station.Tax(dec("333.33"), dec("17")).Equal(dec("56.67")))
	assert.True(t, station.RoundMoney(dec("2.345")).Equal(dec("2.35")))
	assert.True(t, station.Percent(dec("1"), dec("3")).Equal(dec("33.33")))
	assert.True(t, station.Percent(dec("-500"), decimal.Zero).IsZero(), "zero revenue gives zero margin")
}

func TestTank_LowStock(t *testing.T) {
	tank := station.Tank{Capacity: dec("10000"), CurrentStock: dec("800"), MinimumStock: dec("1000")}
	assert.True(t, tank.IsLowStock())
	assert.True(t, tank.Shortfall().Equal(dec("200")))
	assert.True(t, tank.StockPercentage().Equal(dec("8")))

	tank.CurrentStock = dec("1000")
	assert.False(t, tank.IsLowStock(), "at minimum is not low")
	assert.True(t, tank.Shortfall().IsZero())
}

func TestNozzle_Reading(t *testing.T) {
	n := station.Nozzle{OpeningReading: dec("1000")}
	assert.True(t, n.Reading().Equal(dec("1000")), "fresh nozzle starts at its opening reading")
	n.ClosingReading = dec("1050")
	assert.True(t, n.Reading().Equal(dec("1050")))
}

// =============================================================================
// ERRORS
// =============================================================================

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind station.Kind
	}{
		{nil, ""},
		{&station.InsufficientStockError{TankID: "t", Available: dec("5"), Required: dec("10")}, station.KindInsufficientStock},
		{fmt.Errorf("wrapped: %w", station.ErrSameAccount), station.KindSameAccount},
		{station.NotFound(station.Tanks, "x"), station.KindNotFound},
		{station.Conflict("tank %s moved", "t"), station.KindConflictRetry},
		{station.Unavailable("get", errors.New("dial tcp")), station.KindStoreUnavailable},
		{errors.New("boom"), station.KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.kind, station.KindOf(tt.err))
	}
}

func TestErrorClassification(t *testing.T) {
	assert.True(t, station.IsRetryable(station.Conflict("x")))
	assert.False(t, station.IsRetryable(station.Unavailable("put", errors.New("down"))))
	assert.False(t, station.IsRetryable(station.ErrInsufficientStock))

	assert.True(t, station.IsPrecondition(&station.CapacityExceededError{}))
	assert.True(t, station.IsPrecondition(station.ErrShiftAlreadyOpen))
	assert.False(t, station.IsPrecondition(station.ErrConflictRetry))

	assert.True(t, station.IsNotFound(station.NotFound(station.Sales, "s1")))
}

func TestInsufficientStockError_Message(t *testing.T) {
	err := &station.InsufficientStockError{TankID: "tank-1", Available: dec("50"), Required: dec("100")}
	assert.Equal(t, "insufficient inventory: available 50.0L, required 100.0L", err.Error())
	assert.ErrorIs(t, err, station.ErrInsufficientStock)
}
