package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/station-engine/factory"
	"github.com/warp/station-engine/station"
	memstore "github.com/warp/station-engine/station/store"
	"github.com/warp/station-engine/txn"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const mainStreet = `
name: Main Street
fuel_types:
  - id: petrol
    name: Petrol
    unit_price: 250
  - id: diesel
    name: Diesel
    unit_price: 270.50
    tax_percentage: 0
tanks:
  - id: tank-petrol-1
    name: Petrol Tank 1
    fuel_type: petrol
    capacity: 10000
    current_stock: 5000
    minimum_stock: 1000
  - id: tank-diesel-1
    fuel_type: diesel
    capacity: 8000
    current_stock: 2000
nozzles:
  - id: nozzle-1
    machine_id: M1
    nozzle_number: 1
    fuel_type: petrol
    tank: tank-petrol-1
    reading: 1000
  - id: nozzle-2
    machine_id: M1
    nozzle_number: 2
    fuel_type: diesel
account_heads:
  - id: cash
    name: Cash
    type: Asset
  - name: Bank
    type: Asset
    opening_balance: 25000
customers:
  - id: acme
    name: ACME Logistics
    credit_limit: 50000
`

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestRunner(t *testing.T) (*txn.Runner, station.Store) {
	t.Helper()
	s := memstore.NewTxMemory()
	return txn.New(s, nil), s
}

// =============================================================================
// PARSING
// =============================================================================

func TestParse(t *testing.T) {
	setup, err := factory.Parse([]byte(mainStreet))
	require.NoError(t, err)

	assert.Equal(t, "Main Street", setup.Name)
	require.Len(t, setup.FuelTypes, 2)
	assert.Nil(t, setup.FuelTypes[0].TaxPercentage, "omitted tax stays unset")
	require.NotNil(t, setup.FuelTypes[1].TaxPercentage)
	assert.True(t, setup.FuelTypes[1].UnitPrice.Equal(d("270.5")))
	assert.True(t, setup.Nozzles[0].Reading.Equal(d("1000")))
	assert.Empty(t, setup.Nozzles[1].Tank)
	assert.Equal(t, station.AccountAsset, setup.AccountHeads[1].Type)
}

func TestParse_JSON(t *testing.T) {
	setup, err := factory.Parse([]byte(`{"name":"J","fuel_types":[{"id":"petrol","unit_price":"250"}]}`))
	require.NoError(t, err)
	assert.True(t, setup.FuelTypes[0].UnitPrice.Equal(d("250")))
}

func TestValidate_Rejections(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"fuel without id", "fuel_types: [{name: Petrol}]"},
		{"duplicate fuel", "fuel_types: [{id: p}, {id: p}]"},
		{"tank unknown fuel", "fuel_types: [{id: p}]\ntanks: [{id: t, fuel_type: x}]"},
		{"duplicate tank", "fuel_types: [{id: p}]\ntanks: [{id: t, fuel_type: p}, {id: t, fuel_type: p}]"},
		{"nozzle without id", "fuel_types: [{id: p}]\nnozzles: [{fuel_type: p}]"},
		{"nozzle tank holds other fuel", "fuel_types: [{id: p}, {id: q}]\ntanks: [{id: t, fuel_type: q}]\nnozzles: [{id: n, fuel_type: p, tank: t}]"},
		{"negative reading", "fuel_types: [{id: p}]\nnozzles: [{id: n, fuel_type: p, reading: -1}]"},
		{"bad head type", "account_heads: [{name: Cash, type: Savings}]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := factory.Parse([]byte(tt.yaml))
			assert.ErrorIs(t, err, station.ErrInvalidInput)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := factory.Parse([]byte("fuel_types: [unclosed"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "station.yaml")
	require.NoError(t, os.WriteFile(path, []byte(mainStreet), 0o600))

	setup, err := factory.Load(path)
	require.NoError(t, err)
	assert.Len(t, setup.Tanks, 2)

	_, err = factory.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

// =============================================================================
// SEEDING
// =============================================================================

func TestSeed(t *testing.T) {
	// GIVEN: The Main Street setup
	setup, err := factory.Parse([]byte(mainStreet))
	require.NoError(t, err)
	runner, s := newTestRunner(t)
	ctx := context.Background()

	// WHEN: Seeding an empty store
	sum, err := factory.Seed(ctx, runner, setup)

	// THEN: Every entry is stored with defaults applied
	require.NoError(t, err)
	assert.Equal(t, 2, sum.FuelTypes)
	assert.Equal(t, 2, sum.Tanks)
	assert.Equal(t, 2, sum.Nozzles)
	require.Len(t, sum.AccountHeads, 2)
	assert.Equal(t, "cash", sum.AccountHeads[0])
	assert.NotEmpty(t, sum.AccountHeads[1], "generated id")
	assert.Equal(t, []string{"acme"}, sum.Customers)

	petrol, err := station.Load[station.FuelType](ctx, s, station.FuelTypes, "petrol")
	require.NoError(t, err)
	assert.True(t, petrol.TaxPercentage.Equal(station.DefaultTaxPercentage))
	diesel, err := station.Load[station.FuelType](ctx, s, station.FuelTypes, "diesel")
	require.NoError(t, err)
	assert.True(t, diesel.TaxPercentage.IsZero())

	nozzle, err := station.Load[station.Nozzle](ctx, s, station.Nozzles, "nozzle-1")
	require.NoError(t, err)
	assert.True(t, nozzle.Reading().Equal(d("1000")))
}

func TestSeed_AllOrNothing(t *testing.T) {
	// GIVEN: A setup whose second head collides with the first
	setup, err := factory.Parse([]byte(mainStreet))
	require.NoError(t, err)
	setup.AccountHeads = append(setup.AccountHeads, factory.AccountHeadSpec{Name: "CASH", Type: station.AccountAsset})
	runner, s := newTestRunner(t)
	ctx := context.Background()

	// WHEN: Seeding
	_, err = factory.Seed(ctx, runner, setup)

	// THEN: Nothing is stored
	assert.ErrorIs(t, err, station.ErrDuplicateName)
	fuels, err := station.Collect(s.Query(ctx, station.FuelTypes))
	require.NoError(t, err)
	assert.Empty(t, fuels)
}

func TestSeed_StockOverCapacity(t *testing.T) {
	setup, err := factory.Parse([]byte(mainStreet))
	require.NoError(t, err)
	setup.Tanks[0].CurrentStock = d("10001")
	runner, _ := newTestRunner(t)

	_, err = factory.Seed(context.Background(), runner, setup)

	assert.ErrorIs(t, err, station.ErrCapacityExceeded)
}

// =============================================================================
// EXPORT
// =============================================================================

func TestExport_RoundTrip(t *testing.T) {
	// GIVEN: A seeded station
	setup, err := factory.Parse([]byte(mainStreet))
	require.NoError(t, err)
	runner, s := newTestRunner(t)
	ctx := context.Background()
	_, err = factory.Seed(ctx, runner, setup)
	require.NoError(t, err)

	// WHEN: Exporting, marshalling and seeding the result elsewhere
	exported, err := factory.Export(ctx, s, "Main Street")
	require.NoError(t, err)
	data, err := factory.Marshal(exported)
	require.NoError(t, err)
	parsed, err := factory.Parse(data)
	require.NoError(t, err)

	other, otherStore := newTestRunner(t)
	sum, err := factory.Seed(ctx, other, parsed)

	// THEN: The copy has the same forecourt and heads
	require.NoError(t, err)
	assert.Equal(t, 2, sum.FuelTypes)
	assert.Equal(t, 2, sum.Tanks)
	assert.Equal(t, 2, sum.Nozzles)
	assert.Len(t, sum.AccountHeads, 2)
	assert.Equal(t, []string{"acme"}, sum.Customers)

	tank, err := station.Load[station.Tank](ctx, otherStore, station.Tanks, "tank-petrol-1")
	require.NoError(t, err)
	assert.True(t, tank.CurrentStock.Equal(d("5000")))
	diesel, err := station.Load[station.FuelType](ctx, otherStore, station.FuelTypes, "diesel")
	require.NoError(t, err)
	assert.True(t, diesel.TaxPercentage.IsZero(), "explicit zero tax survives export")
}
