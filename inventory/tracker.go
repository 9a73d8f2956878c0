/*
Package inventory tracks physical fuel: tank stock and nozzle meters.

PURPOSE:
  Owns Tank.current_stock and the Nozzle cumulative readings. Every change
  is a single compare-and-swap on the record's _version, so a concurrent
  writer that got there first makes the call fail with ErrConflictRetry
  instead of being overwritten.

INVARIANTS:
  - 0 <= current_stock <= capacity after every call
  - a nozzle's closing reading never moves backwards through a sale

UNITS OF WORK:
  A Tracker does not lock or retry. Callers that combine stock changes with
  other writes bind it to their unit's store with WithStore.

SEE ALSO:
  - processor: combines these operations into sales and purchases
*/
package inventory

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/station"
)

// Tracker reads and mutates tanks and nozzles.
type Tracker struct {
	store station.Store
	now   func() time.Time
}

// New returns a Tracker. now defaults to time.Now in UTC.
func New(store station.Store, now func() time.Time) *Tracker {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Tracker{store: store, now: now}
}

// WithStore returns a copy of the tracker operating on s.
func (t *Tracker) WithStore(s station.Store) *Tracker {
	cp := *t
	cp.store = s
	return &cp
}

// =============================================================================
// READS
// =============================================================================

func (t *Tracker) Tank(ctx context.Context, id string) (station.Tank, error) {
	return station.Load[station.Tank](ctx, t.store, station.Tanks, id)
}

func (t *Tracker) Nozzle(ctx context.Context, id string) (station.Nozzle, error) {
	return station.Load[station.Nozzle](ctx, t.store, station.Nozzles, id)
}

func (t *Tracker) FuelType(ctx context.Context, id string) (station.FuelType, error) {
	return station.Load[station.FuelType](ctx, t.store, station.FuelTypes, id)
}

// Tanks streams all tanks ordered by id.
func (t *Tracker) Tanks(ctx context.Context) iter.Seq2[station.Tank, error] {
	return station.Select[station.Tank](ctx, t.store, station.Tanks)
}

// Nozzles streams all nozzles ordered by id.
func (t *Tracker) Nozzles(ctx context.Context) iter.Seq2[station.Nozzle, error] {
	return station.Select[station.Nozzle](ctx, t.store, station.Nozzles)
}

// ResolveTank returns the tank a nozzle draws from: its own tank_id if
// set, otherwise the first tank (by id) holding the nozzle's fuel type.
func (t *Tracker) ResolveTank(ctx context.Context, nozzle station.Nozzle) (station.Tank, error) {
	if nozzle.TankID != "" {
		tank, err := t.Tank(ctx, nozzle.TankID)
		if station.IsNotFound(err) {
			return station.Tank{}, fmt.Errorf("%w: nozzle %s references tank %s",
				station.ErrTankNotConfigured, nozzle.ID, nozzle.TankID)
		}
		return tank, err
	}
	for tank, err := range station.Select[station.Tank](ctx, t.store, station.Tanks,
		station.Eq("fuel_type_id", nozzle.FuelTypeID)) {
		return tank, err
	}
	return station.Tank{}, fmt.Errorf("%w: fuel type %s (nozzle %s)",
		station.ErrTankNotConfigured, nozzle.FuelTypeID, nozzle.ID)
}

// =============================================================================
// STOCK
// =============================================================================

// DebitStock removes qty litres from the tank and returns the new stock.
func (t *Tracker) DebitStock(ctx context.Context, tankID string, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: debit %s", station.ErrInvalidAmount, qty)
	}
	tank, err := t.Tank(ctx, tankID)
	if err != nil {
		return decimal.Zero, err
	}
	if qty.GreaterThan(tank.CurrentStock) {
		return decimal.Zero, &station.InsufficientStockError{
			TankID:    tankID,
			Available: tank.CurrentStock,
			Required:  qty,
		}
	}
	return t.setStock(ctx, tank, tank.CurrentStock.Sub(qty))
}

// CreditStock adds qty litres to the tank and returns the new stock.
func (t *Tracker) CreditStock(ctx context.Context, tankID string, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: credit %s", station.ErrInvalidAmount, qty)
	}
	tank, err := t.Tank(ctx, tankID)
	if err != nil {
		return decimal.Zero, err
	}
	if tank.CurrentStock.Add(qty).GreaterThan(tank.Capacity) {
		return decimal.Zero, &station.CapacityExceededError{
			TankID:   tankID,
			Capacity: tank.Capacity,
			Current:  tank.CurrentStock,
			Incoming: qty,
		}
	}
	return t.setStock(ctx, tank, tank.CurrentStock.Add(qty))
}

func (t *Tracker) setStock(ctx context.Context, tank station.Tank, stock decimal.Decimal) (decimal.Decimal, error) {
	_, err := t.store.Update(ctx, station.Tanks, tank.ID, station.Partial(map[string]any{
		"current_stock":     stock,
		"last_reading_date": t.now(),
	}), tank.Version)
	if err != nil {
		return decimal.Zero, err
	}
	return stock, nil
}

// =============================================================================
// NOZZLE READINGS
// =============================================================================

// RecordNozzleReading accepts a dispense from opening to closing and
// returns the quantity dispensed. The closing reading becomes the nozzle's
// closing and current reading.
func (t *Tracker) RecordNozzleReading(ctx context.Context, nozzleID string, opening, closing decimal.Decimal) (decimal.Decimal, error) {
	if !closing.GreaterThan(opening) {
		return decimal.Zero, &station.InvalidReadingError{
			NozzleID: nozzleID,
			Opening:  opening,
			Closing:  closing,
			Reason:   "closing reading must be greater than opening reading",
		}
	}
	nozzle, err := t.Nozzle(ctx, nozzleID)
	if err != nil {
		return decimal.Zero, err
	}
	if closing.LessThan(nozzle.Reading()) {
		return decimal.Zero, &station.InvalidReadingError{
			NozzleID: nozzleID,
			Opening:  opening,
			Closing:  closing,
			Reason:   fmt.Sprintf("meter is already at %s", nozzle.Reading()),
		}
	}
	if err := t.setReading(ctx, nozzle, closing); err != nil {
		return decimal.Zero, err
	}
	return closing.Sub(opening), nil
}

// RewindNozzle moves the meter back from the expected reading to the given
// one. It is used only to void the nozzle's most recent sale.
func (t *Tracker) RewindNozzle(ctx context.Context, nozzleID string, from, to decimal.Decimal) error {
	nozzle, err := t.Nozzle(ctx, nozzleID)
	if err != nil {
		return err
	}
	if !nozzle.Reading().Equal(from) {
		return fmt.Errorf("%w: nozzle %s is at %s, not %s", station.ErrVoidNotAllowed,
			nozzleID, nozzle.Reading(), from)
	}
	return t.setReading(ctx, nozzle, to)
}

func (t *Tracker) setReading(ctx context.Context, nozzle station.Nozzle, reading decimal.Decimal) error {
	_, err := t.store.Update(ctx, station.Nozzles, nozzle.ID, station.Partial(map[string]any{
		"closing_reading":   reading,
		"current_reading":   reading,
		"last_reading_date": t.now(),
	}), nozzle.Version)
	return err
}

// =============================================================================
// REPORTS
// =============================================================================

// LowStock is one line of the low-stock report.
type LowStock struct {
	TankID          string          `json:"tank_id"`
	TankName        string          `json:"tank_name"`
	FuelTypeID      string          `json:"fuel_type_id"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	MinimumStock    decimal.Decimal `json:"minimum_stock"`
	Capacity        decimal.Decimal `json:"capacity"`
	Shortfall       decimal.Decimal `json:"shortfall"`
	StockPercentage decimal.Decimal `json:"stock_percentage"`
}

// LowStockReport streams tanks below their minimum stock. It reads only,
// and ranging over it again re-reads current stock.
func (t *Tracker) LowStockReport(ctx context.Context) iter.Seq2[LowStock, error] {
	return func(yield func(LowStock, error) bool) {
		for tank, err := range t.Tanks(ctx) {
			if err != nil {
				yield(LowStock{}, err)
				return
			}
			if !tank.IsLowStock() {
				continue
			}
			line := LowStock{
				TankID:          tank.ID,
				TankName:        tank.Name,
				FuelTypeID:      tank.FuelTypeID,
				CurrentStock:    tank.CurrentStock,
				MinimumStock:    tank.MinimumStock,
				Capacity:        tank.Capacity,
				Shortfall:       tank.Shortfall(),
				StockPercentage: tank.StockPercentage(),
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

// =============================================================================
// SETUP
// =============================================================================

// AddTank validates and stores a tank definition.
func (t *Tracker) AddTank(ctx context.Context, tank station.Tank) error {
	switch {
	case tank.ID == "":
		return fmt.Errorf("%w: tank id is required", station.ErrInvalidInput)
	case !tank.Capacity.IsPositive():
		return fmt.Errorf("%w: tank %s capacity %s", station.ErrInvalidInput, tank.ID, tank.Capacity)
	case tank.CurrentStock.IsNegative() || tank.CurrentStock.GreaterThan(tank.Capacity):
		return &station.CapacityExceededError{TankID: tank.ID, Capacity: tank.Capacity, Incoming: tank.CurrentStock}
	}
	if _, err := t.FuelType(ctx, tank.FuelTypeID); err != nil {
		return err
	}
	_, err := station.Save(ctx, t.store, station.Tanks, tank.ID, tank)
	return err
}

// AddNozzle stores a nozzle; its meter starts at the opening reading.
func (t *Tracker) AddNozzle(ctx context.Context, nozzle station.Nozzle) error {
	if nozzle.ID == "" {
		return fmt.Errorf("%w: nozzle id is required", station.ErrInvalidInput)
	}
	if _, err := t.FuelType(ctx, nozzle.FuelTypeID); err != nil {
		return err
	}
	if nozzle.ClosingReading.LessThan(nozzle.OpeningReading) {
		nozzle.ClosingReading = nozzle.OpeningReading
	}
	nozzle.CurrentReading = nozzle.ClosingReading
	if nozzle.Status == "" {
		nozzle.Status = station.NozzleActive
	}
	_, err := station.Save(ctx, t.store, station.Nozzles, nozzle.ID, nozzle)
	return err
}

// AddFuelType stores a fuel type.
func (t *Tracker) AddFuelType(ctx context.Context, ft station.FuelType) error {
	if ft.ID == "" {
		return fmt.Errorf("%w: fuel type id is required", station.ErrInvalidInput)
	}
	if ft.TaxPercentage.IsNegative() || ft.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: fuel type %s", station.ErrInvalidInput, ft.ID)
	}
	_, err := station.Save(ctx, t.store, station.FuelTypes, ft.ID, ft)
	return err
}
