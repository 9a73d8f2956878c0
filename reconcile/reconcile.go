/*
Package reconcile closes the books: operator shifts and cash variance,
daily and monthly profit and loss, and the daily sales summary.

PURPOSE:
  Reconciliation reads persisted facts after the fact. Apart from opening
  and closing shifts it never writes, and it never touches tank stock,
  nozzle meters or account balances.

SHIFT RULES:
  - an operator has at most one open shift (ShiftAlreadyOpen)
  - close: expected = opening_cash + Σ sale.total_amount for the shift,
    variance = closing_cash - expected
  - a closed shift cannot be closed again (ShiftAlreadyClosed); its
    reconciliation can be re-read any number of times

P&L RULES:
  revenue = Σ sale.total_amount, tax_collected = Σ sale.tax_amount,
  expenses = Σ expense.amount, net_profit = revenue - expenses,
  profit_margin = net_profit / revenue * 100 (0 when revenue is 0).
  Day and month boundaries are taken in the station's time zone.

SEE ALSO:
  - processor: refuses sales against a closed shift
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/station"
	"github.com/warp/station-engine/txn"
)

// Engine opens and closes shifts and aggregates reports.
type Engine struct {
	runner *txn.Runner
	store  station.Store
	loc    *time.Location
	now    func() time.Time
	log    logrus.FieldLogger
}

// Config carries optional dependencies. Location defaults to UTC.
type Config struct {
	Location *time.Location
	Now      func() time.Time
	Logger   logrus.FieldLogger
}

func New(runner *txn.Runner, cfg Config) *Engine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Engine{
		runner: runner,
		store:  runner.Store(),
		loc:    cfg.Location,
		now:    cfg.Now,
		log:    cfg.Logger,
	}
}

// Location returns the time zone used for day and month boundaries.
func (e *Engine) Location() *time.Location { return e.loc }

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time { return e.now() }

// =============================================================================
// SHIFTS
// =============================================================================

// Variance classification.
const (
	StatusBalanced = "balanced"
	StatusShortage = "shortage"
	StatusExcess   = "excess"
)

// Reconciliation is the cash position of a closed shift.
type Reconciliation struct {
	ShiftID      string          `json:"shift_id"`
	OperatorID   string          `json:"operator_id"`
	OpeningCash  decimal.Decimal `json:"opening_cash"`
	TotalSales   decimal.Decimal `json:"total_sales"`
	SalesCount   int             `json:"sales_count"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	ClosingCash  decimal.Decimal `json:"closing_cash"`
	Variance     decimal.Decimal `json:"variance"`
	Status       string          `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
}

func classify(variance decimal.Decimal) string {
	switch {
	case variance.IsZero():
		return StatusBalanced
	case variance.IsNegative():
		return StatusShortage
	default:
		return StatusExcess
	}
}

func (e *Engine) Shift(ctx context.Context, id string) (station.Shift, error) {
	return station.Load[station.Shift](ctx, e.store, station.Shifts, id)
}

// OpenShift starts a shift for the operator and returns its id.
func (e *Engine) OpenShift(ctx context.Context, operatorID string, openingCash decimal.Decimal) (string, error) {
	if operatorID == "" {
		return "", fmt.Errorf("%w: operator is required", station.ErrInvalidInput)
	}
	if openingCash.IsNegative() {
		return "", fmt.Errorf("%w: opening cash %s", station.ErrInvalidAmount, openingCash)
	}

	shift := station.Shift{
		ID:          uuid.NewString(),
		OperatorID:  operatorID,
		OpeningCash: station.RoundMoney(openingCash),
		Status:      station.ShiftOpen,
		OpenedAt:    e.now(),
	}
	err := e.runner.Run(ctx, "open_shift", []string{lock.OperatorKey(operatorID)},
		func(ctx context.Context, s station.Store) error {
			for open, err := range station.Select[station.Shift](ctx, s, station.Shifts,
				station.Eq("operator_id", operatorID), station.Eq("status", station.ShiftOpen)) {
				if err != nil {
					return err
				}
				return fmt.Errorf("%w: operator %s has shift %s", station.ErrShiftAlreadyOpen, operatorID, open.ID)
			}
			_, err := station.Insert(ctx, s, station.Shifts, shift.ID, shift)
			return err
		})
	entry := e.log.WithFields(logrus.Fields{"operator_id": operatorID, "shift_id": shift.ID})
	if err != nil {
		entry.WithField("error_kind", station.KindOf(err)).WithError(err).Warn("open shift rejected")
		return "", err
	}
	entry.Info("shift opened")
	return shift.ID, nil
}

// CloseShift counts the drawer against the shift's sales and closes it.
func (e *Engine) CloseShift(ctx context.Context, shiftID string, closingCash decimal.Decimal) (Reconciliation, error) {
	if closingCash.IsNegative() {
		return Reconciliation{}, fmt.Errorf("%w: closing cash %s", station.ErrInvalidAmount, closingCash)
	}

	var rec Reconciliation
	err := e.runner.Run(ctx, "close_shift", []string{lock.ShiftKey(shiftID)},
		func(ctx context.Context, s station.Store) error {
			shift, err := station.Load[station.Shift](ctx, s, station.Shifts, shiftID)
			if err != nil {
				return err
			}
			if shift.Status == station.ShiftClosed {
				return fmt.Errorf("%w: %s", station.ErrShiftAlreadyClosed, shiftID)
			}
			total, count, err := shiftSales(ctx, s, shiftID)
			if err != nil {
				return err
			}
			closedAt := e.now()
			expected := shift.OpeningCash.Add(total)
			closing := station.RoundMoney(closingCash)
			variance := closing.Sub(expected)
			_, err = s.Update(ctx, station.Shifts, shiftID, station.Partial(map[string]any{
				"closing_cash":  closing,
				"expected_cash": expected,
				"variance":      variance,
				"status":        station.ShiftClosed,
				"closed_at":     closedAt,
			}), shift.Version)
			if err != nil {
				return err
			}
			rec = Reconciliation{
				ShiftID:      shift.ID,
				OperatorID:   shift.OperatorID,
				OpeningCash:  shift.OpeningCash,
				TotalSales:   total,
				SalesCount:   count,
				ExpectedCash: expected,
				ClosingCash:  closing,
				Variance:     variance,
				Status:       classify(variance),
				OpenedAt:     shift.OpenedAt,
				ClosedAt:     &closedAt,
			}
			return nil
		})
	entry := e.log.WithField("shift_id", shiftID)
	if err != nil {
		entry.WithField("error_kind", station.KindOf(err)).WithError(err).Warn("close shift rejected")
		return Reconciliation{}, err
	}
	entry.WithFields(logrus.Fields{
		"expected_cash": rec.ExpectedCash.String(),
		"variance":      rec.Variance.String(),
		"status":        rec.Status,
	}).Info("shift closed")
	return rec, nil
}

// ShiftReconciliation re-reads a shift's reconciliation. For an open shift
// the closing figures are zero and Status is empty.
func (e *Engine) ShiftReconciliation(ctx context.Context, shiftID string) (Reconciliation, error) {
	shift, err := e.Shift(ctx, shiftID)
	if err != nil {
		return Reconciliation{}, err
	}
	total, count, err := shiftSales(ctx, e.store, shiftID)
	if err != nil {
		return Reconciliation{}, err
	}
	rec := Reconciliation{
		ShiftID:      shift.ID,
		OperatorID:   shift.OperatorID,
		OpeningCash:  shift.OpeningCash,
		TotalSales:   total,
		SalesCount:   count,
		ExpectedCash: shift.OpeningCash.Add(total),
		OpenedAt:     shift.OpenedAt,
		ClosedAt:     shift.ClosedAt,
	}
	if shift.Status == station.ShiftClosed {
		rec.ExpectedCash = shift.ExpectedCash
		rec.ClosingCash = shift.ClosingCash
		rec.Variance = shift.Variance
		rec.Status = classify(shift.Variance)
	}
	return rec, nil
}

func shiftSales(ctx context.Context, s station.Store, shiftID string) (decimal.Decimal, int, error) {
	total := decimal.Zero
	count := 0
	for sale, err := range station.Select[station.Sale](ctx, s, station.Sales, station.Eq("shift_id", shiftID)) {
		if err != nil {
			return decimal.Zero, 0, err
		}
		total = total.Add(sale.TotalAmount)
		count++
	}
	return station.RoundMoney(total), count, nil
}

// =============================================================================
// PROFIT AND LOSS
// =============================================================================

// PL is a profit and loss statement for one period.
type PL struct {
	Period       string          `json:"period"`
	Revenue      decimal.Decimal `json:"revenue"`
	TaxCollected decimal.Decimal `json:"tax_collected"`
	Expenses     decimal.Decimal `json:"expenses"`
	NetProfit    decimal.Decimal `json:"net_profit"`
	ProfitMargin decimal.Decimal `json:"profit_margin"`
}

// DailyPL aggregates the calendar day containing date.
func (e *Engine) DailyPL(ctx context.Context, date time.Time) (PL, error) {
	p := station.DayPeriod(date, e.loc)
	return e.pl(ctx, p, p.DayLabel())
}

// MonthlyPL aggregates one calendar month.
func (e *Engine) MonthlyPL(ctx context.Context, year int, month time.Month) (PL, error) {
	if month < time.January || month > time.December {
		return PL{}, fmt.Errorf("%w: month %d", station.ErrInvalidInput, month)
	}
	p := station.MonthPeriod(year, month, e.loc)
	return e.pl(ctx, p, p.MonthLabel())
}

func (e *Engine) pl(ctx context.Context, p station.Period, label string) (PL, error) {
	revenue, tax, expenses := decimal.Zero, decimal.Zero, decimal.Zero
	for sale, err := range station.Select[station.Sale](ctx, e.store, station.Sales, p.Filters("timestamp")...) {
		if err != nil {
			return PL{}, err
		}
		revenue = revenue.Add(sale.TotalAmount)
		tax = tax.Add(sale.TaxAmount)
	}
	for exp, err := range station.Select[station.Expense](ctx, e.store, station.Expenses, p.Filters("timestamp")...) {
		if err != nil {
			return PL{}, err
		}
		expenses = expenses.Add(exp.Amount)
	}
	net := revenue.Sub(expenses)
	return PL{
		Period:       label,
		Revenue:      station.RoundMoney(revenue),
		TaxCollected: station.RoundMoney(tax),
		Expenses:     station.RoundMoney(expenses),
		NetProfit:    station.RoundMoney(net),
		ProfitMargin: station.Percent(net, revenue),
	}, nil
}

// =============================================================================
// SALES SUMMARY
// =============================================================================

// SalesSummary totals one day's sales.
type SalesSummary struct {
	Date              string                                    `json:"date"`
	TotalTransactions int                                       `json:"total_transactions"`
	TotalQuantity     decimal.Decimal                           `json:"total_quantity"`
	BaseAmount        decimal.Decimal                           `json:"base_amount"`
	TaxCollected      decimal.Decimal                           `json:"tax_collected"`
	TotalRevenue      decimal.Decimal                           `json:"total_revenue"`
	PaymentBreakdown  map[station.PaymentMethod]decimal.Decimal `json:"payment_breakdown"`
	ByFuelType        []FuelTotal                               `json:"by_fuel_type"`
}

// FuelTotal is the quantity and revenue of one fuel type.
type FuelTotal struct {
	FuelTypeID string          `json:"fuel_type_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	Revenue    decimal.Decimal `json:"revenue"`
}

// DailySales summarises the calendar day containing date.
func (e *Engine) DailySales(ctx context.Context, date time.Time) (SalesSummary, error) {
	p := station.DayPeriod(date, e.loc)
	sum := SalesSummary{
		Date:             p.DayLabel(),
		PaymentBreakdown: map[station.PaymentMethod]decimal.Decimal{},
	}
	byFuel := map[string]*FuelTotal{}
	for sale, err := range station.Select[station.Sale](ctx, e.store, station.Sales, p.Filters("timestamp")...) {
		if err != nil {
			return SalesSummary{}, err
		}
		sum.TotalTransactions++
		sum.TotalQuantity = sum.TotalQuantity.Add(sale.Quantity)
		sum.BaseAmount = sum.BaseAmount.Add(sale.BaseAmount)
		sum.TaxCollected = sum.TaxCollected.Add(sale.TaxAmount)
		sum.TotalRevenue = sum.TotalRevenue.Add(sale.TotalAmount)
		sum.PaymentBreakdown[sale.PaymentMethod] = sum.PaymentBreakdown[sale.PaymentMethod].Add(sale.TotalAmount)

		ft, ok := byFuel[sale.FuelTypeID]
		if !ok {
			ft = &FuelTotal{FuelTypeID: sale.FuelTypeID}
			byFuel[sale.FuelTypeID] = ft
		}
		ft.Quantity = ft.Quantity.Add(sale.Quantity)
		ft.Revenue = ft.Revenue.Add(sale.TotalAmount)
	}

	sum.TotalQuantity = station.RoundMoney(sum.TotalQuantity)
	sum.BaseAmount = station.RoundMoney(sum.BaseAmount)
	sum.TaxCollected = station.RoundMoney(sum.TaxCollected)
	sum.TotalRevenue = station.RoundMoney(sum.TotalRevenue)
	for _, ft := range byFuel {
		sum.ByFuelType = append(sum.ByFuelType, *ft)
	}
	sort.Slice(sum.ByFuelType, func(i, j int) bool {
		return sum.ByFuelType[i].FuelTypeID < sum.ByFuelType[j].FuelTypeID
	})
	return sum, nil
}
