/*
Package processor is the only writer of sales, purchases, expenses and
head-to-head movements.

PURPOSE:
  Composes inventory and ledger operations into all-or-nothing units. A
  recorded fact and every derived value it implies (tank stock, nozzle
  meter, account balances, customer outstanding) are written together or
  not at all.

RECORD_SALE STEPS:
  1. resolve nozzle -> fuel type -> tank        (TankNotConfigured)
  2. check readings: opening == meter, closing > opening (InvalidReading)
  3. debit tank stock                            (InsufficientStock)
  4. price: base = qty * unit_price, tax = base * tax% / 100, total = base + tax
  5. advance the nozzle meter
  6. credit the sale's account head; charge the customer for credit sales
  7. persist the Sale

ATOMICITY:
  Each record_* call runs in one txn.Runner unit holding locks on every
  tank, nozzle, account, customer and shift key it touches. On stores
  without transactions the runner undoes completed steps when a later one
  fails, so a failed call leaves the store as it was.

SEE ALSO:
  - corrections.go: void/edit/delete with reversal of side effects
  - txn/runner.go: locking, transactions, compensation and retry
*/
package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/credit"
	"github.com/warp/station-engine/inventory"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/station"
	"github.com/warp/station-engine/txn"
)

// Processor records transaction facts.
type Processor struct {
	runner    *txn.Runner
	inventory *inventory.Tracker
	ledger    *ledger.Ledger
	credit    *credit.Manager
	now       func() time.Time
	log       logrus.FieldLogger
}

// Config carries optional dependencies.
type Config struct {
	Now    func() time.Time
	Logger logrus.FieldLogger
}

func New(runner *txn.Runner, cfg Config) *Processor {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	store := runner.Store()
	return &Processor{
		runner:    runner,
		inventory: inventory.New(store, cfg.Now),
		ledger:    ledger.New(store, cfg.Now),
		credit:    credit.New(runner, cfg.Now, cfg.Logger),
		now:       cfg.Now,
		log:       cfg.Logger,
	}
}

// scope is the set of components bound to one unit's store.
type scope struct {
	store station.Store
	inv   *inventory.Tracker
	led   *ledger.Ledger
	cred  *credit.Manager
}

func (p *Processor) bind(s station.Store) scope {
	return scope{
		store: s,
		inv:   p.inventory.WithStore(s),
		led:   p.ledger.WithStore(s),
		cred:  p.credit.WithStore(s),
	}
}

func (p *Processor) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return p.now()
	}
	return t.UTC()
}

// report logs the outcome of one record_* call.
func (p *Processor) report(kind string, fields logrus.Fields, err error) {
	entry := p.log.WithFields(fields).WithField("kind", kind)
	switch {
	case err == nil:
		entry.Info("transaction recorded")
	case station.IsPrecondition(err), station.IsNotFound(err), station.IsRetryable(err):
		entry.WithField("error_kind", station.KindOf(err)).WithError(err).Warn("transaction rejected")
	default:
		logging.LogError(entry, "processor", kind, "transaction failed", nil, err)
	}
}

// =============================================================================
// SALES
// =============================================================================

// SaleRequest describes a dispense. Give either ClosingReading (with an
// optional OpeningReading, which must equal the nozzle meter) or Quantity;
// readings are then derived from the meter.
type SaleRequest struct {
	NozzleID       string
	Quantity       decimal.Decimal
	OpeningReading *decimal.Decimal
	ClosingReading *decimal.Decimal
	UnitPrice      decimal.Decimal // zero: the fuel type's price
	AccountHeadID  string
	PaymentMethod  station.PaymentMethod // default cash
	CustomerID     string                // required for credit sales
	ShiftID        string
	OperatorID     string
	Timestamp      time.Time
}

func (r SaleRequest) validate() error {
	if r.NozzleID == "" || r.AccountHeadID == "" {
		return fmt.Errorf("%w: nozzle and account head are required", station.ErrInvalidInput)
	}
	if r.PaymentMethod != "" && !r.PaymentMethod.Valid() {
		return fmt.Errorf("%w: payment method %q", station.ErrInvalidInput, r.PaymentMethod)
	}
	if r.PaymentMethod == station.PaymentCredit && r.CustomerID == "" {
		return fmt.Errorf("%w: credit sale needs a customer", station.ErrInvalidInput)
	}
	if r.ClosingReading == nil && !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", station.ErrInvalidAmount, r.Quantity)
	}
	if r.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: unit price %s", station.ErrInvalidAmount, r.UnitPrice)
	}
	return nil
}

// RecordSale records a fuel sale.
func (p *Processor) RecordSale(ctx context.Context, req SaleRequest) (station.Sale, error) {
	fields := logrus.Fields{"nozzle_id": req.NozzleID, "account_head_id": req.AccountHeadID}
	sale, err := p.recordSale(ctx, req)
	if err == nil {
		fields["sale_id"] = sale.ID
		fields["quantity"] = sale.Quantity.String()
		fields["total_amount"] = sale.TotalAmount.String()
	}
	p.report("sale", fields, err)
	return sale, err
}

func (p *Processor) recordSale(ctx context.Context, req SaleRequest) (station.Sale, error) {
	if err := req.validate(); err != nil {
		return station.Sale{}, err
	}
	method := req.PaymentMethod
	if method == "" {
		method = station.PaymentCash
	}

	// Step 1 outside the lock to learn which tank to lock; re-checked inside.
	nozzle, err := p.inventory.Nozzle(ctx, req.NozzleID)
	if err != nil {
		return station.Sale{}, err
	}
	tank, err := p.inventory.ResolveTank(ctx, nozzle)
	if err != nil {
		return station.Sale{}, err
	}

	keys := []string{
		lock.TankKey(tank.ID),
		lock.NozzleKey(nozzle.ID),
		lock.BalanceKey(req.AccountHeadID),
	}
	if req.ShiftID != "" {
		keys = append(keys, lock.ShiftKey(req.ShiftID))
	}
	if method == station.PaymentCredit {
		keys = append(keys, lock.CustomerKey(req.CustomerID))
	}

	var sale station.Sale
	err = p.runner.Run(ctx, "sale", keys, func(ctx context.Context, s station.Store) error {
		u := p.bind(s)

		nozzle, err := u.inv.Nozzle(ctx, req.NozzleID)
		if err != nil {
			return err
		}
		t, err := u.inv.ResolveTank(ctx, nozzle)
		if err != nil {
			return err
		}
		if t.ID != tank.ID {
			return station.Conflict("nozzle %s moved from tank %s to %s", nozzle.ID, tank.ID, t.ID)
		}
		fuel, err := u.inv.FuelType(ctx, nozzle.FuelTypeID)
		if err != nil {
			return err
		}
		if req.ShiftID != "" {
			if err := requireOpenShift(ctx, s, req.ShiftID); err != nil {
				return err
			}
		}

		// Step 2
		opening, closing, err := readings(nozzle, req)
		if err != nil {
			return err
		}
		qty := closing.Sub(opening)

		// Step 3
		if _, err := u.inv.DebitStock(ctx, t.ID, qty); err != nil {
			return err
		}

		// Step 4
		price := req.UnitPrice
		if price.IsZero() {
			price = fuel.UnitPrice
		}
		if !price.IsPositive() {
			return fmt.Errorf("%w: no unit price for fuel type %s", station.ErrInvalidAmount, fuel.ID)
		}
		base := station.RoundMoney(qty.Mul(price))
		tax := station.Tax(base, fuel.TaxPercentage)
		total := base.Add(tax)

		// Step 5
		if _, err := u.inv.RecordNozzleReading(ctx, nozzle.ID, opening, closing); err != nil {
			return err
		}

		// Step 6
		if _, err := u.led.Credit(ctx, req.AccountHeadID, total); err != nil {
			return err
		}
		if method == station.PaymentCredit {
			if _, err := u.cred.ChargeSale(ctx, req.CustomerID, total); err != nil {
				return err
			}
		}

		// Step 7
		sale = station.Sale{
			ID:             uuid.NewString(),
			NozzleID:       nozzle.ID,
			FuelTypeID:     fuel.ID,
			TankID:         t.ID,
			Quantity:       qty,
			UnitPrice:      price,
			BaseAmount:     base,
			TaxAmount:      tax,
			TotalAmount:    total,
			AccountHeadID:  req.AccountHeadID,
			OpeningReading: opening,
			ClosingReading: closing,
			PaymentMethod:  method,
			ShiftID:        req.ShiftID,
			OperatorID:     req.OperatorID,
			CustomerID:     req.CustomerID,
			Timestamp:      p.timestamp(req.Timestamp),
		}
		v, err := station.Insert(ctx, s, station.Sales, sale.ID, sale)
		sale.Version = v
		return err
	})
	if err != nil {
		return station.Sale{}, err
	}
	return sale, nil
}

// readings returns the opening and closing meter values for a sale.
func readings(nozzle station.Nozzle, req SaleRequest) (decimal.Decimal, decimal.Decimal, error) {
	meter := nozzle.Reading()
	if req.ClosingReading == nil {
		return meter, meter.Add(req.Quantity), nil
	}
	opening := meter
	if req.OpeningReading != nil {
		opening = *req.OpeningReading
	}
	closing := *req.ClosingReading
	if !closing.GreaterThan(opening) {
		return opening, closing, &station.InvalidReadingError{
			NozzleID: nozzle.ID,
			Opening:  opening,
			Closing:  closing,
			Reason:   "closing reading must be greater than opening reading",
		}
	}
	if !opening.Equal(meter) {
		return opening, closing, &station.InvalidReadingError{
			NozzleID: nozzle.ID,
			Opening:  opening,
			Closing:  closing,
			Reason:   fmt.Sprintf("opening reading must equal the meter reading %s", meter),
		}
	}
	return opening, closing, nil
}

func requireOpenShift(ctx context.Context, s station.Store, shiftID string) error {
	shift, err := station.Load[station.Shift](ctx, s, station.Shifts, shiftID)
	if err != nil {
		return err
	}
	if shift.Status != station.ShiftOpen {
		return fmt.Errorf("%w: %s", station.ErrShiftAlreadyClosed, shiftID)
	}
	return nil
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseRequest struct {
	TankID        string
	Quantity      decimal.Decimal
	UnitCost      decimal.Decimal
	AccountHeadID string
	SupplierName  string
	InvoiceNumber string
	Timestamp     time.Time
}

func (r PurchaseRequest) validate() error {
	if r.TankID == "" || r.AccountHeadID == "" {
		return fmt.Errorf("%w: tank and account head are required", station.ErrInvalidInput)
	}
	if !r.Quantity.IsPositive() {
		return fmt.Errorf("%w: quantity %s", station.ErrInvalidAmount, r.Quantity)
	}
	if !r.UnitCost.IsPositive() {
		return fmt.Errorf("%w: unit cost %s", station.ErrInvalidAmount, r.UnitCost)
	}
	return nil
}

// RecordPurchase receives fuel into a tank and pays for it from a head.
func (p *Processor) RecordPurchase(ctx context.Context, req PurchaseRequest) (station.Purchase, error) {
	var purchase station.Purchase
	err := req.validate()
	if err == nil {
		err = p.runner.Run(ctx, "purchase", purchaseKeys(req), func(ctx context.Context, s station.Store) error {
			var err error
			purchase, err = p.bind(s).applyPurchase(ctx, uuid.NewString(), req, p.timestamp(req.Timestamp))
			return err
		})
	}
	p.report("purchase", logrus.Fields{
		"tank_id":         req.TankID,
		"quantity":        req.Quantity.String(),
		"account_head_id": req.AccountHeadID,
		"purchase_id":     purchase.ID,
	}, err)
	if err != nil {
		return station.Purchase{}, err
	}
	return purchase, nil
}

func purchaseKeys(req PurchaseRequest) []string {
	return []string{lock.TankKey(req.TankID), lock.BalanceKey(req.AccountHeadID)}
}

func (u scope) applyPurchase(ctx context.Context, id string, req PurchaseRequest, ts time.Time) (station.Purchase, error) {
	tank, err := u.inv.Tank(ctx, req.TankID)
	if err != nil {
		return station.Purchase{}, err
	}
	if _, err := u.inv.CreditStock(ctx, tank.ID, req.Quantity); err != nil {
		return station.Purchase{}, err
	}
	total := station.RoundMoney(req.Quantity.Mul(req.UnitCost))
	if _, err := u.led.Debit(ctx, req.AccountHeadID, total); err != nil {
		return station.Purchase{}, err
	}
	purchase := station.Purchase{
		ID:            id,
		TankID:        tank.ID,
		FuelTypeID:    tank.FuelTypeID,
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		TotalCost:     total,
		AccountHeadID: req.AccountHeadID,
		SupplierName:  req.SupplierName,
		InvoiceNumber: req.InvoiceNumber,
		Timestamp:     ts,
	}
	v, err := station.Save(ctx, u.store, station.Purchases, id, purchase)
	purchase.Version = v
	return purchase, err
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseRequest struct {
	Amount        decimal.Decimal
	AccountHeadID string
	Category      string
	Description   string
	Timestamp     time.Time
}

func (r ExpenseRequest) validate() error {
	if r.AccountHeadID == "" {
		return fmt.Errorf("%w: account head is required", station.ErrInvalidInput)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: expense %s", station.ErrInvalidAmount, r.Amount)
	}
	return nil
}

// RecordExpense pays an expense from a head.
func (p *Processor) RecordExpense(ctx context.Context, req ExpenseRequest) (station.Expense, error) {
	var expense station.Expense
	err := req.validate()
	if err == nil {
		err = p.runner.Run(ctx, "expense", []string{lock.BalanceKey(req.AccountHeadID)},
			func(ctx context.Context, s station.Store) error {
				var err error
				expense, err = p.bind(s).applyExpense(ctx, uuid.NewString(), req, p.timestamp(req.Timestamp))
				return err
			})
	}
	p.report("expense", logrus.Fields{
		"amount":          req.Amount.String(),
		"account_head_id": req.AccountHeadID,
		"expense_id":      expense.ID,
	}, err)
	if err != nil {
		return station.Expense{}, err
	}
	return expense, nil
}

func (u scope) applyExpense(ctx context.Context, id string, req ExpenseRequest, ts time.Time) (station.Expense, error) {
	amount := station.RoundMoney(req.Amount)
	if _, err := u.led.Debit(ctx, req.AccountHeadID, amount); err != nil {
		return station.Expense{}, err
	}
	expense := station.Expense{
		ID:            id,
		Amount:        amount,
		AccountHeadID: req.AccountHeadID,
		Category:      req.Category,
		Description:   req.Description,
		Timestamp:     ts,
	}
	v, err := station.Save(ctx, u.store, station.Expenses, id, expense)
	expense.Version = v
	return expense, err
}

// =============================================================================
// TRANSFERS
// =============================================================================

type TransferRequest struct {
	FromAccountHeadID string
	ToAccountHeadID   string
	Amount            decimal.Decimal
	Description       string
	Timestamp         time.Time
}

// RecordTransfer moves money between two heads.
func (p *Processor) RecordTransfer(ctx context.Context, req TransferRequest) (station.HeadToHeadMovement, error) {
	var movement station.HeadToHeadMovement
	err := p.recordTransfer(ctx, req, &movement)
	p.report("transfer", logrus.Fields{
		"from_account_head_id": req.FromAccountHeadID,
		"to_account_head_id":   req.ToAccountHeadID,
		"amount":               req.Amount.String(),
		"movement_id":          movement.ID,
	}, err)
	if err != nil {
		return station.HeadToHeadMovement{}, err
	}
	return movement, nil
}

func (p *Processor) recordTransfer(ctx context.Context, req TransferRequest, out *station.HeadToHeadMovement) error {
	if req.FromAccountHeadID == "" || req.ToAccountHeadID == "" {
		return fmt.Errorf("%w: both account heads are required", station.ErrInvalidInput)
	}
	if req.FromAccountHeadID == req.ToAccountHeadID {
		return fmt.Errorf("%w: %s", station.ErrSameAccount, req.FromAccountHeadID)
	}
	amount := station.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return fmt.Errorf("%w: transfer %s", station.ErrInvalidAmount, req.Amount)
	}
	keys := []string{lock.BalanceKey(req.FromAccountHeadID), lock.BalanceKey(req.ToAccountHeadID)}
	return p.runner.Run(ctx, "transfer", keys, func(ctx context.Context, s station.Store) error {
		u := p.bind(s)
		if _, _, err := u.led.Transfer(ctx, req.FromAccountHeadID, req.ToAccountHeadID, amount); err != nil {
			return err
		}
		m := station.HeadToHeadMovement{
			ID:                uuid.NewString(),
			FromAccountHeadID: req.FromAccountHeadID,
			ToAccountHeadID:   req.ToAccountHeadID,
			Amount:            amount,
			Description:       req.Description,
			Timestamp:         p.timestamp(req.Timestamp),
		}
		v, err := station.Insert(ctx, s, station.HeadToHeadMovements, m.ID, m)
		m.Version = v
		*out = m
		return err
	})
}

// =============================================================================
// READS
// =============================================================================

func (p *Processor) Sale(ctx context.Context, id string) (station.Sale, error) {
	return station.Load[station.Sale](ctx, p.runner.Store(), station.Sales, id)
}

func (p *Processor) Purchase(ctx context.Context, id string) (station.Purchase, error) {
	return station.Load[station.Purchase](ctx, p.runner.Store(), station.Purchases, id)
}

func (p *Processor) Expense(ctx context.Context, id string) (station.Expense, error) {
	return station.Load[station.Expense](ctx, p.runner.Store(), station.Expenses, id)
}

func (p *Processor) Transfer(ctx context.Context, id string) (station.HeadToHeadMovement, error) {
	return station.Load[station.HeadToHeadMovement](ctx, p.runner.Store(), station.HeadToHeadMovements, id)
}

// Inventory returns the tracker bound to the processor's store.
func (p *Processor) Inventory() *inventory.Tracker { return p.inventory }

// Ledger returns the ledger bound to the processor's store.
func (p *Processor) Ledger() *ledger.Ledger { return p.ledger }

// Credit returns the credit manager bound to the processor's store.
func (p *Processor) Credit() *credit.Manager { return p.credit }
