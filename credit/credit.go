// Package credit manages customer credit: limits, outstanding balances,
// payments against them and the aging report.
package credit

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/station"
	"github.com/warp/station-engine/txn"
)

type Manager struct {
	store  station.Store
	runner *txn.Runner
	ledger *ledger.Ledger
	now    func() time.Time
	log    logrus.FieldLogger
}

// New returns a Manager running its writes through runner.
func New(runner *txn.Runner, now func() time.Time, log logrus.FieldLogger) *Manager {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Manager{
		store:  runner.Store(),
		runner: runner,
		ledger: ledger.New(runner.Store(), now),
		now:    now,
		log:    log,
	}
}

// WithStore returns a copy operating on s, for use inside another unit of work.
func (m *Manager) WithStore(s station.Store) *Manager {
	cp := *m
	cp.store = s
	cp.ledger = m.ledger.WithStore(s)
	return &cp
}

func (m *Manager) Customer(ctx context.Context, id string) (station.Customer, error) {
	return station.Load[station.Customer](ctx, m.store, station.Customers, id)
}

// AddCustomer stores a new active customer with no outstanding balance.
func (m *Manager) AddCustomer(ctx context.Context, c station.Customer) (station.Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return c, fmt.Errorf("%w: customer name is required", station.ErrInvalidInput)
	}
	if c.CreditLimit.IsNegative() || c.OutstandingBalance.IsNegative() {
		return c, fmt.Errorf("%w: negative credit figures for %s", station.ErrInvalidAmount, c.Name)
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c.Active = true
	v, err := station.Insert(ctx, m.store, station.Customers, c.ID, c)
	if err != nil {
		return c, err
	}
	c.Version = v
	return c, nil
}

// =============================================================================
// CREDIT SALES
// =============================================================================

// ChargeSale adds a credit sale to the customer's outstanding balance. It
// must run inside the sale's unit of work.
func (m *Manager) ChargeSale(ctx context.Context, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	c, err := m.Customer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	if !c.Active {
		return decimal.Zero, fmt.Errorf("%w: customer %s is inactive", station.ErrInvalidInput, customerID)
	}
	next := c.OutstandingBalance.Add(amount)
	if next.GreaterThan(c.CreditLimit) {
		return decimal.Zero, &station.CreditLimitError{
			CustomerID:  customerID,
			Limit:       c.CreditLimit,
			Outstanding: c.OutstandingBalance,
			Amount:      amount,
		}
	}
	return next, m.setOutstanding(ctx, c, next)
}

// Settle reduces the outstanding balance by amount. It fails with
// ExceedsOutstanding rather than letting the balance go negative.
func (m *Manager) Settle(ctx context.Context, customerID string, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s", station.ErrInvalidAmount, amount)
	}
	c, err := m.Customer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	if amount.GreaterThan(c.OutstandingBalance) {
		return decimal.Zero, &station.ExceedsOutstandingError{
			CustomerID:  customerID,
			Outstanding: c.OutstandingBalance,
			Amount:      amount,
		}
	}
	next := c.OutstandingBalance.Sub(amount)
	return next, m.setOutstanding(ctx, c, next)
}

func (m *Manager) setOutstanding(ctx context.Context, c station.Customer, outstanding decimal.Decimal) error {
	_, err := m.store.Update(ctx, station.Customers, c.ID, station.Partial(map[string]any{
		"outstanding_balance": outstanding,
	}), c.Version)
	return err
}

// =============================================================================
// PAYMENTS
// =============================================================================

// PaymentRequest describes money received from a credit customer.
type PaymentRequest struct {
	CustomerID    string
	Amount        decimal.Decimal
	PaymentMethod station.PaymentMethod
	AccountHeadID string // optional: head that receives the money
	Reference     string
}

// RecordPayment reduces the customer's outstanding balance, stores the
// payment and, when an account head is named, credits it. All or nothing.
func (m *Manager) RecordPayment(ctx context.Context, req PaymentRequest) (station.Payment, error) {
	amount := station.RoundMoney(req.Amount)
	method := req.PaymentMethod
	if method == "" {
		method = station.PaymentCash
	}
	if !method.Valid() || method == station.PaymentCredit {
		return station.Payment{}, fmt.Errorf("%w: payment method %q", station.ErrInvalidInput, method)
	}

	payment := station.Payment{
		ID:            uuid.NewString(),
		CustomerID:    req.CustomerID,
		Amount:        amount,
		PaymentMethod: method,
		AccountHeadID: req.AccountHeadID,
		Reference:     req.Reference,
		Timestamp:     m.now(),
	}

	keys := []string{lock.CustomerKey(req.CustomerID)}
	if req.AccountHeadID != "" {
		keys = append(keys, lock.BalanceKey(req.AccountHeadID))
	}
	err := m.runner.Run(ctx, "payment", keys, func(ctx context.Context, s station.Store) error {
		u := m.WithStore(s)
		if _, err := u.Settle(ctx, req.CustomerID, amount); err != nil {
			return err
		}
		if _, err := station.Insert(ctx, s, station.Payments, payment.ID, payment); err != nil {
			return err
		}
		if req.AccountHeadID != "" {
			if _, err := u.ledger.Credit(ctx, req.AccountHeadID, amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		m.log.WithFields(logrus.Fields{
			"customer_id": req.CustomerID,
			"amount":      amount.String(),
			"kind":        station.KindOf(err),
		}).Warn("payment rejected")
		return station.Payment{}, err
	}
	m.log.WithFields(logrus.Fields{
		"payment_id":  payment.ID,
		"customer_id": req.CustomerID,
		"amount":      amount.String(),
	}).Info("payment recorded")
	return payment, nil
}

// Payments streams a customer's payments ordered by id.
func (m *Manager) Payments(ctx context.Context, customerID string) iter.Seq2[station.Payment, error] {
	return station.Select[station.Payment](ctx, m.store, station.Payments,
		station.Eq("customer_id", customerID))
}

// =============================================================================
// REPORTS
// =============================================================================

// Status is a customer's credit position.
type Status struct {
	CustomerID     string          `json:"customer_id"`
	Name           string          `json:"name"`
	CreditLimit    decimal.Decimal `json:"credit_limit"`
	Outstanding    decimal.Decimal `json:"outstanding_balance"`
	Available      decimal.Decimal `json:"available_credit"`
	UtilizationPct decimal.Decimal `json:"utilization_pct"`
}

func statusOf(c station.Customer) Status {
	return Status{
		CustomerID:     c.ID,
		Name:           c.Name,
		CreditLimit:    c.CreditLimit,
		Outstanding:    c.OutstandingBalance,
		Available:      c.Available(),
		UtilizationPct: station.Percent(c.OutstandingBalance, c.CreditLimit),
	}
}

// CreditStatus returns limit, outstanding, available credit and utilization.
func (m *Manager) CreditStatus(ctx context.Context, customerID string) (Status, error) {
	c, err := m.Customer(ctx, customerID)
	if err != nil {
		return Status{}, err
	}
	return statusOf(c), nil
}

// AgingReport lists customers who owe money, largest balance first.
func (m *Manager) AgingReport(ctx context.Context) ([]Status, error) {
	var out []Status
	for c, err := range station.Select[station.Customer](ctx, m.store, station.Customers) {
		if err != nil {
			return nil, err
		}
		if c.OutstandingBalance.IsPositive() {
			out = append(out, statusOf(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Outstanding.GreaterThan(out[j].Outstanding)
	})
	return out, nil
}
