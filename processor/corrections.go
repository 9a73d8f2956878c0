package processor

import (
	"context"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/lock"
	"github.com/warp/station-engine/station"
)

// =============================================================================
// CORRECTIONS - reverse a recorded fact together with its side effects
// =============================================================================
//
// A correction runs as one unit: the fact is removed or rewritten and the
// stock, meter, balance and customer movements it caused are reversed in
// the same call. Facts keep their id across an edit.

// VoidSale removes a sale. Only the nozzle's latest sale can be voided: the
// meter must still stand at the sale's closing reading. Sales in a closed
// shift are frozen.
func (p *Processor) VoidSale(ctx context.Context, saleID string) error {
	sale, err := p.Sale(ctx, saleID)
	if err == nil {
		keys := saleKeys(sale)
		err = p.runner.Run(ctx, "void_sale", keys, func(ctx context.Context, s station.Store) error {
			u := p.bind(s)
			sale, err := station.Load[station.Sale](ctx, s, station.Sales, saleID)
			if err != nil {
				return err
			}
			if err := stillLocked(keys, saleKeys(sale)...); err != nil {
				return err
			}
			if sale.ShiftID != "" {
				if err := requireOpenShift(ctx, s, sale.ShiftID); err != nil {
					return err
				}
			}
			if err := u.inv.RewindNozzle(ctx, sale.NozzleID, sale.ClosingReading, sale.OpeningReading); err != nil {
				return err
			}
			if _, err := u.inv.CreditStock(ctx, sale.TankID, sale.Quantity); err != nil {
				return err
			}
			if _, err := u.led.Debit(ctx, sale.AccountHeadID, sale.TotalAmount); err != nil {
				return err
			}
			if sale.PaymentMethod == station.PaymentCredit && sale.CustomerID != "" {
				if _, err := u.cred.Settle(ctx, sale.CustomerID, sale.TotalAmount); err != nil {
					return err
				}
			}
			return s.Delete(ctx, station.Sales, saleID)
		})
	}
	p.report("void_sale", logrus.Fields{"sale_id": saleID}, err)
	return err
}

// DeletePurchase removes a purchase, taking its litres back out of the tank
// and returning its cost to the paying head.
func (p *Processor) DeletePurchase(ctx context.Context, purchaseID string) error {
	purchase, err := p.Purchase(ctx, purchaseID)
	if err == nil {
		keys := purchaseFactKeys(purchase)
		err = p.runner.Run(ctx, "delete_purchase", keys, func(ctx context.Context, s station.Store) error {
			u := p.bind(s)
			purchase, err := station.Load[station.Purchase](ctx, s, station.Purchases, purchaseID)
			if err != nil {
				return err
			}
			if err := stillLocked(keys, purchaseFactKeys(purchase)...); err != nil {
				return err
			}
			if err := u.reversePurchase(ctx, purchase); err != nil {
				return err
			}
			return s.Delete(ctx, station.Purchases, purchaseID)
		})
	}
	p.report("delete_purchase", logrus.Fields{"purchase_id": purchaseID}, err)
	return err
}

// CorrectPurchase replaces a purchase's figures. The old purchase is
// reversed and the new one applied under the same id; a zero Timestamp
// keeps the original time.
func (p *Processor) CorrectPurchase(ctx context.Context, purchaseID string, req PurchaseRequest) (station.Purchase, error) {
	var out station.Purchase
	err := req.validate()
	var old station.Purchase
	if err == nil {
		old, err = p.Purchase(ctx, purchaseID)
	}
	if err == nil {
		keys := append(purchaseKeys(req), purchaseFactKeys(old)...)
		err = p.runner.Run(ctx, "correct_purchase", keys, func(ctx context.Context, s station.Store) error {
			u := p.bind(s)
			old, err := station.Load[station.Purchase](ctx, s, station.Purchases, purchaseID)
			if err != nil {
				return err
			}
			if err := stillLocked(keys, purchaseFactKeys(old)...); err != nil {
				return err
			}
			if err := u.reversePurchase(ctx, old); err != nil {
				return err
			}
			ts := old.Timestamp
			if !req.Timestamp.IsZero() {
				ts = req.Timestamp.UTC()
			}
			out, err = u.applyPurchase(ctx, purchaseID, req, ts)
			return err
		})
	}
	p.report("correct_purchase", logrus.Fields{"purchase_id": purchaseID}, err)
	if err != nil {
		return station.Purchase{}, err
	}
	return out, nil
}

func (u scope) reversePurchase(ctx context.Context, purchase station.Purchase) error {
	if _, err := u.inv.DebitStock(ctx, purchase.TankID, purchase.Quantity); err != nil {
		return fmt.Errorf("reverse purchase %s: %w", purchase.ID, err)
	}
	_, err := u.led.Credit(ctx, purchase.AccountHeadID, purchase.TotalCost)
	return err
}

// DeleteExpense removes an expense and refunds its head.
func (p *Processor) DeleteExpense(ctx context.Context, expenseID string) error {
	expense, err := p.Expense(ctx, expenseID)
	if err == nil {
		keys := []string{lock.BalanceKey(expense.AccountHeadID)}
		err = p.runner.Run(ctx, "delete_expense", keys,
			func(ctx context.Context, s station.Store) error {
				u := p.bind(s)
				expense, err := station.Load[station.Expense](ctx, s, station.Expenses, expenseID)
				if err != nil {
					return err
				}
				if err := stillLocked(keys, lock.BalanceKey(expense.AccountHeadID)); err != nil {
					return err
				}
				if _, err := u.led.Credit(ctx, expense.AccountHeadID, expense.Amount); err != nil {
					return err
				}
				return s.Delete(ctx, station.Expenses, expenseID)
			})
	}
	p.report("delete_expense", logrus.Fields{"expense_id": expenseID}, err)
	return err
}

// CorrectExpense rewrites an expense under the same id, moving the amount
// between heads when the head changes.
func (p *Processor) CorrectExpense(ctx context.Context, expenseID string, req ExpenseRequest) (station.Expense, error) {
	var out station.Expense
	err := req.validate()
	var old station.Expense
	if err == nil {
		old, err = p.Expense(ctx, expenseID)
	}
	if err == nil {
		keys := []string{lock.BalanceKey(old.AccountHeadID), lock.BalanceKey(req.AccountHeadID)}
		err = p.runner.Run(ctx, "correct_expense", keys, func(ctx context.Context, s station.Store) error {
			u := p.bind(s)
			old, err := station.Load[station.Expense](ctx, s, station.Expenses, expenseID)
			if err != nil {
				return err
			}
			if err := stillLocked(keys, lock.BalanceKey(old.AccountHeadID)); err != nil {
				return err
			}
			if _, err := u.led.Credit(ctx, old.AccountHeadID, old.Amount); err != nil {
				return err
			}
			ts := old.Timestamp
			if !req.Timestamp.IsZero() {
				ts = req.Timestamp.UTC()
			}
			out, err = u.applyExpense(ctx, expenseID, req, ts)
			return err
		})
	}
	p.report("correct_expense", logrus.Fields{"expense_id": expenseID}, err)
	if err != nil {
		return station.Expense{}, err
	}
	return out, nil
}

// DeleteTransfer removes a head-to-head movement and moves the money back.
func (p *Processor) DeleteTransfer(ctx context.Context, movementID string) error {
	m, err := p.Transfer(ctx, movementID)
	if err == nil {
		keys := []string{lock.BalanceKey(m.FromAccountHeadID), lock.BalanceKey(m.ToAccountHeadID)}
		err = p.runner.Run(ctx, "delete_transfer", keys, func(ctx context.Context, s station.Store) error {
			u := p.bind(s)
			m, err := station.Load[station.HeadToHeadMovement](ctx, s, station.HeadToHeadMovements, movementID)
			if err != nil {
				return err
			}
			if err := stillLocked(keys, lock.BalanceKey(m.FromAccountHeadID), lock.BalanceKey(m.ToAccountHeadID)); err != nil {
				return err
			}
			if _, _, err := u.led.Transfer(ctx, m.ToAccountHeadID, m.FromAccountHeadID, m.Amount); err != nil {
				return err
			}
			return s.Delete(ctx, station.HeadToHeadMovements, movementID)
		})
	}
	p.report("delete_transfer", logrus.Fields{"movement_id": movementID}, err)
	return err
}

// =============================================================================
// LOCK KEYS
// =============================================================================

func saleKeys(sale station.Sale) []string {
	keys := []string{
		lock.TankKey(sale.TankID),
		lock.NozzleKey(sale.NozzleID),
		lock.BalanceKey(sale.AccountHeadID),
	}
	if sale.ShiftID != "" {
		keys = append(keys, lock.ShiftKey(sale.ShiftID))
	}
	if sale.CustomerID != "" && sale.PaymentMethod == station.PaymentCredit {
		keys = append(keys, lock.CustomerKey(sale.CustomerID))
	}
	return keys
}

func purchaseFactKeys(purchase station.Purchase) []string {
	return []string{lock.TankKey(purchase.TankID), lock.BalanceKey(purchase.AccountHeadID)}
}

// stillLocked fails retryably when a fact re-read under the unit's locks
// touches a key that was not locked: it was corrected after the first read.
func stillLocked(locked []string, need ...string) error {
	for _, k := range need {
		if !slices.Contains(locked, k) {
			return station.Conflict("%s changed before it was locked", k)
		}
	}
	return nil
}
