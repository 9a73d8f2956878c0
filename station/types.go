/*
types.go - Typed records persisted by the station engine

PURPOSE:
  One Go struct per persisted collection. The engine works exclusively
  with these types; the map representation (Document) exists only at the
  store boundary (see codec.go).

FIELD NAMES:
  JSON tags are the persisted field names and are a contract with the
  existing data (reports and screens read them directly). Do not rename.

AMOUNTS:
  Money and litres are decimal.Decimal. Money is rounded to two places
  with RoundMoney before it is persisted.

SEE ALSO:
  - store.go: Collection names and the Store contract
  - codec.go: Encode/Decode between records and documents
*/
package station

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ACCOUNT HEADS
// =============================================================================

// AccountType classifies an account head.
type AccountType string

const (
	AccountAsset     AccountType = "Asset"
	AccountLiability AccountType = "Liability"
	AccountEquity    AccountType = "Equity"
	AccountIncome    AccountType = "Income"
	AccountExpense   AccountType = "Expense"
)

// Valid reports whether t is one of the known account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountAsset, AccountLiability, AccountEquity, AccountIncome, AccountExpense:
		return true
	}
	return false
}

// AccountHead is a named financial bucket.
type AccountHead struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Type           AccountType     `json:"type"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Active         bool            `json:"active"`
	Description    string          `json:"description,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	Version        int64           `json:"_version,omitempty"`
}

// AccountBalance is the running balance of one account head. It is the
// authoritative balance; replaying the facts must reproduce it.
type AccountBalance struct {
	AccountHeadID string          `json:"account_head_id"`
	Balance       decimal.Decimal `json:"balance"`
	LastUpdated   time.Time       `json:"last_updated"`
	Version       int64           `json:"_version,omitempty"`
}

// =============================================================================
// FUEL, TANKS, NOZZLES
// =============================================================================

// DefaultTaxPercentage applies when a fuel type does not set one.
var DefaultTaxPercentage = decimal.NewFromInt(10)

type FuelType struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	Active        bool            `json:"active"`
	Version       int64           `json:"_version,omitempty"`
}

// Tank holds one fuel type. 0 <= CurrentStock <= Capacity at all times.
type Tank struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	FuelTypeID      string          `json:"fuel_type_id"`
	Capacity        decimal.Decimal `json:"capacity"`
	CurrentStock    decimal.Decimal `json:"current_stock"`
	MinimumStock    decimal.Decimal `json:"minimum_stock"`
	Location        string          `json:"location,omitempty"`
	LastReadingDate *time.Time      `json:"last_reading_date,omitempty"`
	Version         int64           `json:"_version,omitempty"`
}

// IsLowStock reports whether the tank is below its minimum.
func (t Tank) IsLowStock() bool {
	return t.CurrentStock.LessThan(t.MinimumStock)
}

// Shortfall is how many litres are missing to reach the minimum.
func (t Tank) Shortfall() decimal.Decimal {
	if !t.IsLowStock() {
		return decimal.Zero
	}
	return t.MinimumStock.Sub(t.CurrentStock)
}

// StockPercentage is current stock as a percentage of capacity.
func (t Tank) StockPercentage() decimal.Decimal {
	if !t.Capacity.IsPositive() {
		return decimal.Zero
	}
	return t.CurrentStock.Div(t.Capacity).Mul(hundred).Round(2)
}

type NozzleStatus string

const (
	NozzleActive      NozzleStatus = "active"
	NozzleInactive    NozzleStatus = "inactive"
	NozzleMaintenance NozzleStatus = "maintenance"
)

// Nozzle is a dispensing outlet with a cumulative meter. ClosingReading and
// CurrentReading always hold the same value: the meter after the last
// accepted sale.
type Nozzle struct {
	ID              string          `json:"id"`
	MachineID       string          `json:"machine_id"`
	NozzleNumber    int             `json:"nozzle_number"`
	FuelTypeID      string          `json:"fuel_type_id"`
	TankID          string          `json:"tank_id,omitempty"`
	OpeningReading  decimal.Decimal `json:"opening_reading"`
	ClosingReading  decimal.Decimal `json:"closing_reading"`
	CurrentReading  decimal.Decimal `json:"current_reading"`
	Status          NozzleStatus    `json:"status,omitempty"`
	LastReadingDate *time.Time      `json:"last_reading_date,omitempty"`
	Version         int64           `json:"_version,omitempty"`
}

// Reading returns the meter value the next sale must start from.
func (n Nozzle) Reading() decimal.Decimal {
	if n.ClosingReading.IsPositive() {
		return n.ClosingReading
	}
	return n.OpeningReading
}

// =============================================================================
// FACTS
// =============================================================================

type PaymentMethod string

const (
	PaymentCash      PaymentMethod = "cash"
	PaymentCredit    PaymentMethod = "credit"
	PaymentEasyPaisa PaymentMethod = "easy_paisa"
	PaymentJazzCash  PaymentMethod = "jazz_cash"
	PaymentBank      PaymentMethod = "bank"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCredit, PaymentEasyPaisa, PaymentJazzCash, PaymentBank:
		return true
	}
	return false
}

// Sale is a fuel dispense. Quantity = ClosingReading - OpeningReading.
type Sale struct {
	ID             string          `json:"id"`
	NozzleID       string          `json:"nozzle_id"`
	FuelTypeID     string          `json:"fuel_type_id"`
	TankID         string          `json:"tank_id"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	BaseAmount     decimal.Decimal `json:"base_amount"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	AccountHeadID  string          `json:"account_head_id"`
	OpeningReading decimal.Decimal `json:"opening_reading"`
	ClosingReading decimal.Decimal `json:"closing_reading"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	ShiftID        string          `json:"shift_id,omitempty"`
	OperatorID     string          `json:"operator_id,omitempty"`
	CustomerID     string          `json:"customer_id,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Version        int64           `json:"_version,omitempty"`
}

type Purchase struct {
	ID            string          `json:"id"`
	TankID        string          `json:"tank_id"`
	FuelTypeID    string          `json:"fuel_type_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	AccountHeadID string          `json:"account_head_id"`
	SupplierName  string          `json:"supplier_name,omitempty"`
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int64           `json:"_version,omitempty"`
}

type Expense struct {
	ID            string          `json:"id"`
	Amount        decimal.Decimal `json:"amount"`
	AccountHeadID string          `json:"account_head_id"`
	Category      string          `json:"category,omitempty"`
	Description   string          `json:"description,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int64           `json:"_version,omitempty"`
}

// HeadToHeadMovement moves money between two account heads.
type HeadToHeadMovement struct {
	ID                string          `json:"id"`
	FromAccountHeadID string          `json:"from_account_head_id"`
	ToAccountHeadID   string          `json:"to_account_head_id"`
	Amount            decimal.Decimal `json:"amount"`
	Description       string          `json:"description,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
	Version           int64           `json:"_version,omitempty"`
}

// =============================================================================
// SHIFTS, CUSTOMERS, PAYMENTS
// =============================================================================

type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "open"
	ShiftClosed ShiftStatus = "closed"
)

type Shift struct {
	ID           string          `json:"id"`
	OperatorID   string          `json:"operator_id"`
	OpeningCash  decimal.Decimal `json:"opening_cash"`
	ClosingCash  decimal.Decimal `json:"closing_cash"`
	ExpectedCash decimal.Decimal `json:"expected_cash"`
	Variance     decimal.Decimal `json:"variance"`
	Status       ShiftStatus     `json:"status"`
	OpenedAt     time.Time       `json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at,omitempty"`
	Version      int64           `json:"_version,omitempty"`
}

type Customer struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Phone              string          `json:"phone,omitempty"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	Active             bool            `json:"active"`
	Version            int64           `json:"_version,omitempty"`
}

// Available is the unused part of the credit limit.
func (c Customer) Available() decimal.Decimal {
	return c.CreditLimit.Sub(c.OutstandingBalance)
}

// Payment settles part of a customer's outstanding balance.
type Payment struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	AccountHeadID string          `json:"account_head_id,omitempty"`
	Reference     string          `json:"reference,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Version       int64           `json:"_version,omitempty"`
}

// =============================================================================
// MONEY
// =============================================================================

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to two decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// Tax returns base * pct / 100 rounded to money precision.
func Tax(base, pct decimal.Decimal) decimal.Decimal {
	return RoundMoney(base.Mul(pct).Div(hundred))
}

// Percent returns part/whole*100 rounded to two places, or zero when whole
// is not positive.
func Percent(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
