/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Request bodies carry
  validate tags checked by go-playground/validator before any domain call;
  the domain components still enforce every precondition themselves.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *DTO: response types that are not domain records
  - domain records (station.Sale, reconcile.PL, ...) are returned as is

MONEY AND VOLUMES:
  Decimal fields accept JSON numbers or strings ("120.50") and are
  returned as strings so no precision is lost.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/station"
)

// =============================================================================
// VALIDATION
// =============================================================================

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// getValidator returns the shared validator. Decimal fields are validated
// as float64 so numeric tags such as gt=0 apply to them.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterCustomTypeFunc(func(v reflect.Value) any {
			if d, ok := v.Interface().(decimal.Decimal); ok {
				f, _ := d.Float64()
				return f
			}
			return nil
		}, decimal.Decimal{})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validationFields formats validator errors by JSON field name.
func validationFields(err error) map[string]string {
	fields := map[string]string{}
	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, e := range errs {
			if e.Param() != "" {
				fields[e.Field()] = e.Tag() + "=" + e.Param()
			} else {
				fields[e.Field()] = e.Tag()
			}
		}
	}
	return fields
}

// =============================================================================
// TRANSACTION REQUESTS
// =============================================================================

// SaleRequest records a dispense. Send closing_reading (and optionally
// opening_reading) or quantity.
type SaleRequest struct {
	NozzleID       string           `json:"nozzle_id" validate:"required"`
	Quantity       decimal.Decimal  `json:"quantity" validate:"gte=0"`
	OpeningReading *decimal.Decimal `json:"opening_reading,omitempty" validate:"omitempty,gte=0"`
	ClosingReading *decimal.Decimal `json:"closing_reading,omitempty" validate:"omitempty,gt=0"`
	UnitPrice      decimal.Decimal  `json:"unit_price" validate:"gte=0"`
	AccountHeadID  string           `json:"account_head_id" validate:"required"`
	PaymentMethod  string           `json:"payment_method" validate:"omitempty,oneof=cash credit easy_paisa jazz_cash bank"`
	CustomerID     string           `json:"customer_id" validate:"required_if=PaymentMethod credit"`
	ShiftID        string           `json:"shift_id"`
	OperatorID     string           `json:"operator_id"`
	Timestamp      *time.Time       `json:"timestamp,omitempty"`
}

type PurchaseRequest struct {
	TankID        string          `json:"tank_id" validate:"required"`
	Quantity      decimal.Decimal `json:"quantity" validate:"gt=0"`
	UnitCost      decimal.Decimal `json:"unit_cost" validate:"gt=0"`
	AccountHeadID string          `json:"account_head_id" validate:"required"`
	SupplierName  string          `json:"supplier_name"`
	InvoiceNumber string          `json:"invoice_number"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
}

type ExpenseRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	AccountHeadID string          `json:"account_head_id" validate:"required"`
	Category      string          `json:"category"`
	Description   string          `json:"description"`
	Timestamp     *time.Time      `json:"timestamp,omitempty"`
}

// TransferRequest moves money between two account heads. The same-account
// check is left to the ledger so it reports SameAccountError.
type TransferRequest struct {
	FromAccountHeadID string          `json:"from_account_head_id" validate:"required"`
	ToAccountHeadID   string          `json:"to_account_head_id" validate:"required"`
	Amount            decimal.Decimal `json:"amount" validate:"gt=0"`
	Description       string          `json:"description"`
	Timestamp         *time.Time      `json:"timestamp,omitempty"`
}

type PaymentRequest struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"omitempty,oneof=cash easy_paisa jazz_cash bank"`
	AccountHeadID string          `json:"account_head_id"`
	Reference     string          `json:"reference"`
}

// =============================================================================
// SETUP REQUESTS
// =============================================================================

type AccountHeadRequest struct {
	ID             string          `json:"id"`
	Name           string          `json:"name" validate:"required,max=100"`
	Type           string          `json:"type" validate:"required,oneof=Asset Liability Equity Income Expense"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Description    string          `json:"description"`
}

type CustomerRequest struct {
	ID          string          `json:"id"`
	Name        string          `json:"name" validate:"required,max=100"`
	Phone       string          `json:"phone"`
	CreditLimit decimal.Decimal `json:"credit_limit" validate:"gte=0"`
}

type OpenShiftRequest struct {
	OperatorID  string          `json:"operator_id" validate:"required"`
	OpeningCash decimal.Decimal `json:"opening_cash" validate:"gte=0"`
}

type CloseShiftRequest struct {
	ClosingCash decimal.Decimal `json:"closing_cash" validate:"gte=0"`
}

// =============================================================================
// RESPONSES
// =============================================================================

// BalanceDTO is an account head with its running balance.
type BalanceDTO struct {
	AccountHeadID string              `json:"account_head_id"`
	Name          string              `json:"name"`
	Type          station.AccountType `json:"type"`
	Active        bool                `json:"active"`
	Balance       decimal.Decimal     `json:"balance"`
}

// ShiftOpenedDTO is returned by POST /api/shifts.
type ShiftOpenedDTO struct {
	ShiftID string `json:"shift_id"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// HealthDTO reports liveness and the store mode.
type HealthDTO struct {
	Status        string `json:"status"`
	Transactional bool   `json:"transactional"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Kind    station.Kind      `json:"kind,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}
