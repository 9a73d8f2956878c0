/*
errors.go - Centralized error types for the station engine

PURPOSE:
  All error kinds in one place. Every failure the engine reports is one of
  these kinds so callers can branch with errors.Is / errors.As instead of
  matching strings.

ERROR CATEGORIES:
  1. Precondition violations - the request is invalid against current
     state (stock, capacity, readings, shifts, credit). Never retried.
  2. Retryable - ConflictRetry: a lock or compare-and-swap lost a race.
  3. Infrastructure - StoreUnavailable: the store could not be reached.

USAGE:
  if errors.Is(err, station.ErrInsufficientStock) { ... }

  var ise *station.InsufficientStockError
  if errors.As(err, &ise) {
      log.Printf("short by %s", ise.Required.Sub(ise.Available))
  }

SEE ALSO:
  - api/handlers.go: maps Kind to HTTP status
  - txn/runner.go: retries ConflictRetry
*/
package station

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrCapacityExceeded   = errors.New("tank capacity exceeded")
	ErrInvalidReading     = errors.New("invalid nozzle reading")
	ErrTankNotConfigured  = errors.New("no tank configured for fuel type")
	ErrSameAccount        = errors.New("source and destination accounts are the same")
	ErrExceedsOutstanding = errors.New("payment exceeds outstanding balance")
	ErrShiftAlreadyOpen   = errors.New("shift already open")
	ErrShiftAlreadyClosed = errors.New("shift already closed")

	// ErrConflictRetry is returned when a lock could not be taken in time or
	// a compare-and-swap found a newer version. The call had no effect and
	// may be retried.
	ErrConflictRetry = errors.New("conflict, retry")

	// ErrStoreUnavailable is returned when the record store cannot be reached.
	ErrStoreUnavailable = errors.New("record store unavailable")

	ErrNotFound            = errors.New("not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidInput        = errors.New("invalid input")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrDuplicateName       = errors.New("duplicate account head name")
	ErrVoidNotAllowed      = errors.New("correction not allowed")
)

// Kind names an error category for logs, metrics and API responses.
type Kind string

const (
	KindInsufficientStock   Kind = "InsufficientStock"
	KindCapacityExceeded    Kind = "CapacityExceeded"
	KindInvalidReading      Kind = "InvalidReading"
	KindTankNotConfigured   Kind = "TankNotConfigured"
	KindSameAccount         Kind = "SameAccountError"
	KindExceedsOutstanding  Kind = "ExceedsOutstanding"
	KindShiftAlreadyOpen    Kind = "ShiftAlreadyOpen"
	KindShiftAlreadyClosed  Kind = "ShiftAlreadyClosed"
	KindConflictRetry       Kind = "ConflictRetry"
	KindStoreUnavailable    Kind = "StoreUnavailable"
	KindNotFound            Kind = "NotFound"
	KindInvalidAmount       Kind = "InvalidAmount"
	KindInvalidInput        Kind = "InvalidInput"
	KindCreditLimitExceeded Kind = "CreditLimitExceeded"
	KindDuplicateName       Kind = "DuplicateName"
	KindVoidNotAllowed      Kind = "VoidNotAllowed"
	KindInternal            Kind = "Internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrInsufficientStock, KindInsufficientStock},
	{ErrCapacityExceeded, KindCapacityExceeded},
	{ErrInvalidReading, KindInvalidReading},
	{ErrTankNotConfigured, KindTankNotConfigured},
	{ErrSameAccount, KindSameAccount},
	{ErrExceedsOutstanding, KindExceedsOutstanding},
	{ErrShiftAlreadyOpen, KindShiftAlreadyOpen},
	{ErrShiftAlreadyClosed, KindShiftAlreadyClosed},
	{ErrConflictRetry, KindConflictRetry},
	{ErrStoreUnavailable, KindStoreUnavailable},
	{ErrNotFound, KindNotFound},
	{ErrInvalidAmount, KindInvalidAmount},
	{ErrInvalidInput, KindInvalidInput},
	{ErrCreditLimitExceeded, KindCreditLimitExceeded},
	{ErrDuplicateName, KindDuplicateName},
	{ErrVoidNotAllowed, KindVoidNotAllowed},
}

// KindOf returns the kind of err, or KindInternal when err is not one of
// the engine's errors. KindOf(nil) is "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a debit larger than the tank holds.
type InsufficientStockError struct {
	TankID    string
	Available decimal.Decimal
	Required  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient inventory: available %sL, required %sL",
		e.Available.StringFixed(1), e.Required.StringFixed(1))
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// CapacityExceededError reports a credit that would overfill the tank.
type CapacityExceededError struct {
	TankID   string
	Capacity decimal.Decimal
	Current  decimal.Decimal
	Incoming decimal.Decimal
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("tank capacity exceeded: capacity %sL, current %sL, incoming %sL",
		e.Capacity.StringFixed(1), e.Current.StringFixed(1), e.Incoming.StringFixed(1))
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// InvalidReadingError reports a non-increasing or discontinuous meter reading.
type InvalidReadingError struct {
	NozzleID string
	Opening  decimal.Decimal
	Closing  decimal.Decimal
	Reason   string
}

func (e *InvalidReadingError) Error() string {
	return fmt.Sprintf("invalid reading on nozzle %s: opening %s, closing %s: %s",
		e.NozzleID, e.Opening.String(), e.Closing.String(), e.Reason)
}

func (e *InvalidReadingError) Unwrap() error { return ErrInvalidReading }

// ExceedsOutstandingError reports a payment larger than the debt.
type ExceedsOutstandingError struct {
	CustomerID  string
	Outstanding decimal.Decimal
	Amount      decimal.Decimal
}

func (e *ExceedsOutstandingError) Error() string {
	return fmt.Sprintf("payment %s exceeds outstanding balance %s",
		e.Amount.StringFixed(2), e.Outstanding.StringFixed(2))
}

func (e *ExceedsOutstandingError) Unwrap() error { return ErrExceedsOutstanding }

// CreditLimitError reports a credit sale that would push a customer over
// their limit.
type CreditLimitError struct {
	CustomerID  string
	Limit       decimal.Decimal
	Outstanding decimal.Decimal
	Amount      decimal.Decimal
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded: limit %s, outstanding %s, sale %s",
		e.Limit.StringFixed(2), e.Outstanding.StringFixed(2), e.Amount.StringFixed(2))
}

func (e *CreditLimitError) Unwrap() error { return ErrCreditLimitExceeded }

// NotFoundError names the missing record.
type NotFoundError struct {
	Collection Collection
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(coll Collection, id string) error {
	return &NotFoundError{Collection: coll, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflictRetry)
}

// IsPrecondition returns true if the request was rejected against current
// state and retrying it unchanged would fail again.
func IsPrecondition(err error) bool {
	switch KindOf(err) {
	case KindInsufficientStock, KindCapacityExceeded, KindInvalidReading,
		KindTankNotConfigured, KindSameAccount, KindExceedsOutstanding,
		KindShiftAlreadyOpen, KindShiftAlreadyClosed, KindInvalidAmount, KindInvalidInput,
		KindCreditLimitExceeded, KindDuplicateName, KindVoidNotAllowed:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Unavailable wraps a backend error as ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

// Conflict builds an ErrConflictRetry with context.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflictRetry, fmt.Sprintf(format, args...))
}
