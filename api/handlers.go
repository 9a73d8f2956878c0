/*
handlers.go - HTTP API handlers for the station engine

PURPOSE:
  Exposes the transaction processor, reconciliation, credit and setup
  operations over REST. Handlers decode and validate JSON, call exactly
  one domain operation and serialize its result.

ENDPOINTS:
  Transactions:
    POST   /api/sales                     Record a sale
    GET    /api/sales/{id}                Get a sale
    DELETE /api/sales/{id}                Void the nozzle's latest sale
    POST   /api/purchases                 Record a purchase
    PUT    /api/purchases/{id}            Correct a purchase
    DELETE /api/purchases/{id}            Delete a purchase
    POST   /api/expenses                  Record an expense
    PUT    /api/expenses/{id}             Correct an expense
    DELETE /api/expenses/{id}             Delete an expense
    POST   /api/transfers                 Head-to-head movement
    DELETE /api/transfers/{id}            Reverse a movement

  Inventory:
    GET    /api/tanks, /api/tanks/{id}, /api/tanks/low-stock
    GET    /api/nozzles, /api/nozzles/{id}
    GET    /api/fuel-types

  Accounts:
    GET    /api/account-heads             Heads with running balances
    POST   /api/account-heads             Create a head
    GET    /api/account-heads/{id}/balance
    DELETE /api/account-heads/{id}        Deactivate a head
    GET    /api/account-heads/audit       Replay every balance

  Customers:
    GET    /api/customers, POST /api/customers
    GET    /api/customers/aging
    GET    /api/customers/{id}/credit
    GET    /api/customers/{id}/payments, POST /api/customers/{id}/payments

  Shifts and reports:
    POST   /api/shifts                    Open a shift
    POST   /api/shifts/{id}/close         Close and reconcile
    GET    /api/shifts/{id}/reconciliation
    GET    /api/reports/daily-pl?date=YYYY-MM-DD
    GET    /api/reports/monthly-pl?year=YYYY&month=M
    GET    /api/reports/daily-sales?date=YYYY-MM-DD

ERROR HANDLING:
  Errors are returned as JSON with the engine's error kind:
  - 400: malformed body, validation errors, invalid amounts
  - 404: record not found
  - 409: ConflictRetry (safe to retry)
  - 422: precondition violations (stock, capacity, readings, shifts, credit)
  - 503: record store unavailable
  - 500: anything else

SECURITY NOTE:
  No authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: request/response types
  - scenarios.go: demo stations
  - server.go: router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/warp/station-engine/credit"
	"github.com/warp/station-engine/factory"
	"github.com/warp/station-engine/inventory"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/logging"
	"github.com/warp/station-engine/metrics"
	"github.com/warp/station-engine/processor"
	"github.com/warp/station-engine/reconcile"
	"github.com/warp/station-engine/station"
	"github.com/warp/station-engine/txn"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Runner    *txn.Runner
	Processor *processor.Processor
	Reconcile *reconcile.Engine
	Metrics   *metrics.Metrics
	Log       logrus.FieldLogger

	mu              sync.Mutex
	currentScenario string
}

// Options configures NewHandler.
type Options struct {
	Location *time.Location
	Now      func() time.Time
	Logger   logrus.FieldLogger
	Metrics  *metrics.Metrics
}

// NewHandler builds the domain components on top of runner.
func NewHandler(runner *txn.Runner, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Handler{
		Runner: runner,
		Processor: processor.New(runner, processor.Config{
			Now:    opts.Now,
			Logger: opts.Logger,
		}),
		Reconcile: reconcile.New(runner, reconcile.Config{
			Location: opts.Location,
			Now:      opts.Now,
			Logger:   opts.Logger,
		}),
		Metrics: opts.Metrics,
		Log:     opts.Logger,
	}
}

func (h *Handler) inventory() *inventory.Tracker { return h.Processor.Inventory() }
func (h *Handler) ledger() *ledger.Ledger        { return h.Processor.Ledger() }
func (h *Handler) credit() *credit.Manager       { return h.Processor.Credit() }

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthDTO{Status: "ok", Transactional: h.Runner.Transactional()})
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// RecordSale records a fuel sale.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decode(w, r, &req) {
		return
	}
	sale, err := h.Processor.RecordSale(r.Context(), processor.SaleRequest{
		NozzleID:       req.NozzleID,
		Quantity:       req.Quantity,
		OpeningReading: req.OpeningReading,
		ClosingReading: req.ClosingReading,
		UnitPrice:      req.UnitPrice,
		AccountHeadID:  req.AccountHeadID,
		PaymentMethod:  station.PaymentMethod(req.PaymentMethod),
		CustomerID:     req.CustomerID,
		ShiftID:        req.ShiftID,
		OperatorID:     req.OperatorID,
		Timestamp:      timeOrZero(req.Timestamp),
	})
	if err != nil {
		writeDomainError(w, "Failed to record sale", err)
		return
	}
	writeJSON(w, http.StatusCreated, sale)
}

func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Processor.Sale(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get sale", err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// VoidSale removes a sale and reverses its effects.
func (h *Handler) VoidSale(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.VoidSale(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to void sale", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

func (req PurchaseRequest) toDomain() processor.PurchaseRequest {
	return processor.PurchaseRequest{
		TankID:        req.TankID,
		Quantity:      req.Quantity,
		UnitCost:      req.UnitCost,
		AccountHeadID: req.AccountHeadID,
		SupplierName:  req.SupplierName,
		InvoiceNumber: req.InvoiceNumber,
		Timestamp:     timeOrZero(req.Timestamp),
	}
}

func (h *Handler) RecordPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	purchase, err := h.Processor.RecordPurchase(r.Context(), req.toDomain())
	if err != nil {
		writeDomainError(w, "Failed to record purchase", err)
		return
	}
	writeJSON(w, http.StatusCreated, purchase)
}

func (h *Handler) GetPurchase(w http.ResponseWriter, r *http.Request) {
	purchase, err := h.Processor.Purchase(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (h *Handler) CorrectPurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decode(w, r, &req) {
		return
	}
	purchase, err := h.Processor.CorrectPurchase(r.Context(), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		writeDomainError(w, "Failed to correct purchase", err)
		return
	}
	writeJSON(w, http.StatusOK, purchase)
}

func (h *Handler) DeletePurchase(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.DeletePurchase(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete purchase", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// EXPENSE AND TRANSFER HANDLERS
// =============================================================================

func (req ExpenseRequest) toDomain() processor.ExpenseRequest {
	return processor.ExpenseRequest{
		Amount:        req.Amount,
		AccountHeadID: req.AccountHeadID,
		Category:      req.Category,
		Description:   req.Description,
		Timestamp:     timeOrZero(req.Timestamp),
	}
}

func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	expense, err := h.Processor.RecordExpense(r.Context(), req.toDomain())
	if err != nil {
		writeDomainError(w, "Failed to record expense", err)
		return
	}
	writeJSON(w, http.StatusCreated, expense)
}

func (h *Handler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.Processor.Expense(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get expense", err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (h *Handler) CorrectExpense(w http.ResponseWriter, r *http.Request) {
	var req ExpenseRequest
	if !decode(w, r, &req) {
		return
	}
	expense, err := h.Processor.CorrectExpense(r.Context(), chi.URLParam(r, "id"), req.toDomain())
	if err != nil {
		writeDomainError(w, "Failed to correct expense", err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (h *Handler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete expense", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) RecordTransfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decode(w, r, &req) {
		return
	}
	movement, err := h.Processor.RecordTransfer(r.Context(), processor.TransferRequest{
		FromAccountHeadID: req.FromAccountHeadID,
		ToAccountHeadID:   req.ToAccountHeadID,
		Amount:            req.Amount,
		Description:       req.Description,
		Timestamp:         timeOrZero(req.Timestamp),
	})
	if err != nil {
		writeDomainError(w, "Failed to record transfer", err)
		return
	}
	writeJSON(w, http.StatusCreated, movement)
}

func (h *Handler) DeleteTransfer(w http.ResponseWriter, r *http.Request) {
	if err := h.Processor.DeleteTransfer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to delete transfer", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

func (h *Handler) ListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := station.Collect(h.inventory().Tanks(r.Context()))
	if err != nil {
		writeDomainError(w, "Failed to list tanks", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tanks))
}

func (h *Handler) GetTank(w http.ResponseWriter, r *http.Request) {
	tank, err := h.inventory().Tank(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get tank", err)
		return
	}
	writeJSON(w, http.StatusOK, tank)
}

// LowStock lists tanks under their minimum stock.
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	lines, err := station.Collect(h.inventory().LowStockReport(r.Context()))
	if err != nil {
		writeDomainError(w, "Failed to build low-stock report", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(lines))
}

func (h *Handler) ListNozzles(w http.ResponseWriter, r *http.Request) {
	nozzles, err := station.Collect(h.inventory().Nozzles(r.Context()))
	if err != nil {
		writeDomainError(w, "Failed to list nozzles", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(nozzles))
}

func (h *Handler) GetNozzle(w http.ResponseWriter, r *http.Request) {
	nozzle, err := h.inventory().Nozzle(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get nozzle", err)
		return
	}
	writeJSON(w, http.StatusOK, nozzle)
}

func (h *Handler) ListFuelTypes(w http.ResponseWriter, r *http.Request) {
	fuels, err := station.Collect(station.Select[station.FuelType](r.Context(), h.Runner.Store(), station.FuelTypes))
	if err != nil {
		writeDomainError(w, "Failed to list fuel types", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(fuels))
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccountHeads returns every head with its running balance.
func (h *Handler) ListAccountHeads(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := []BalanceDTO{}
	for head, err := range h.ledger().Heads(ctx) {
		if err != nil {
			writeDomainError(w, "Failed to list account heads", err)
			return
		}
		rec, err := h.ledger().Peek(ctx, head)
		if err != nil {
			writeDomainError(w, "Failed to read balance", err)
			return
		}
		out = append(out, BalanceDTO{
			AccountHeadID: head.ID,
			Name:          head.Name,
			Type:          head.Type,
			Active:        head.Active,
			Balance:       rec.Balance,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) CreateAccountHead(w http.ResponseWriter, r *http.Request) {
	var req AccountHeadRequest
	if !decode(w, r, &req) {
		return
	}
	head, err := h.ledger().CreateHead(r.Context(), station.AccountHead{
		ID:             req.ID,
		Name:           req.Name,
		Type:           station.AccountType(req.Type),
		OpeningBalance: req.OpeningBalance,
		Description:    req.Description,
	})
	if err != nil {
		writeDomainError(w, "Failed to create account head", err)
		return
	}
	writeJSON(w, http.StatusCreated, head)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	head, err := h.ledger().Head(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	rec, err := h.ledger().Peek(r.Context(), head)
	if err != nil {
		writeDomainError(w, "Failed to get balance", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DeactivateAccountHead(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger().DeactivateHead(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, "Failed to deactivate account head", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AuditBalances replays every head and reports drift.
func (h *Handler) AuditBalances(w http.ResponseWriter, r *http.Request) {
	report, err := h.ledger().Verify(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to verify balances", err)
		return
	}
	if report.Drifts == nil {
		report.Drifts = []ledger.Drift{}
	}
	writeJSON(w, http.StatusOK, report)
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := station.Collect(station.Select[station.Customer](r.Context(), h.Runner.Store(), station.Customers))
	if err != nil {
		writeDomainError(w, "Failed to list customers", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(customers))
}

func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.credit().AddCustomer(r.Context(), station.Customer{
		ID:          req.ID,
		Name:        req.Name,
		Phone:       req.Phone,
		CreditLimit: req.CreditLimit,
	})
	if err != nil {
		writeDomainError(w, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (h *Handler) CreditStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.credit().CreditStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to get credit status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) AgingReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.credit().AgingReport(r.Context())
	if err != nil {
		writeDomainError(w, "Failed to build aging report", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(report))
}

func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if !decode(w, r, &req) {
		return
	}
	payment, err := h.credit().RecordPayment(r.Context(), credit.PaymentRequest{
		CustomerID:    chi.URLParam(r, "id"),
		Amount:        req.Amount,
		PaymentMethod: station.PaymentMethod(req.PaymentMethod),
		AccountHeadID: req.AccountHeadID,
		Reference:     req.Reference,
	})
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	payments, err := station.Collect(h.credit().Payments(r.Context(), chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to list payments", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(payments))
}

// =============================================================================
// SHIFT AND REPORT HANDLERS
// =============================================================================

func (h *Handler) OpenShift(w http.ResponseWriter, r *http.Request) {
	var req OpenShiftRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Reconcile.OpenShift(r.Context(), req.OperatorID, req.OpeningCash)
	if err != nil {
		writeDomainError(w, "Failed to open shift", err)
		return
	}
	writeJSON(w, http.StatusCreated, ShiftOpenedDTO{ShiftID: id})
}

func (h *Handler) CloseShift(w http.ResponseWriter, r *http.Request) {
	var req CloseShiftRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Reconcile.CloseShift(r.Context(), chi.URLParam(r, "id"), req.ClosingCash)
	if err != nil {
		writeDomainError(w, "Failed to close shift", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) ShiftReconciliation(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Reconcile.ShiftReconciliation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, "Failed to read shift", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) DailyPL(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}
	pl, err := h.Reconcile.DailyPL(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to build daily P&L", err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) MonthlyPL(w http.ResponseWriter, r *http.Request) {
	year, yerr := strconv.Atoi(r.URL.Query().Get("year"))
	month, merr := strconv.Atoi(r.URL.Query().Get("month"))
	if yerr != nil || merr != nil {
		writeError(w, http.StatusBadRequest, "year and month are required", nil)
		return
	}
	pl, err := h.Reconcile.MonthlyPL(r.Context(), year, time.Month(month))
	if err != nil {
		writeDomainError(w, "Failed to build monthly P&L", err)
		return
	}
	writeJSON(w, http.StatusOK, pl)
}

func (h *Handler) DailySales(w http.ResponseWriter, r *http.Request) {
	date, ok := h.parseDate(w, r)
	if !ok {
		return
	}
	sum, err := h.Reconcile.DailySales(r.Context(), date)
	if err != nil {
		writeDomainError(w, "Failed to build sales summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// parseDate reads ?date=YYYY-MM-DD in the station's zone; missing means today.
func (h *Handler) parseDate(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("date")
	if raw == "" {
		return h.Reconcile.Now().In(h.Reconcile.Location()), true
	}
	date, err := time.ParseInLocation("2006-01-02", raw, h.Reconcile.Location())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return time.Time{}, false
	}
	return date, true
}

// =============================================================================
// SETUP HANDLERS
// =============================================================================

// ExportSetup returns the station configuration as YAML.
func (h *Handler) ExportSetup(w http.ResponseWriter, r *http.Request) {
	setup, err := factory.Export(r.Context(), h.Runner.Store(), h.scenario())
	if err != nil {
		writeDomainError(w, "Failed to export setup", err)
		return
	}
	out, err := factory.Marshal(setup)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to encode setup", err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

const maxSetupBytes = 1 << 20

// ImportSetup seeds the store from a YAML or JSON setup body.
func (h *Handler) ImportSetup(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSetupBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	setup, err := factory.Parse(body)
	if err != nil {
		writeDomainError(w, "Invalid station setup", err)
		return
	}
	sum, err := factory.Seed(r.Context(), h.Runner, setup)
	if err != nil {
		writeDomainError(w, "Failed to seed station", err)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an engine error kind to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	kind := station.KindOf(err)
	writeJSON(w, statusOf(err), ErrorResponse{Error: message, Kind: kind, Details: err.Error()})
}

func statusOf(err error) int {
	switch kind := station.KindOf(err); {
	case kind == station.KindNotFound:
		return http.StatusNotFound
	case kind == station.KindConflictRetry:
		return http.StatusConflict
	case kind == station.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case kind == station.KindInvalidInput, kind == station.KindInvalidAmount:
		return http.StatusBadRequest
	case station.IsPrecondition(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decode reads and validates a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:  "Validation failed",
			Kind:   station.KindInvalidInput,
			Fields: validationFields(err),
		})
		return false
	}
	return true
}

func timeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// nonNil keeps empty lists as [] in JSON.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
