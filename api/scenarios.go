/*
scenarios.go - Demo stations for testing and demonstrations

PURPOSE:

	Provides pre-built stations that populate the store with a realistic
	forecourt. Each scenario is a station setup (see factory) plus an
	optional day of activity recorded through the processor, so balances,
	stock and meters are built the same way production traffic builds them.

AVAILABLE SCENARIOS:

	single-tank:  one petrol tank, one nozzle, a cash head
	multi-fuel:   petrol, diesel and hi-octane with credit customers
	busy-day:     multi-fuel plus an open shift, sales, a delivery,
	              an expense and a bank deposit

HOW SCENARIOS WORK:
 1. Reset the store (delete every record in every collection)
 2. Seed the setup through factory.Seed
 3. Optionally record activity through the processor

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "busy-day"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - factory/station.go: setup format
*/
package api

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/credit"
	"github.com/warp/station-engine/factory"
	"github.com/warp/station-engine/processor"
	"github.com/warp/station-engine/station"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "single-tank",
		Name:        "Single Tank",
		Description: "One petrol tank feeding one nozzle, cash sales only",
	},
	{
		ID:          "multi-fuel",
		Name:        "Multi-Fuel Forecourt",
		Description: "Petrol, diesel and hi-octane tanks, cash and bank heads, two credit customers",
	},
	{
		ID:          "busy-day",
		Name:        "Busy Day",
		Description: "Multi-fuel forecourt after a day of sales, a delivery, an expense and a bank deposit",
	},
}

const singleTankYAML = `
name: Single Tank
fuel_types:
  - id: petrol
    name: Petrol
    unit_price: 250
tanks:
  - id: tank-petrol
    name: Petrol Tank
    fuel_type: petrol
    capacity: 10000
    current_stock: 5000
    minimum_stock: 1000
nozzles:
  - id: nozzle-1
    machine_id: M1
    nozzle_number: 1
    fuel_type: petrol
    tank: tank-petrol
    reading: 1000
account_heads:
  - id: cash
    name: Cash
    type: Asset
    opening_balance: 0
`

const multiFuelYAML = `
name: Multi-Fuel Forecourt
fuel_types:
  - id: petrol
    name: Petrol
    unit_price: 250
  - id: diesel
    name: Diesel
    unit_price: 270
  - id: hi-octane
    name: Hi-Octane
    unit_price: 300
    tax_percentage: 12
tanks:
  - id: tank-petrol
    name: Petrol Tank
    fuel_type: petrol
    capacity: 20000
    current_stock: 12000
    minimum_stock: 2000
  - id: tank-diesel
    name: Diesel Tank
    fuel_type: diesel
    capacity: 20000
    current_stock: 3000
    minimum_stock: 4000
  - id: tank-hi-octane
    name: Hi-Octane Tank
    fuel_type: hi-octane
    capacity: 8000
    current_stock: 2500
    minimum_stock: 1000
nozzles:
  - {id: nozzle-1, machine_id: M1, nozzle_number: 1, fuel_type: petrol, tank: tank-petrol, reading: 10500}
  - {id: nozzle-2, machine_id: M1, nozzle_number: 2, fuel_type: diesel, tank: tank-diesel, reading: 8200}
  - {id: nozzle-3, machine_id: M2, nozzle_number: 1, fuel_type: petrol, reading: 4300}
  - {id: nozzle-4, machine_id: M2, nozzle_number: 2, fuel_type: hi-octane, tank: tank-hi-octane, reading: 900}
account_heads:
  - {id: cash, name: Cash, type: Asset, opening_balance: 50000}
  - {id: bank, name: Bank, type: Asset, opening_balance: 250000}
  - {id: digital, name: Digital Wallets, type: Asset, opening_balance: 0}
  - {id: fuel-sales, name: Fuel Sales, type: Income, opening_balance: 0}
  - {id: utilities, name: Utilities, type: Expense, opening_balance: 0}
customers:
  - {id: acme, name: ACME Logistics, phone: "0300-1234567", credit_limit: 100000}
  - {id: city-cabs, name: City Cabs, credit_limit: 25000}
`

func scenarioSetup(id string) (string, bool) {
	switch id {
	case "single-tank":
		return singleTankYAML, true
	case "multi-fuel", "busy-day":
		return multiFuelYAML, true
	}
	return "", false
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.scenario()
	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current, Description: "Currently loaded scenario"})
}

// LoadScenario resets the store and loads a predefined station.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decode(w, r, &req) {
		return
	}
	setupYAML, ok := scenarioSetup(req.ScenarioID)
	if !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	ctx := r.Context()
	if err := h.reset(ctx); err != nil {
		writeDomainError(w, "Failed to reset store", err)
		return
	}

	setup, err := factory.Parse([]byte(setupYAML))
	if err == nil {
		_, err = factory.Seed(ctx, h.Runner, setup)
	}
	if err == nil && req.ScenarioID == "busy-day" {
		err = h.recordBusyDay(ctx)
	}
	if err != nil {
		writeDomainError(w, "Failed to load scenario", err)
		return
	}

	h.setScenario(req.ScenarioID)
	h.Log.WithField("scenario", req.ScenarioID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// ResetDatabase deletes every record.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context()); err != nil {
		writeDomainError(w, "Failed to reset store", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) recordBusyDay(ctx context.Context) error {
	p := h.Processor
	shiftID, err := h.Reconcile.OpenShift(ctx, "operator-1", decimal.NewFromInt(5000))
	if err != nil {
		return err
	}

	sales := []processor.SaleRequest{
		{NozzleID: "nozzle-1", Quantity: decimal.NewFromInt(40), AccountHeadID: "cash"},
		{NozzleID: "nozzle-2", Quantity: decimal.NewFromInt(120), AccountHeadID: "cash"},
		{NozzleID: "nozzle-3", Quantity: decimal.NewFromInt(25), AccountHeadID: "digital", PaymentMethod: station.PaymentEasyPaisa},
		{NozzleID: "nozzle-4", Quantity: decimal.NewFromInt(15), AccountHeadID: "cash"},
		{NozzleID: "nozzle-2", Quantity: decimal.NewFromInt(200), AccountHeadID: "fuel-sales",
			PaymentMethod: station.PaymentCredit, CustomerID: "acme"},
		{NozzleID: "nozzle-1", Quantity: decimal.NewFromInt(30), AccountHeadID: "cash"},
	}
	for _, s := range sales {
		s.ShiftID = shiftID
		s.OperatorID = "operator-1"
		if _, err := p.RecordSale(ctx, s); err != nil {
			return err
		}
	}

	if _, err := p.RecordPurchase(ctx, processor.PurchaseRequest{
		TankID:        "tank-diesel",
		Quantity:      decimal.NewFromInt(6000),
		UnitCost:      decimal.NewFromInt(240),
		AccountHeadID: "bank",
		SupplierName:  "National Oil",
		InvoiceNumber: "INV-1001",
	}); err != nil {
		return err
	}
	if _, err := p.RecordExpense(ctx, processor.ExpenseRequest{
		Amount:        decimal.NewFromInt(3500),
		AccountHeadID: "cash",
		Category:      "utilities",
		Description:   "Generator diesel and electricity",
	}); err != nil {
		return err
	}
	if _, err := p.RecordTransfer(ctx, processor.TransferRequest{
		FromAccountHeadID: "cash",
		ToAccountHeadID:   "bank",
		Amount:            decimal.NewFromInt(20000),
		Description:       "Evening deposit",
	}); err != nil {
		return err
	}
	_, err = p.Credit().RecordPayment(ctx, credit.PaymentRequest{
		CustomerID:    "acme",
		Amount:        decimal.NewFromInt(30000),
		PaymentMethod: station.PaymentBank,
		AccountHeadID: "bank",
		Reference:     "CHQ-2291",
	})
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

// reset deletes every record in every collection.
func (h *Handler) reset(ctx context.Context) error {
	store := h.Runner.Store()
	for _, coll := range station.AllCollections {
		docs, err := station.Collect(store.Query(ctx, coll))
		if err != nil {
			return err
		}
		for _, doc := range docs {
			id, _ := doc["id"].(string)
			if id == "" {
				id, _ = doc["account_head_id"].(string)
			}
			if err := store.Delete(ctx, coll, id); err != nil && !station.IsNotFound(err) {
				return err
			}
		}
	}
	h.setScenario("")
	return nil
}

func (h *Handler) scenario() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentScenario
}

func (h *Handler) setScenario(id string) {
	h.mu.Lock()
	h.currentScenario = id
	h.mu.Unlock()
}
