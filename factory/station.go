/*
Package factory converts station setup files into stored records.

PURPOSE:
  A station is configured once with its fuel types, tanks, nozzles,
  account heads and credit customers. The setup file lets an operator
  describe the forecourt without code changes; the factory validates it
  and seeds the store through the inventory, ledger and credit components.

FILE FORMAT (YAML; JSON is accepted as well):
  name: Main Street
  fuel_types:
    - id: petrol
      name: Petrol
      unit_price: 250
      tax_percentage: 10     # optional, defaults to 10
  tanks:
    - id: tank-petrol-1
      name: Petrol Tank 1
      fuel_type: petrol
      capacity: 10000
      current_stock: 5000
      minimum_stock: 1000
  nozzles:
    - id: nozzle-1
      machine_id: M1
      nozzle_number: 1
      fuel_type: petrol
      tank: tank-petrol-1    # optional
      reading: 1000          # meter at installation
  account_heads:
    - id: cash
      name: Cash
      type: Asset
      opening_balance: 0
  customers:
    - id: acme
      name: ACME Logistics
      credit_limit: 50000

SEEDING:
  Seed runs as one unit of work: either the whole station is stored or
  nothing is. Fuel types and tanks need explicit ids because other entries
  refer to them; heads and customers get a generated id when none is given.

USAGE:
  setup, err := factory.Load("station.yaml")
  summary, err := factory.Seed(ctx, runner, setup)

SEE ALSO:
  - api/scenarios.go: preset setups for demos
*/
package factory

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/warp/station-engine/credit"
	"github.com/warp/station-engine/inventory"
	"github.com/warp/station-engine/ledger"
	"github.com/warp/station-engine/station"
	"github.com/warp/station-engine/txn"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// SETUP SCHEMA
// =============================================================================

// Setup is the file representation of a station.
type Setup struct {
	Name         string            `yaml:"name" json:"name"`
	FuelTypes    []FuelTypeSpec    `yaml:"fuel_types" json:"fuel_types"`
	Tanks        []TankSpec        `yaml:"tanks" json:"tanks"`
	Nozzles      []NozzleSpec      `yaml:"nozzles" json:"nozzles"`
	AccountHeads []AccountHeadSpec `yaml:"account_heads" json:"account_heads"`
	Customers    []CustomerSpec    `yaml:"customers,omitempty" json:"customers,omitempty"`
}

type FuelTypeSpec struct {
	ID            string           `yaml:"id" json:"id"`
	Name          string           `yaml:"name" json:"name"`
	UnitPrice     decimal.Decimal  `yaml:"unit_price" json:"unit_price"`
	TaxPercentage *decimal.Decimal `yaml:"tax_percentage,omitempty" json:"tax_percentage,omitempty"`
}

type TankSpec struct {
	ID           string          `yaml:"id" json:"id"`
	Name         string          `yaml:"name" json:"name"`
	FuelType     string          `yaml:"fuel_type" json:"fuel_type"`
	Capacity     decimal.Decimal `yaml:"capacity" json:"capacity"`
	CurrentStock decimal.Decimal `yaml:"current_stock" json:"current_stock"`
	MinimumStock decimal.Decimal `yaml:"minimum_stock" json:"minimum_stock"`
	Location     string          `yaml:"location,omitempty" json:"location,omitempty"`
}

type NozzleSpec struct {
	ID           string          `yaml:"id" json:"id"`
	MachineID    string          `yaml:"machine_id" json:"machine_id"`
	NozzleNumber int             `yaml:"nozzle_number" json:"nozzle_number"`
	FuelType     string          `yaml:"fuel_type" json:"fuel_type"`
	Tank         string          `yaml:"tank,omitempty" json:"tank,omitempty"`
	Reading      decimal.Decimal `yaml:"reading" json:"reading"`
}

type AccountHeadSpec struct {
	ID             string              `yaml:"id,omitempty" json:"id,omitempty"`
	Name           string              `yaml:"name" json:"name"`
	Type           station.AccountType `yaml:"type" json:"type"`
	OpeningBalance decimal.Decimal     `yaml:"opening_balance" json:"opening_balance"`
	Description    string              `yaml:"description,omitempty" json:"description,omitempty"`
}

type CustomerSpec struct {
	ID          string          `yaml:"id,omitempty" json:"id,omitempty"`
	Name        string          `yaml:"name" json:"name"`
	Phone       string          `yaml:"phone,omitempty" json:"phone,omitempty"`
	CreditLimit decimal.Decimal `yaml:"credit_limit" json:"credit_limit"`
}

// =============================================================================
// PARSING
// =============================================================================

// Parse decodes a YAML or JSON setup and validates it.
func Parse(data []byte) (Setup, error) {
	var s Setup
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Setup{}, fmt.Errorf("failed to parse station setup: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Setup{}, err
	}
	return s, nil
}

// Load reads and parses a setup file.
func Load(path string) (Setup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Setup{}, fmt.Errorf("failed to read station setup: %w", err)
	}
	return Parse(data)
}

// Marshal encodes a setup as YAML.
func Marshal(s Setup) ([]byte, error) {
	return yaml.Marshal(s)
}

// Validate checks ids and references between entries.
func (s Setup) Validate() error {
	fuels := map[string]bool{}
	for _, ft := range s.FuelTypes {
		if ft.ID == "" {
			return fmt.Errorf("%w: fuel type %q needs an id", station.ErrInvalidInput, ft.Name)
		}
		if fuels[ft.ID] {
			return fmt.Errorf("%w: duplicate fuel type %s", station.ErrInvalidInput, ft.ID)
		}
		fuels[ft.ID] = true
	}

	tanks := map[string]string{}
	for _, t := range s.Tanks {
		if t.ID == "" {
			return fmt.Errorf("%w: tank %q needs an id", station.ErrInvalidInput, t.Name)
		}
		if _, dup := tanks[t.ID]; dup {
			return fmt.Errorf("%w: duplicate tank %s", station.ErrInvalidInput, t.ID)
		}
		if !fuels[t.FuelType] {
			return fmt.Errorf("%w: tank %s references unknown fuel type %q", station.ErrInvalidInput, t.ID, t.FuelType)
		}
		tanks[t.ID] = t.FuelType
	}

	nozzles := map[string]bool{}
	for _, n := range s.Nozzles {
		if n.ID == "" {
			return fmt.Errorf("%w: nozzle %s/%d needs an id", station.ErrInvalidInput, n.MachineID, n.NozzleNumber)
		}
		if nozzles[n.ID] {
			return fmt.Errorf("%w: duplicate nozzle %s", station.ErrInvalidInput, n.ID)
		}
		nozzles[n.ID] = true
		if !fuels[n.FuelType] {
			return fmt.Errorf("%w: nozzle %s references unknown fuel type %q", station.ErrInvalidInput, n.ID, n.FuelType)
		}
		if n.Tank != "" && tanks[n.Tank] != n.FuelType {
			return fmt.Errorf("%w: nozzle %s tank %q does not hold %s", station.ErrInvalidInput, n.ID, n.Tank, n.FuelType)
		}
		if n.Reading.IsNegative() {
			return fmt.Errorf("%w: nozzle %s reading %s", station.ErrInvalidInput, n.ID, n.Reading)
		}
	}

	for _, h := range s.AccountHeads {
		if !h.Type.Valid() {
			return fmt.Errorf("%w: account head %q has type %q", station.ErrInvalidInput, h.Name, h.Type)
		}
	}
	return nil
}

// =============================================================================
// SEEDING
// =============================================================================

// Summary counts what Seed stored.
type Summary struct {
	Name         string   `json:"name"`
	FuelTypes    int      `json:"fuel_types"`
	Tanks        int      `json:"tanks"`
	Nozzles      int      `json:"nozzles"`
	AccountHeads []string `json:"account_heads"`
	Customers    []string `json:"customers"`
}

// Seed stores every entry of the setup in one unit of work.
func Seed(ctx context.Context, runner *txn.Runner, setup Setup) (Summary, error) {
	if err := setup.Validate(); err != nil {
		return Summary{}, err
	}
	cm := credit.New(runner, nil, nil)

	var sum Summary
	err := runner.Run(ctx, "setup", nil, func(ctx context.Context, s station.Store) error {
		sum = Summary{Name: setup.Name}
		inv := inventory.New(s, nil)
		led := ledger.New(s, nil)
		cust := cm.WithStore(s)

		for _, ft := range setup.FuelTypes {
			if err := inv.AddFuelType(ctx, toFuelType(ft)); err != nil {
				return fmt.Errorf("fuel type %s: %w", ft.ID, err)
			}
			sum.FuelTypes++
		}
		for _, t := range setup.Tanks {
			if err := inv.AddTank(ctx, toTank(t)); err != nil {
				return fmt.Errorf("tank %s: %w", t.ID, err)
			}
			sum.Tanks++
		}
		for _, n := range setup.Nozzles {
			if err := inv.AddNozzle(ctx, toNozzle(n)); err != nil {
				return fmt.Errorf("nozzle %s: %w", n.ID, err)
			}
			sum.Nozzles++
		}
		for _, h := range setup.AccountHeads {
			head, err := led.CreateHead(ctx, station.AccountHead{
				ID:             h.ID,
				Name:           h.Name,
				Type:           h.Type,
				OpeningBalance: h.OpeningBalance,
				Description:    h.Description,
			})
			if err != nil {
				return fmt.Errorf("account head %s: %w", h.Name, err)
			}
			sum.AccountHeads = append(sum.AccountHeads, head.ID)
		}
		for _, c := range setup.Customers {
			customer, err := cust.AddCustomer(ctx, station.Customer{
				ID:          c.ID,
				Name:        c.Name,
				Phone:       c.Phone,
				CreditLimit: c.CreditLimit,
			})
			if err != nil {
				return fmt.Errorf("customer %s: %w", c.Name, err)
			}
			sum.Customers = append(sum.Customers, customer.ID)
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func toFuelType(ft FuelTypeSpec) station.FuelType {
	tax := station.DefaultTaxPercentage
	if ft.TaxPercentage != nil {
		tax = *ft.TaxPercentage
	}
	return station.FuelType{
		ID:            ft.ID,
		Name:          ft.Name,
		UnitPrice:     ft.UnitPrice,
		TaxPercentage: tax,
		Active:        true,
	}
}

func toTank(t TankSpec) station.Tank {
	return station.Tank{
		ID:           t.ID,
		Name:         t.Name,
		FuelTypeID:   t.FuelType,
		Capacity:     t.Capacity,
		CurrentStock: t.CurrentStock,
		MinimumStock: t.MinimumStock,
		Location:     t.Location,
	}
}

func toNozzle(n NozzleSpec) station.Nozzle {
	return station.Nozzle{
		ID:             n.ID,
		MachineID:      n.MachineID,
		NozzleNumber:   n.NozzleNumber,
		FuelTypeID:     n.FuelType,
		TankID:         n.Tank,
		OpeningReading: n.Reading,
		ClosingReading: n.Reading,
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// Export reads the station's current configuration back into a Setup.
// Tank stock and nozzle meters are the live values.
func Export(ctx context.Context, s station.Store, name string) (Setup, error) {
	out := Setup{Name: name}
	for ft, err := range station.Select[station.FuelType](ctx, s, station.FuelTypes) {
		if err != nil {
			return Setup{}, err
		}
		tax := ft.TaxPercentage
		out.FuelTypes = append(out.FuelTypes, FuelTypeSpec{
			ID: ft.ID, Name: ft.Name, UnitPrice: ft.UnitPrice, TaxPercentage: &tax,
		})
	}
	for t, err := range station.Select[station.Tank](ctx, s, station.Tanks) {
		if err != nil {
			return Setup{}, err
		}
		out.Tanks = append(out.Tanks, TankSpec{
			ID: t.ID, Name: t.Name, FuelType: t.FuelTypeID, Capacity: t.Capacity,
			CurrentStock: t.CurrentStock, MinimumStock: t.MinimumStock, Location: t.Location,
		})
	}
	for n, err := range station.Select[station.Nozzle](ctx, s, station.Nozzles) {
		if err != nil {
			return Setup{}, err
		}
		out.Nozzles = append(out.Nozzles, NozzleSpec{
			ID: n.ID, MachineID: n.MachineID, NozzleNumber: n.NozzleNumber,
			FuelType: n.FuelTypeID, Tank: n.TankID, Reading: n.Reading(),
		})
	}
	for h, err := range station.Select[station.AccountHead](ctx, s, station.AccountHeads, station.Eq("active", true)) {
		if err != nil {
			return Setup{}, err
		}
		out.AccountHeads = append(out.AccountHeads, AccountHeadSpec{
			ID: h.ID, Name: h.Name, Type: h.Type, OpeningBalance: h.OpeningBalance, Description: h.Description,
		})
	}
	for c, err := range station.Select[station.Customer](ctx, s, station.Customers, station.Eq("active", true)) {
		if err != nil {
			return Setup{}, err
		}
		out.Customers = append(out.Customers, CustomerSpec{
			ID: c.ID, Name: c.Name, Phone: c.Phone, CreditLimit: c.CreditLimit,
		})
	}
	return out, nil
}
