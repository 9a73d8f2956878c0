/*
store.go - Record store contract

PURPOSE:
  Defines the interface between the engine and whatever persists its
  records. The engine never touches a database directly; it is handed a
  Store at construction time.

KEY INTERFACES:
  Store:   get / create / put / update / delete / query over named collections
  TxStore: Store plus WithTx for all-or-nothing multi-key updates

OPTIMISTIC CONCURRENCY:
  Every stored document carries an integer "_version" managed by the store.
  Put and Update return the new version. Update with ifVersion > 0 is a
  compare-and-swap: it fails with ErrConflictRetry when the stored version
  differs. Components always read, check, then Update with the version
  they read, so a lost race is a retry, never a silent overwrite.

QUERIES:
  Query returns an iter.Seq2 that is lazy and restartable: ranging over it
  twice runs the query twice. Results are ordered by id.

IMPLEMENTATIONS:
  - station/store/memory.go: in-memory, optional JSON file (TxMemory adds WithTx)
  - store/sqlite/sqlite.go: SQLite documents table
  - store/mongodb/mongodb.go: MongoDB
  - store/breaker/breaker.go: circuit breaker decorator for any Store

SEE ALSO:
  - codec.go: typed records <-> Document
  - txn/runner.go: unit of work over Store / TxStore
*/
package station

import (
	"context"
	"iter"
	"strconv"
)

// Collection names a set of records.
type Collection string

const (
	AccountHeads        Collection = "account_heads"
	AccountBalances     Collection = "account_balances"
	FuelTypes           Collection = "fuel_types"
	Tanks               Collection = "tanks"
	Nozzles             Collection = "nozzles"
	Sales               Collection = "sales"
	Purchases           Collection = "purchases"
	Expenses            Collection = "expenses"
	HeadToHeadMovements Collection = "head_to_head_movements"
	Shifts              Collection = "shifts"
	Customers           Collection = "customers"
	Payments            Collection = "payments"
)

// AllCollections lists every collection the engine uses.
var AllCollections = []Collection{
	AccountHeads, AccountBalances, FuelTypes, Tanks, Nozzles, Sales,
	Purchases, Expenses, HeadToHeadMovements, Shifts, Customers, Payments,
}

// VersionField is the store-managed optimistic concurrency field.
const VersionField = "_version"

// Document is the store-level representation of a record.
type Document map[string]any

// Version returns the document's _version, or 0 if absent.
func (d Document) Version() int64 {
	switch v := d[VersionField].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case interface{ Int64() (int64, error) }:
		n, _ := v.Int64()
		return n
	}
	return 0
}

// Clone returns a shallow copy. Record fields are scalars, so a shallow
// copy is independent of the original.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	// Get returns the document or an error wrapping ErrNotFound.
	Get(ctx context.Context, coll Collection, id string) (Document, error)

	// Create stores a new document at version 1. It fails with
	// ErrConflictRetry when the id already exists.
	Create(ctx context.Context, coll Collection, id string, doc Document) (int64, error)

	// Put creates or replaces the document and returns its new version.
	Put(ctx context.Context, coll Collection, id string, doc Document) (int64, error)

	// Update merges partial into the stored document. When ifVersion > 0
	// the update only applies if the stored version equals it.
	Update(ctx context.Context, coll Collection, id string, partial Document, ifVersion int64) (int64, error)

	// Delete removes the document. Deleting a missing document wraps ErrNotFound.
	Delete(ctx context.Context, coll Collection, id string) error

	// Query streams documents matching all filters, ordered by id.
	Query(ctx context.Context, coll Collection, filters ...Filter) iter.Seq2[Document, error]
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the passed Store is
	// rolled back. If fn returns nil, the writes are committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// TYPED HELPERS
// =============================================================================

// Load reads and decodes one record.
func Load[T any](ctx context.Context, s Store, coll Collection, id string) (T, error) {
	var out T
	doc, err := s.Get(ctx, coll, id)
	if err != nil {
		return out, err
	}
	err = Decode(doc, &out)
	return out, err
}

// Save encodes and puts one record.
func Save(ctx context.Context, s Store, coll Collection, id string, record any) (int64, error) {
	doc, err := Encode(record)
	if err != nil {
		return 0, err
	}
	delete(doc, VersionField)
	return s.Put(ctx, coll, id, doc)
}

// Insert encodes and creates one record.
func Insert(ctx context.Context, s Store, coll Collection, id string, record any) (int64, error) {
	doc, err := Encode(record)
	if err != nil {
		return 0, err
	}
	delete(doc, VersionField)
	return s.Create(ctx, coll, id, doc)
}

// Select decodes every record matching filters.
func Select[T any](ctx context.Context, s Store, coll Collection, filters ...Filter) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for doc, err := range s.Query(ctx, coll, filters...) {
			var rec T
			if err == nil {
				err = Decode(doc, &rec)
			}
			if !yield(rec, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains a sequence into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var out []T
	for v, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
