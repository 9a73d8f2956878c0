package txn

import (
	"context"
	"errors"
	"iter"

	"github.com/warp/station-engine/station"
)

// journal is a station.Store that remembers the state of every document
// before its first write in the unit, so the unit can be undone on stores
// without transactions. Undo is correct only while the unit's locks are
// held, which Runner guarantees.
type journal struct {
	inner station.Store
	seen  map[docKey]bool
	undo  []undoEntry
}

type docKey struct {
	coll station.Collection
	id   string
}

type undoEntry struct {
	key  docKey
	prev station.Document // nil: the document did not exist
}

func newJournal(inner station.Store) *journal {
	return &journal{inner: inner, seen: make(map[docKey]bool)}
}

func (j *journal) remember(ctx context.Context, coll station.Collection, id string) error {
	k := docKey{coll: coll, id: id}
	if j.seen[k] {
		return nil
	}
	prev, err := j.inner.Get(ctx, coll, id)
	if err != nil && !station.IsNotFound(err) {
		return err
	}
	j.seen[k] = true
	j.undo = append(j.undo, undoEntry{key: k, prev: prev})
	return nil
}

func (j *journal) Get(ctx context.Context, coll station.Collection, id string) (station.Document, error) {
	return j.inner.Get(ctx, coll, id)
}

func (j *journal) Create(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	if err := j.remember(ctx, coll, id); err != nil {
		return 0, err
	}
	return j.inner.Create(ctx, coll, id, doc)
}

func (j *journal) Put(ctx context.Context, coll station.Collection, id string, doc station.Document) (int64, error) {
	if err := j.remember(ctx, coll, id); err != nil {
		return 0, err
	}
	return j.inner.Put(ctx, coll, id, doc)
}

func (j *journal) Update(ctx context.Context, coll station.Collection, id string, partial station.Document, ifVersion int64) (int64, error) {
	if err := j.remember(ctx, coll, id); err != nil {
		return 0, err
	}
	return j.inner.Update(ctx, coll, id, partial, ifVersion)
}

func (j *journal) Delete(ctx context.Context, coll station.Collection, id string) error {
	if err := j.remember(ctx, coll, id); err != nil {
		return err
	}
	return j.inner.Delete(ctx, coll, id)
}

func (j *journal) Query(ctx context.Context, coll station.Collection, filters ...station.Filter) iter.Seq2[station.Document, error] {
	return j.inner.Query(ctx, coll, filters...)
}

// rollback restores remembered documents newest first and keeps going past
// failures so as much as possible is restored. A restored document gets a
// fresh version rather than its old one: a CAS still holding the pre-unit
// version fails once with ErrConflictRetry and re-reads.
func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		e := j.undo[i]
		if e.prev == nil {
			err := j.inner.Delete(ctx, e.key.coll, e.key.id)
			if err != nil && !station.IsNotFound(err) {
				errs = append(errs, err)
			}
			continue
		}
		doc := e.prev.Clone()
		delete(doc, station.VersionField)
		if _, err := j.inner.Put(ctx, e.key.coll, e.key.id, doc); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	return errors.Join(errs...)
}
